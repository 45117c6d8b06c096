package config

const (
	// NamespaceDynamic prefixes record ids written by the stream consumer.
	NamespaceDynamic = "dynamic"

	// NamespaceStatic prefixes record ids written by the bulk loader.
	NamespaceStatic = "static"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"

	StoreWeaviate = "weaviate"
	StorePGVector = "pgvector"
)
