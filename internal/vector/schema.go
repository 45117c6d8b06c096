package vector

import (
	"context"

	"github.com/weaviate/weaviate/entities/models"
)

// DefaultClass is the collection every chunk record is written to.
const DefaultClass = "DocumentChunk"

// SchemaClient defines the interface for Weaviate schema operations
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

// Properties lists the chunk record fields. Vectors are supplied by the
// worker, so the class has no vectorizer.
func Properties() []*models.Property {
	return []*models.Property{
		{
			Name:     "recordId",
			DataType: []string{"string"}, // <namespace>::<sourceId>::chunk::<n> (exact match)
		},
		{
			Name:     "namespace",
			DataType: []string{"string"},
		},
		{
			Name:     "sourceId",
			DataType: []string{"string"},
		},
		{
			Name:     "chunkIndex",
			DataType: []string{"int"},
		},
		{
			Name:     "content",
			DataType: []string{"text"},
		},
		{
			Name:     "metadata",
			DataType: []string{"text"}, // sanitized metadata as a JSON object
		},
	}
}

// EnsureSchema creates className if missing, otherwise adds any missing property.
func EnsureSchema(ctx context.Context, client SchemaClient, className string) error {
	if className == "" {
		className = DefaultClass
	}
	exists, err := client.ClassExists(ctx, className)
	if err != nil {
		return err
	}

	properties := Properties()

	if !exists {
		class := &models.Class{
			Class:       className,
			Description: "A chunk of a synchronized document",
			Vectorizer:  "none",
			Properties:  properties,
		}
		return client.CreateClass(ctx, class)
	}

	// Class exists, check for missing properties
	class, err := client.GetClass(ctx, className)
	if err != nil {
		return err
	}

	existingProps := make(map[string]bool)
	for _, p := range class.Properties {
		existingProps[p.Name] = true
	}

	for _, p := range properties {
		if !existingProps[p.Name] {
			if err := client.AddProperty(ctx, className, p); err != nil {
				return err
			}
		}
	}

	return nil
}
