package weaviate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/kalinplus/WHUCS-Qwen3/internal/vector"
	"github.com/kalinplus/WHUCS-Qwen3/internal/worker"
)

// idNamespace seeds the name-based UUIDs derived from record ids.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("rag-sync/record"))

// ObjectID maps a record id onto the UUID Weaviate stores it under. The
// mapping is deterministic, so writing the same record id twice replaces it.
func ObjectID(recordID string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(idNamespace, []byte(recordID)).String())
}

type Store struct {
	client    *weaviate.Client
	className string
}

func NewStore(client *weaviate.Client, className string) *Store {
	if className == "" {
		className = vector.DefaultClass
	}
	return &Store{client: client, className: className}
}

// Upsert writes all records in one batch request. Weaviate replaces objects
// whose id already exists.
func (s *Store) Upsert(ctx context.Context, records []worker.IndexRecord) error {
	if len(records) == 0 {
		return nil
	}

	objects := make([]*models.Object, len(records))
	for i, r := range records {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("%w: encode metadata of %s: %v", worker.ErrIndex, r.ID, err)
		}
		objects[i] = &models.Object{
			Class: s.className,
			ID:    ObjectID(r.ID),
			Properties: map[string]interface{}{
				"recordId":   r.ID,
				"namespace":  r.Namespace,
				"sourceId":   r.SourceID,
				"chunkIndex": r.Ordinal,
				"content":    r.Text,
				"metadata":   string(meta),
			},
			Vector: r.Vector,
		}
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return fmt.Errorf("%w: weaviate batch: %v", worker.ErrIndex, err)
	}

	var failures []string
	for _, obj := range resp {
		if obj.Result == nil || obj.Result.Errors == nil {
			continue
		}
		for _, e := range obj.Result.Errors.Error {
			if e != nil {
				failures = append(failures, fmt.Sprintf("%s: %s", obj.ID, e.Message))
			}
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("%w: %d objects rejected: %s", worker.ErrIndex, len(failures), strings.Join(failures, "; "))
	}
	return nil
}

// Count returns the number of stored chunk records.
func (s *Store) Count(ctx context.Context) (int, error) {
	res, err := s.client.GraphQL().Aggregate().
		WithClassName(s.className).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	agg, ok := res.Data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	rows, ok := agg[s.className].([]interface{})
	if !ok || len(rows) == 0 {
		return 0, nil
	}
	row, _ := rows[0].(map[string]interface{})
	meta, _ := row["meta"].(map[string]interface{})
	count, _ := meta["count"].(float64)
	return int(count), nil
}
