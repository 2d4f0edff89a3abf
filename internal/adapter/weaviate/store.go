package weaviate

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"quarry/internal/knowledge"
)

// Store adapts the Weaviate client to the knowledge.Store interface. Each
// tenant collection is one Weaviate class; batch PUT semantics replace objects
// by id, which is what makes re-ingestion an overwrite.
type Store struct {
	client *weaviate.Client
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

func (s *Store) EnsureCollection(ctx context.Context, collection string) error {
	exists, err := s.client.Schema().ClassExistenceChecker().
		WithClassName(collection).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("check class %s: %w", collection, err)
	}
	if exists {
		return nil
	}

	err = s.client.Schema().ClassCreator().
		WithClass(knowledge.CollectionClass(collection)).
		Do(ctx)
	if err != nil {
		// Concurrent source tasks may race on first ingestion; the loser's
		// create fails on an already existing class and that is fine.
		if strings.Contains(err.Error(), "already exists") {
			return nil
		}
		return fmt.Errorf("create class %s: %w", collection, err)
	}
	return nil
}

func (s *Store) PutObjects(ctx context.Context, collection string, objects []knowledge.Object) error {
	if len(objects) == 0 {
		return nil
	}

	batch := make([]*models.Object, 0, len(objects))
	for _, o := range objects {
		batch = append(batch, &models.Object{
			ID:     strfmt.UUID(o.ID),
			Class:  collection,
			Vector: models.C11yVector(o.Vector),
			Properties: map[string]interface{}{
				"content":       o.Content,
				"sourceKind":    o.SourceKind,
				"origin":        o.Origin,
				"chunkIndex":    o.ChunkIndex,
				"contentLength": o.ContentLength,
			},
		})
	}

	res, err := s.client.Batch().ObjectsBatcher().
		WithObjects(batch...).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("batch put: %w", err)
	}
	for _, obj := range res {
		if obj.Result != nil && obj.Result.Errors != nil && len(obj.Result.Errors.Error) > 0 {
			return fmt.Errorf("batch put object %s: %s", obj.ID, obj.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

func (s *Store) DeleteByOrigin(ctx context.Context, collection, sourceKind, origin string) error {
	exists, err := s.client.Schema().ClassExistenceChecker().
		WithClassName(collection).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("check class %s: %w", collection, err)
	}
	if !exists {
		return nil
	}

	_, err = s.client.Batch().ObjectsBatchDeleter().
		WithClassName(collection).
		WithOutput("minimal").
		WithWhere(filters.Where().
			WithOperator(filters.And).
			WithOperands([]*filters.WhereBuilder{
				filters.Where().
					WithPath([]string{"sourceKind"}).
					WithOperator(filters.Equal).
					WithValueString(sourceKind),
				filters.Where().
					WithPath([]string{"origin"}).
					WithOperator(filters.Equal).
					WithValueString(origin),
			})).
		Do(ctx)
	return err
}

func (s *Store) Query(ctx context.Context, collection string, vector []float32, limit int) ([]knowledge.Hit, error) {
	exists, err := s.client.Schema().ClassExistenceChecker().
		WithClassName(collection).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("check class %s: %w", collection, err)
	}
	if !exists {
		return nil, nil
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "sourceKind"},
		{Name: "origin"},
		{Name: "chunkIndex"},
		{Name: "contentLength"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}

	res, err := s.client.GraphQL().Get().
		WithClassName(collection).
		WithNearVector(nearVector).
		WithLimit(limit).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors)
	}

	var hits []knowledge.Hit
	if data, ok := res.Data["Get"].(map[string]interface{}); ok {
		if rows, ok := data[collection].([]interface{}); ok {
			for _, row := range rows {
				props, ok := row.(map[string]interface{})
				if !ok {
					continue
				}
				hit := knowledge.Hit{Metadata: make(map[string]interface{})}
				if content, ok := props["content"].(string); ok {
					hit.Content = content
				}
				if kind, ok := props["sourceKind"].(string); ok {
					hit.Metadata["sourceKind"] = kind
				}
				if origin, ok := props["origin"].(string); ok {
					hit.Metadata["origin"] = origin
				}
				if idx, ok := props["chunkIndex"].(float64); ok {
					hit.Metadata["chunkIndex"] = int(idx)
				}
				if length, ok := props["contentLength"].(float64); ok {
					hit.Metadata["contentLength"] = int(length)
				}
				if additional, ok := props["_additional"].(map[string]interface{}); ok {
					if distance, ok := additional["distance"].(float64); ok {
						hit.Distance = float32(distance)
					}
				}
				hits = append(hits, hit)
			}
		}
	}
	return hits, nil
}

func (s *Store) DeleteCollection(ctx context.Context, collection string) error {
	exists, err := s.client.Schema().ClassExistenceChecker().
		WithClassName(collection).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("check class %s: %w", collection, err)
	}
	if !exists {
		return nil
	}
	return s.client.Schema().ClassDeleter().
		WithClassName(collection).
		Do(ctx)
}

func (s *Store) Count(ctx context.Context, collection string) (int64, error) {
	exists, err := s.client.Schema().ClassExistenceChecker().
		WithClassName(collection).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("check class %s: %w", collection, err)
	}
	if !exists {
		return 0, nil
	}

	res, err := s.client.GraphQL().Aggregate().
		WithClassName(collection).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %v", res.Errors)
	}

	if data, ok := res.Data["Aggregate"].(map[string]interface{}); ok {
		if rows, ok := data[collection].([]interface{}); ok && len(rows) > 0 {
			if props, ok := rows[0].(map[string]interface{}); ok {
				if meta, ok := props["meta"].(map[string]interface{}); ok {
					if count, ok := meta["count"].(float64); ok {
						return int64(count), nil
					}
				}
			}
		}
	}
	return 0, nil
}
