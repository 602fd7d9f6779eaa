// Package vecindex is the similarity index over page embeddings: Weaviate
// nearVector queries when configured, exact in-DB cosine scan otherwise.
// Only monotonic ranking is relied on, so the ANN path is acceptable.
package vecindex

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/pagecraft/sitegov_backend/config"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

const pageVectorClassName = "PageVector"

// Neighbor is one scored comparison candidate.
type Neighbor struct {
	PageId     int
	Similarity float64
}

// EnsureSchema creates the PageVector class if it does not exist. Vectors are
// supplied by the engine, so the vectorizer is "none".
func EnsureSchema(ctx context.Context) error {
	client := config.GetWeaviate()
	if client == nil {
		return nil
	}

	_, err := client.Schema().ClassGetter().WithClassName(pageVectorClassName).Do(ctx)
	if err == nil {
		return nil
	}

	indexFilterable := new(bool)
	*indexFilterable = true

	class := &models.Class{
		Class:      pageVectorClassName,
		Vectorizer: "none",
		Properties: []*models.Property{
			{
				Name:            "page_id",
				DataType:        []string{"int"},
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "site_id",
				DataType:        []string{"int"},
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "business_id",
				DataType:        []string{"text"},
				Tokenization:    "field",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "status",
				DataType:        []string{"text"},
				Tokenization:    "field",
				IndexFilterable: indexFilterable,
			},
		},
	}
	if err := client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("creating weaviate class: %w", err)
	}
	return nil
}

// pageObjectID is deterministic per page, so re-upserts replace rather than
// accumulate.
func pageObjectID(pageId int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("page-%d", pageId))).String()
}

// UpsertPageVector writes the page's embedding to the index along with its
// current status, so queries can restrict the comparison set the same way the
// DB fallback does. A nil client is a no-op; the DB fallback reads embeddings
// from the pages table directly.
func UpsertPageVector(ctx context.Context, businessId string, siteId int, pageId int, status string, vector []float32) error {
	client := config.GetWeaviate()
	if client == nil {
		return nil
	}

	id := pageObjectID(pageId)

	// Delete-then-create keeps the index free of stale duplicates. A failed
	// delete just means the object did not exist yet.
	_ = client.Data().Deleter().
		WithClassName(pageVectorClassName).
		WithID(id).
		Do(ctx)

	_, err := client.Data().Creator().
		WithClassName(pageVectorClassName).
		WithID(id).
		WithProperties(map[string]interface{}{
			"page_id":     pageId,
			"site_id":     siteId,
			"business_id": businessId,
			"status":      status,
		}).
		WithVector(vector).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("upserting page vector: %w", err)
	}
	return nil
}

// RemovePageVector drops the page from the index (decommission hygiene).
func RemovePageVector(ctx context.Context, pageId int) error {
	client := config.GetWeaviate()
	if client == nil {
		return nil
	}
	return client.Data().Deleter().
		WithClassName(pageVectorClassName).
		WithID(pageObjectID(pageId)).
		Do(ctx)
}

// NearbyPages returns up to limit other pages on the same site ranked by
// cosine similarity to the given vector, excluding excludePageId. Falls back
// to an exact DB scan when Weaviate is unavailable or errors.
func NearbyPages(ctx context.Context, siteId int, vector []float32, limit int, excludePageId int) ([]Neighbor, error) {
	client := config.GetWeaviate()
	if client == nil {
		return nearbyPagesFromDB(ctx, siteId, vector, limit, excludePageId)
	}

	nearVector := client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	fields := []graphql.Field{
		{Name: "page_id"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "certainty"},
		}},
	}

	result, err := client.GraphQL().Get().
		WithClassName(pageVectorClassName).
		WithFields(fields...).
		WithWhere(eligibleNeighborFilter(siteId)).
		WithNearVector(nearVector).
		WithLimit(limit + 1).
		Do(ctx)
	if err != nil {
		config.LogError(config.GetLogger(), "vecindex", "NearbyPages", "weaviate query failed, falling back to db scan", nil, err)
		return nearbyPagesFromDB(ctx, siteId, vector, limit, excludePageId)
	}

	neighbors, err := parseNeighbors(result.Data, excludePageId)
	if err != nil {
		return nil, err
	}
	if len(neighbors) > limit {
		neighbors = neighbors[:limit]
	}
	return neighbors, nil
}

// eligibleNeighborFilter restricts the comparison set to published/approved
// pages on the site, matching the DB fallback exactly.
func eligibleNeighborFilter(siteId int) *filters.WhereBuilder {
	return filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			filters.Where().
				WithPath([]string{"site_id"}).
				WithOperator(filters.Equal).
				WithValueInt(int64(siteId)),
			filters.Where().
				WithPath([]string{"status"}).
				WithOperator(filters.ContainsAny).
				WithValueText("published", "approved"),
		})
}

func parseNeighbors(data map[string]models.JSONObject, excludePageId int) ([]Neighbor, error) {
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	objects, ok := get[pageVectorClassName].([]interface{})
	if !ok {
		return nil, nil
	}

	var neighbors []Neighbor
	for _, raw := range objects {
		obj, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		pageId, ok := obj["page_id"].(float64)
		if !ok || int(pageId) == excludePageId {
			continue
		}
		additional, ok := obj["_additional"].(map[string]interface{})
		if !ok {
			continue
		}
		certainty, ok := additional["certainty"].(float64)
		if !ok {
			continue
		}
		neighbors = append(neighbors, Neighbor{
			PageId:     int(pageId),
			Similarity: CertaintyToCosine(certainty),
		})
	}
	sort.Slice(neighbors, func(i, j int) bool { return neighbors[i].Similarity > neighbors[j].Similarity })
	return neighbors, nil
}

type pageEmbeddingRow struct {
	ID        int
	Embedding []byte
}

// nearbyPagesFromDB is the exact fallback: scan published/approved pages on
// the site and compute cosine in-process.
func nearbyPagesFromDB(ctx context.Context, siteId int, vector []float32, limit int, excludePageId int) ([]Neighbor, error) {
	db := config.GetDB()

	var rows []pageEmbeddingRow
	err := db.WithContext(ctx).
		Raw(`SELECT id, embedding FROM pages
			WHERE site_id = ? AND id <> ? AND status IN ('published', 'approved')
			AND embedding IS NOT NULL`, siteId, excludePageId).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	var neighbors []Neighbor
	for _, row := range rows {
		var embedding []float32
		if err := json.Unmarshal(row.Embedding, &embedding); err != nil || len(embedding) == 0 {
			continue
		}
		neighbors = append(neighbors, Neighbor{
			PageId:     row.ID,
			Similarity: Cosine(vector, embedding),
		})
	}

	sort.Slice(neighbors, func(i, j int) bool { return neighbors[i].Similarity > neighbors[j].Similarity })
	if len(neighbors) > limit {
		neighbors = neighbors[:limit]
	}
	return neighbors, nil
}
