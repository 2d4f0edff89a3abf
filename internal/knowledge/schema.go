package knowledge

import (
	"regexp"

	"github.com/weaviate/weaviate/entities/models"
)

var invalidClassChars = regexp.MustCompile(`[^0-9A-Za-z_]`)

// CollectionName derives the Weaviate class name for a tenant's knowledge
// collection. Class names must match ^[A-Z][_0-9A-Za-z]*$, so anything else
// in the tenant id is mapped to an underscore. The mapping is deterministic:
// the same tenant always lands on the same collection.
func CollectionName(tenantID string) string {
	return "Knowledge_" + invalidClassChars.ReplaceAllString(tenantID, "_")
}

// CollectionClass builds the schema for one tenant collection. Vectorizer is
// "none": vectors are computed by the embedding provider and supplied on write.
func CollectionClass(name string) *models.Class {
	return &models.Class{
		Class:       name,
		Description: "Knowledge chunks for one tenant",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:     "content",
				DataType: []string{"text"},
			},
			{
				Name:     "sourceKind",
				DataType: []string{"string"},
			},
			{
				Name:     "origin",
				DataType: []string{"string"},
			},
			{
				Name:     "chunkIndex",
				DataType: []string{"int"},
			},
			{
				Name:     "contentLength",
				DataType: []string{"int"},
			},
		},
	}
}
