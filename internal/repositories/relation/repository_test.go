package relation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ourresearch/curate/pkg/models"
)

func TestBuildDedupDelete(t *testing.T) {
	t.Run("single-column natural key", func(t *testing.T) {
		rel := models.MergeRelation{
			Table:      "citations",
			Column:     "paper_reference_id",
			NaturalKey: []string{"paper_id"},
		}
		query, args := buildDedupDelete(rel, models.EntityTypeWork, 10, 20)

		assert.Equal(t,
			"DELETE FROM citations a WHERE a.paper_reference_id = $1 AND EXISTS (SELECT 1 FROM citations b WHERE b.paper_reference_id = $2 AND b.paper_id = a.paper_id)",
			query)
		assert.Equal(t, []any{int64(10), int64(20)}, args)
	})

	t.Run("type-scoped relation", func(t *testing.T) {
		rel := models.MergeRelation{
			Table:      "external_ids",
			Column:     "entity_id",
			TypeColumn: "entity_type",
			NaturalKey: []string{"id_type", "id_value"},
		}
		query, args := buildDedupDelete(rel, models.EntityTypeFunder, 10, 20)

		assert.Equal(t,
			"DELETE FROM external_ids a WHERE a.entity_id = $1 AND a.entity_type = $3 AND EXISTS (SELECT 1 FROM external_ids b WHERE b.entity_id = $2 AND b.entity_type = $3 AND b.id_type = a.id_type AND b.id_value = a.id_value)",
			query)
		assert.Equal(t, []any{int64(10), int64(20), "funder"}, args)
	})
}

func TestBuildRepointUpdate(t *testing.T) {
	t.Run("unscoped", func(t *testing.T) {
		rel := models.MergeRelation{
			Table:      "locations",
			Column:     "paper_id",
			NaturalKey: []string{"source_url"},
		}
		query, args := buildRepointUpdate(rel, models.EntityTypeWork, 10, 20)

		assert.Equal(t, "UPDATE locations SET paper_id = $1 WHERE paper_id = $2", query)
		assert.Equal(t, []any{int64(20), int64(10)}, args)
	})

	t.Run("type-scoped", func(t *testing.T) {
		rel := models.MergeRelation{
			Table:      "affiliations",
			Column:     "entity_id",
			TypeColumn: "entity_type",
			NaturalKey: []string{"paper_id"},
		}
		query, args := buildRepointUpdate(rel, models.EntityTypeAuthor, 10, 20)

		assert.Equal(t, "UPDATE affiliations SET entity_id = $1 WHERE entity_id = $2 AND entity_type = $3", query)
		assert.Equal(t, []any{int64(20), int64(10), "author"}, args)
	})
}
