package merge

import (
	"github.com/ourresearch/curate/pkg/models"
)

// externalIDRelation is shared by every entity type. Secondary identifiers
// follow the winner; an identifier the winner already carries is dropped.
var externalIDRelation = models.MergeRelation{
	Table:      "external_ids",
	Column:     "entity_id",
	TypeColumn: "entity_type",
	NaturalKey: []string{"id_type", "id_value"},
}

// affiliationRelation re-points affiliations at a person or institution.
// A paper affiliated with both sides keeps only the winner's row.
var affiliationRelation = models.MergeRelation{
	Table:      "affiliations",
	Column:     "entity_id",
	TypeColumn: "entity_type",
	NaturalKey: []string{"paper_id"},
}

// mergeRelations is the declarative core of the resolver: every relation
// table that references an entity, per type, with the natural key that
// detects duplicates. Adding a mergeable relation means adding one entry.
var mergeRelations = map[models.EntityType][]models.MergeRelation{
	models.EntityTypeWork: {
		{Table: "citations", Column: "paper_id", NaturalKey: []string{"paper_reference_id"}},
		{Table: "citations", Column: "paper_reference_id", NaturalKey: []string{"paper_id"}},
		{Table: "locations", Column: "paper_id", NaturalKey: []string{"source_url"}},
		{Table: "related_works", Column: "paper_id", NaturalKey: []string{"related_paper_id"}},
		{Table: "related_works", Column: "related_paper_id", NaturalKey: []string{"paper_id"}},
		{Table: "affiliations", Column: "paper_id", NaturalKey: []string{"entity_type", "entity_id"}},
		externalIDRelation,
	},
	models.EntityTypeAuthor: {
		affiliationRelation,
		externalIDRelation,
	},
	models.EntityTypeInstitution: {
		affiliationRelation,
		{Table: "affiliation_strings", Column: "entity_id", NaturalKey: []string{"original_affiliation"}},
		{Table: "affiliation_string_overrides", Column: "entity_id", NaturalKey: []string{"original_affiliation"}},
		externalIDRelation,
	},
	models.EntityTypeSource: {
		{Table: "locations", Column: "entity_id", NaturalKey: []string{"paper_id", "source_url"}},
		externalIDRelation,
	},
	models.EntityTypeVenue: {
		{Table: "locations", Column: "entity_id", NaturalKey: []string{"paper_id", "source_url"}},
		externalIDRelation,
	},
	models.EntityTypePublisher: {
		externalIDRelation,
	},
	models.EntityTypeFunder: {
		externalIDRelation,
	},
	models.EntityTypeConcept: {
		externalIDRelation,
	},
}

// RelationsFor returns the relation tables the resolver re-points for an
// entity type.
func RelationsFor(entityType models.EntityType) []models.MergeRelation {
	return mergeRelations[entityType]
}
