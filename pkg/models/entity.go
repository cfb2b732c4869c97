package models

import (
	"time"
)

// EntityType identifies one of the addressable record types in the catalog.
type EntityType string

const (
	EntityTypeWork        EntityType = "work"
	EntityTypeAuthor      EntityType = "author"
	EntityTypeSource      EntityType = "source"
	EntityTypePublisher   EntityType = "publisher"
	EntityTypeFunder      EntityType = "funder"
	EntityTypeInstitution EntityType = "institution"
	EntityTypeConcept     EntityType = "concept"
	EntityTypeVenue       EntityType = "venue"
)

// AllEntityTypes lists every supported entity type in prefix order.
var AllEntityTypes = []EntityType{
	EntityTypeWork,
	EntityTypeAuthor,
	EntityTypeSource,
	EntityTypePublisher,
	EntityTypeFunder,
	EntityTypeInstitution,
	EntityTypeConcept,
	EntityTypeVenue,
}

var entityTypePrefixes = map[EntityType]byte{
	EntityTypeWork:        'W',
	EntityTypeAuthor:      'A',
	EntityTypeSource:      'S',
	EntityTypePublisher:   'P',
	EntityTypeFunder:      'F',
	EntityTypeInstitution: 'I',
	EntityTypeConcept:     'C',
	EntityTypeVenue:       'V',
}

// Prefix returns the single-letter identifier prefix for the type (e.g. 'W'
// for works). Returns 0 for an unknown type.
func (t EntityType) Prefix() byte {
	return entityTypePrefixes[t]
}

// IsValid reports whether t is one of the supported entity types.
func (t EntityType) IsValid() bool {
	_, ok := entityTypePrefixes[t]
	return ok
}

func (t EntityType) String() string {
	return string(t)
}

// EntityTypeFromPrefix resolves a prefix letter (case handled by the caller)
// to its entity type. The second return is false for an unknown prefix.
func EntityTypeFromPrefix(prefix byte) (EntityType, bool) {
	for t, p := range entityTypePrefixes {
		if p == prefix {
			return t, true
		}
	}
	return "", false
}

// ParseEntityType resolves a type name to its EntityType.
func ParseEntityType(name string) (EntityType, bool) {
	t := EntityType(name)
	if t.IsValid() {
		return t, true
	}
	return "", false
}

// Entity is one row of the entities table. The primary key is
// (entity_type, id). A non-null MergeIntoID marks the row as a tombstone that
// redirects to the surviving entity of the same type.
type Entity struct {
	ID              int64      `json:"id" db:"id"`
	EntityType      EntityType `json:"entity_type" db:"entity_type"`
	DisplayName     *string    `json:"display_name,omitempty" db:"display_name"`
	RorID           *string    `json:"ror_id,omitempty" db:"ror_id"`
	Abstract        *string    `json:"abstract,omitempty" db:"abstract"`
	Subjects        *string    `json:"subjects,omitempty" db:"subjects"`
	PaperCount      int64      `json:"paper_count" db:"paper_count"`
	CitationCount   int64      `json:"citation_count" db:"citation_count"`
	MergeIntoID     *int64     `json:"merge_into_id,omitempty" db:"merge_into_id"`
	MergeIntoDate   *time.Time `json:"merge_into_date,omitempty" db:"merge_into_date"`
	UpdatedDate     *time.Time `json:"updated_date,omitempty" db:"updated_date"`
	FullUpdatedDate *time.Time `json:"full_updated_date,omitempty" db:"full_updated_date"`
	CreatedDate     time.Time  `json:"created_date" db:"created_date"`
}

// IsMerged reports whether the entity has been merged away into another.
func (e *Entity) IsMerged() bool {
	return e.MergeIntoID != nil
}

// Affiliation links a paper to an author or institution.
type Affiliation struct {
	PaperID             int64      `json:"paper_id" db:"paper_id"`
	EntityType          EntityType `json:"entity_type" db:"entity_type"`
	EntityID            int64      `json:"entity_id" db:"entity_id"`
	AuthorSequence      *int       `json:"author_sequence,omitempty" db:"author_sequence"`
	OriginalAffiliation *string    `json:"original_affiliation,omitempty" db:"original_affiliation"`
}

// Citation is a directed reference from one paper to another.
type Citation struct {
	PaperID          int64 `json:"paper_id" db:"paper_id"`
	PaperReferenceID int64 `json:"paper_reference_id" db:"paper_reference_id"`
}

// Location is a hosting record for a paper at a source.
type Location struct {
	PaperID   int64   `json:"paper_id" db:"paper_id"`
	EntityID  int64   `json:"entity_id" db:"entity_id"`
	SourceURL string  `json:"source_url" db:"source_url"`
	Version   *string `json:"version,omitempty" db:"version"`
	IsOA      bool    `json:"is_oa" db:"is_oa"`
}

// RelatedWork links a paper to a related paper.
type RelatedWork struct {
	PaperID        int64   `json:"paper_id" db:"paper_id"`
	RelatedPaperID int64   `json:"related_paper_id" db:"related_paper_id"`
	Score          float64 `json:"score" db:"score"`
}

// ExternalID is a secondary identifier (DOI, ORCID, Wikidata, ...) attached
// to an entity.
type ExternalID struct {
	EntityType EntityType `json:"entity_type" db:"entity_type"`
	EntityID   int64      `json:"entity_id" db:"entity_id"`
	IDType     string     `json:"id_type" db:"id_type"`
	IDValue    string     `json:"id_value" db:"id_value"`
}

// AffiliationString maps a raw affiliation string to the institution it
// resolves to.
type AffiliationString struct {
	OriginalAffiliation string `json:"original_affiliation" db:"original_affiliation"`
	EntityID            int64  `json:"entity_id" db:"entity_id"`
}

// AffiliationStringOverride is a curator-supplied mapping that takes
// precedence over the computed one.
type AffiliationStringOverride struct {
	OriginalAffiliation string `json:"original_affiliation" db:"original_affiliation"`
	EntityID            int64  `json:"entity_id" db:"entity_id"`
}

// EntityBundle is an entity together with every relation needed to recompute
// its projection. Loaded in one query per relation.
type EntityBundle struct {
	Entity       Entity        `json:"entity"`
	Affiliations []Affiliation `json:"affiliations,omitempty"`
	Citations    []Citation    `json:"citations,omitempty"`
	Locations    []Location    `json:"locations,omitempty"`
	RelatedWorks []RelatedWork `json:"related_works,omitempty"`
	ExternalIDs  []ExternalID  `json:"external_ids,omitempty"`
}
