package projection

import (
	"time"

	"github.com/ourresearch/curate/pkg/identifier"
	"github.com/ourresearch/curate/pkg/models"
	"github.com/ourresearch/curate/pkg/normalizers"
)

// Builder turns a loaded entity bundle into the denormalized document served
// to external consumers. Output feeds canonical.Marshal, so plain maps and
// slices only.
type Builder struct {
	host string
}

// NewBuilder creates a projection builder. host is the identifier host used
// for canonical entity URLs.
func NewBuilder(host string) *Builder {
	return &Builder{host: host}
}

// Build computes the projection document for one entity bundle.
func (b *Builder) Build(bundle models.EntityBundle) map[string]any {
	e := bundle.Entity
	selfID := identifier.Identifier{Type: e.EntityType, ID: e.ID}

	doc := map[string]any{
		"id":             selfID.CanonicalURL(b.host),
		"paper_count":    e.PaperCount,
		"citation_count": e.CitationCount,
		"created_date":   e.CreatedDate.UTC().Format(time.RFC3339),
	}

	if e.DisplayName != nil {
		doc["display_name"] = *e.DisplayName
	}
	if e.Abstract != nil && *e.Abstract != "" {
		doc["abstract"] = *e.Abstract
	}
	if e.Subjects != nil && *e.Subjects != "" {
		doc["subjects"] = *e.Subjects
	}
	if e.UpdatedDate != nil {
		doc["updated_date"] = e.UpdatedDate.UTC().Format(time.RFC3339)
	}

	ids := map[string]any{"openalex": selfID.ShortForm()}
	if e.RorID != nil && *e.RorID != "" {
		ids["ror"] = normalizers.NormalizeROR(*e.RorID)
	}
	for _, ext := range bundle.ExternalIDs {
		ids[ext.IDType] = normalizers.Apply(ext.IDType, ext.IDValue)
	}
	doc["ids"] = ids

	switch e.EntityType {
	case models.EntityTypeWork:
		b.addWorkRelations(doc, bundle)
	case models.EntityTypeAuthor, models.EntityTypeInstitution:
		if len(bundle.Affiliations) > 0 {
			doc["affiliation_paper_ids"] = paperIDs(bundle.Affiliations)
		}
	}

	return doc
}

func (b *Builder) addWorkRelations(doc map[string]any, bundle models.EntityBundle) {
	if len(bundle.Citations) > 0 {
		refs := make([]any, 0, len(bundle.Citations))
		for _, c := range bundle.Citations {
			ref := identifier.Identifier{Type: models.EntityTypeWork, ID: c.PaperReferenceID}
			refs = append(refs, ref.CanonicalURL(b.host))
		}
		doc["referenced_works"] = refs
	}

	if len(bundle.RelatedWorks) > 0 {
		related := make([]any, 0, len(bundle.RelatedWorks))
		for _, rw := range bundle.RelatedWorks {
			rel := identifier.Identifier{Type: models.EntityTypeWork, ID: rw.RelatedPaperID}
			related = append(related, rel.CanonicalURL(b.host))
		}
		doc["related_works"] = related
	}

	if len(bundle.Locations) > 0 {
		locations := make([]any, 0, len(bundle.Locations))
		for _, loc := range bundle.Locations {
			entry := map[string]any{
				"source_url": loc.SourceURL,
				"is_oa":      loc.IsOA,
			}
			if loc.Version != nil {
				entry["version"] = *loc.Version
			}
			locations = append(locations, entry)
		}
		doc["locations"] = locations
	}

	if len(bundle.Affiliations) > 0 {
		authorships := make([]any, 0, len(bundle.Affiliations))
		for _, aff := range bundle.Affiliations {
			member := identifier.Identifier{Type: aff.EntityType, ID: aff.EntityID}
			entry := map[string]any{
				"id": member.CanonicalURL(b.host),
			}
			if aff.AuthorSequence != nil {
				entry["author_sequence"] = *aff.AuthorSequence
			}
			if aff.OriginalAffiliation != nil {
				entry["raw_affiliation_string"] = *aff.OriginalAffiliation
			}
			authorships = append(authorships, entry)
		}
		doc["authorships"] = authorships
	}
}

func paperIDs(affiliations []models.Affiliation) []any {
	ids := make([]any, 0, len(affiliations))
	for _, aff := range affiliations {
		ids = append(ids, aff.PaperID)
	}
	return ids
}
