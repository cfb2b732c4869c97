package identifier

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ourresearch/curate/pkg/models"
)

// Identifier is the canonical representation of an entity reference: an
// entity type plus its numeric primary key.
type Identifier struct {
	Type models.EntityType
	ID   int64
}

// A recognized prefix letter followed by at least two digits. Parsing picks
// the first such match anywhere in the input, so canonical URLs parse too.
var shortFormPattern = regexp.MustCompile(`[WASPFICV](\d{2,})`)

// Parse extracts an identifier from any of the accepted textual forms: a
// prefixed short form ("W2741809807"), a canonical URL
// ("https://openalex.org/W2741809807"), or any string embedding either.
// Matching is case-insensitive and ignores embedded NUL bytes. A bare number
// carries no type and needs ParseWithType instead.
func Parse(input string) (Identifier, error) {
	cleaned := normalize(input)
	if cleaned == "" {
		return Identifier{}, fmt.Errorf("%w: empty input", models.ErrInvalidIdentifier)
	}

	match := shortFormPattern.FindStringSubmatch(cleaned)
	if match == nil {
		return Identifier{}, fmt.Errorf("%w: no recognized prefix in %q", models.ErrInvalidIdentifier, input)
	}

	entityType, ok := models.EntityTypeFromPrefix(match[0][0])
	if !ok {
		return Identifier{}, fmt.Errorf("%w: unknown prefix in %q", models.ErrInvalidIdentifier, input)
	}

	id, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return Identifier{}, fmt.Errorf("%w: %q", models.ErrInvalidIdentifier, input)
	}

	return Identifier{Type: entityType, ID: id}, nil
}

// ParseWithType accepts everything Parse does plus a bare numeric string,
// which takes its type from the argument. A prefixed input must agree with
// the given type.
func ParseWithType(input string, entityType models.EntityType) (Identifier, error) {
	if !entityType.IsValid() {
		return Identifier{}, fmt.Errorf("%w: unknown entity type %q", models.ErrInvalidIdentifier, entityType)
	}

	cleaned := normalize(input)
	if cleaned == "" {
		return Identifier{}, fmt.Errorf("%w: empty input", models.ErrInvalidIdentifier)
	}

	if id, err := strconv.ParseInt(cleaned, 10, 64); err == nil {
		if id <= 0 {
			return Identifier{}, fmt.Errorf("%w: non-positive id %q", models.ErrInvalidIdentifier, input)
		}
		return Identifier{Type: entityType, ID: id}, nil
	}

	parsed, err := Parse(cleaned)
	if err != nil {
		return Identifier{}, err
	}
	if parsed.Type != entityType {
		return Identifier{}, fmt.Errorf("%w: %q is a %s id, expected %s",
			models.ErrInvalidIdentifier, input, parsed.Type, entityType)
	}
	return parsed, nil
}

func normalize(input string) string {
	cleaned := strings.ReplaceAll(input, "\x00", "")
	cleaned = strings.TrimSpace(cleaned)
	return strings.ToUpper(cleaned)
}

// ShortForm returns the prefixed form, e.g. "W2741809807".
func (i Identifier) ShortForm() string {
	return fmt.Sprintf("%c%d", i.Type.Prefix(), i.ID)
}

// CanonicalURL returns the full canonical form for the given host, e.g.
// "https://openalex.org/W2741809807".
func (i Identifier) CanonicalURL(host string) string {
	return fmt.Sprintf("https://%s/%s", host, i.ShortForm())
}

func (i Identifier) String() string {
	return i.ShortForm()
}
