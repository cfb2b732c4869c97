package identifier

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ourresearch/curate/pkg/models"
)

func TestParse_ShortForms(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantType models.EntityType
		wantID   int64
	}{
		{"work", "W2741809807", models.EntityTypeWork, 2741809807},
		{"author", "A1969205032", models.EntityTypeAuthor, 1969205032},
		{"source", "S4210206229", models.EntityTypeSource, 4210206229},
		{"publisher", "P4310319965", models.EntityTypePublisher, 4310319965},
		{"funder", "F4320332161", models.EntityTypeFunder, 4320332161},
		{"institution", "I27837315", models.EntityTypeInstitution, 27837315},
		{"concept", "C71924100", models.EntityTypeConcept, 71924100},
		{"venue", "V172573316", models.EntityTypeVenue, 172573316},
		{"lowercase prefix", "w2741809807", models.EntityTypeWork, 2741809807},
		{"surrounding whitespace", "  W12  ", models.EntityTypeWork, 12},
		{"embedded nul bytes", "W\x0027\x0041", models.EntityTypeWork, 2741},
		{"canonical url", "https://openalex.org/W2741809807", models.EntityTypeWork, 2741809807},
		{"canonical url lowercase", "https://openalex.org/i27837315", models.EntityTypeInstitution, 27837315},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, got.Type)
			assert.Equal(t, tt.wantID, got.ID)
		})
	}
}

func TestParse_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty string", ""},
		{"only nul bytes", "\x00\x00"},
		{"bare number has no type", "2741809807"},
		{"prefix with one digit", "W2"},
		{"prefix with no digits", "W"},
		{"unrecognized prefix", "X1234"},
		{"letters only", "openalex"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrInvalidIdentifier))
		})
	}
}

func TestParse_RoundTrip(t *testing.T) {
	host := "openalex.org"
	for _, entityType := range models.AllEntityTypes {
		for _, id := range []int64{10, 99, 12345, 2741809807} {
			original := Identifier{Type: entityType, ID: id}

			fromShort, err := Parse(original.ShortForm())
			require.NoError(t, err)
			assert.Equal(t, original, fromShort)

			fromURL, err := Parse(original.CanonicalURL(host))
			require.NoError(t, err)
			assert.Equal(t, original, fromURL)
			assert.Equal(t, fmt.Sprintf("%c%d", entityType.Prefix(), id), fromURL.ShortForm())
		}
	}
}

func TestParseWithType(t *testing.T) {
	t.Run("bare number takes the given type", func(t *testing.T) {
		got, err := ParseWithType("27837315", models.EntityTypeInstitution)
		require.NoError(t, err)
		assert.Equal(t, models.EntityTypeInstitution, got.Type)
		assert.Equal(t, int64(27837315), got.ID)
	})

	t.Run("prefixed input must agree with the type", func(t *testing.T) {
		_, err := ParseWithType("W2741809807", models.EntityTypeAuthor)
		require.Error(t, err)
		assert.True(t, errors.Is(err, models.ErrInvalidIdentifier))
	})

	t.Run("matching prefixed input passes through", func(t *testing.T) {
		got, err := ParseWithType("W2741809807", models.EntityTypeWork)
		require.NoError(t, err)
		assert.Equal(t, int64(2741809807), got.ID)
	})

	t.Run("zero id rejected", func(t *testing.T) {
		_, err := ParseWithType("0", models.EntityTypeWork)
		require.Error(t, err)
		assert.True(t, errors.Is(err, models.ErrInvalidIdentifier))
	})

	t.Run("unknown entity type rejected", func(t *testing.T) {
		_, err := ParseWithType("123", models.EntityType("journal"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, models.ErrInvalidIdentifier))
	})
}

func TestCanonicalURL(t *testing.T) {
	id := Identifier{Type: models.EntityTypeWork, ID: 42424242}
	assert.Equal(t, "https://openalex.org/W42424242", id.CanonicalURL("openalex.org"))
	assert.Equal(t, "W42424242", id.ShortForm())
	assert.Equal(t, "W42424242", id.String())
}
