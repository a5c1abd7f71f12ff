package identity

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"ab", false},
		{"abc", true},
		{"kynguyen", true},
		{"john@doe", false},
		{"session_id-1.2", true},
		{"has space", false},
		{"", false},
		{strings.Repeat("a", 100), true},
		{strings.Repeat("a", 101), false},
		{"ünïcode", false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.want, Validate(tt.id))
		})
	}
}

func allowed(id string) bool {
	if len(id) < 3 || len(id) > 100 {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.', c == '_', c == '-':
		default:
			return false
		}
	}
	return true
}

// Property-based test: Validate agrees with a character-by-character check.
func TestValidate_PropertyMatchesCharset(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("arbitrary strings", prop.ForAll(
		func(id string) bool {
			return Validate(id) == allowed(id)
		},
		gen.AnyString(),
	))

	properties.Property("well-formed ids are accepted", prop.ForAll(
		func(id string) bool {
			return Validate(id)
		},
		gen.RegexMatch(`^[A-Za-z0-9._-]{3,100}$`),
	))

	properties.Property("ids with a disallowed character are rejected", prop.ForAll(
		func(prefix string, bad rune) bool {
			return !Validate(prefix + string(bad))
		},
		gen.RegexMatch(`^[a-z]{3,20}$`),
		gen.OneConstOf('@', ' ', '/', '#', '!', '+'),
	))

	properties.TestingRun(t)
}

func TestScrub(t *testing.T) {
	t.Run("email keeps first character and domain", func(t *testing.T) {
		got := Scrub("jane.doe@example.com")
		assert.True(t, strings.HasPrefix(got, "j"))
		assert.True(t, strings.HasSuffix(got, "@example.com"))
		assert.Equal(t, "j*******@example.com", got)
		assert.NotContains(t, got, "jane.doe")
	})

	t.Run("ssn fully masked", func(t *testing.T) {
		assert.Equal(t, "***-**-****", Scrub("123-45-6789"))
	})

	t.Run("embedded values", func(t *testing.T) {
		got := Scrub("user bob@corp.io has ssn 123-45-6789")
		assert.Equal(t, "user b**@corp.io has ssn ***-**-****", got)
	})

	t.Run("non-matching passes through", func(t *testing.T) {
		for _, s := range []string{"plain-id-1", "john@doe", "", "12-345-6789"} {
			assert.Equal(t, s, Scrub(s))
		}
	})

	t.Run("single character local part", func(t *testing.T) {
		assert.Equal(t, "a@example.com", Scrub("a@example.com"))
	})
}
