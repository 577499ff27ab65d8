package replaceuser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlug(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"simple", "Jane", "jane"},
		{"spaces collapse", "  Jane   Doe ", "jane-doe"},
		{"diacritics folded", "Émile O'Brien", "emile-o-brien"},
		{"digits kept", "Ana-María 2", "ana-maria-2"},
		{"no latin characters", "李明", fallbackSlug},
		{"empty", "", fallbackSlug},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Slug(tt.in))
		})
	}
}

func TestCandidateUsername(t *testing.T) {
	assert.Equal(t, "jane-doe-1234", candidateUsername("Jane Doe", 1234))
	assert.Equal(t, "user-1000", candidateUsername("", 1000))
}
