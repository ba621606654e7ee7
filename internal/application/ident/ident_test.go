package ident

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"old man", "OLD_MAN"},
		{"  hero-01  ", "HERO_01"},
		{"a__b___c", "A_B_C"},
		{"森林", "X"},
		{"", "X"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Slug(tt.in), "Slug(%q)", tt.in)
	}
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		name     string
		rawID    string
		fallback string
		want     string
	}{
		{"already prefixed", "Element_HERO", "", "Element_HERO"},
		{"bare id", "hero", "", "Element_HERO"},
		{"wrong case prefix", "element_hero", "", "Element_HERO"},
		{"dash separator", "element-hero", "", "Element_HERO"},
		{"empty uses fallback", "", "old man", "Element_OLD_MAN"},
		{"prefix only uses fallback", "element_", "hero", "Element_HERO"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Coerce(ElementPrefix, tt.rawID, tt.fallback))
		})
	}
}

func TestEnsureUnique(t *testing.T) {
	taken := TakenSet([]string{"Shot_1"})

	assert.Equal(t, "Shot_2", EnsureUnique("Shot_2", taken))
	assert.Equal(t, "Shot_1_2", EnsureUnique("Shot_1", taken))
	assert.Equal(t, "Shot_1_3", EnsureUnique("Shot_1", taken))
}
