package slug

import "testing"

func TestSlugify(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  string
	}{
		{"simple", "Photosynthesis", "photosynthesis"},
		{"spaces", "The Water Cycle", "the-water-cycle"},
		{"punctuation", "Newton's Laws of Motion!", "newton-s-laws-of-motion"},
		{"mixed runs", "Acids -- & -- Bases", "acids-bases"},
		{"digits", "Chapter 12: Light", "chapter-12-light"},
		{"leading trailing junk", "  ...Energy...  ", "energy"},
		{"unicode stripped", "Précis of Motion", "pr-cis-of-motion"},
		{"already a slug", "plant-cells", "plant-cells"},
		{"empty", "", ""},
		{"only junk", "!!!", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Slugify(tt.title); got != tt.want {
				t.Errorf("Slugify(%q) = %q, want %q", tt.title, got, tt.want)
			}
		})
	}
}

func TestSlugifyIdempotent(t *testing.T) {
	inputs := []string{
		"The Water Cycle",
		"Newton's Laws of Motion!",
		"chapter-12-light",
		"Acids & Bases",
		"",
	}

	for _, in := range inputs {
		once := Slugify(in)
		twice := Slugify(once)
		if once != twice {
			t.Errorf("Slugify not idempotent for %q: first %q, second %q", in, once, twice)
		}
	}
}

func TestSlugifyDeslugifyRoundTrip(t *testing.T) {
	inputs := []string{
		"The Water Cycle",
		"plant-cells",
		"Chapter 12: Light",
	}

	for _, in := range inputs {
		s := Slugify(in)
		if got := Slugify(Deslugify(s)); got != s {
			t.Errorf("Slugify(Deslugify(%q)) = %q, want %q", s, got, s)
		}
	}
}

func TestDeslugify(t *testing.T) {
	tests := []struct {
		slug string
		want string
	}{
		{"the-water-cycle", "The Water Cycle"},
		{"photosynthesis", "Photosynthesis"},
		{"chapter-12-light", "Chapter 12 Light"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := Deslugify(tt.slug); got != tt.want {
			t.Errorf("Deslugify(%q) = %q, want %q", tt.slug, got, tt.want)
		}
	}
}
