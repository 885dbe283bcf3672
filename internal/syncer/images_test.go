package syncer

import (
	"testing"
)

func TestEnsureGalleryCleansAndDedupes(t *testing.T) {
	got := EnsureGallery([]string{" a.jpg ", "", "b.jpg", "a.jpg"}, 2021, "Ford", "Focus", testPlaceholderBase)
	if len(got) != 2 || got[0] != "a.jpg" || got[1] != "b.jpg" {
		t.Fatalf("unexpected gallery: %v", got)
	}
}

func TestEnsureGalleryEmptyGetsPlaceholder(t *testing.T) {
	got := EnsureGallery(nil, 2021, "Ford", "Focus", testPlaceholderBase)
	if len(got) != 1 {
		t.Fatalf("expected single placeholder, got %v", got)
	}
	if got[0] != testPlaceholderBase+"/2021-ford-focus.jpg" {
		t.Fatalf("unexpected placeholder: %s", got[0])
	}

	// 同一 (year, make, model) 稳定
	again := EnsureGallery([]string{"  "}, 2021, "Ford", "Focus", testPlaceholderBase)
	if again[0] != got[0] {
		t.Fatalf("placeholder must be deterministic: %s vs %s", again[0], got[0])
	}
}

func TestPlaceholderURLSlugging(t *testing.T) {
	cases := []struct {
		make, model string
		want        string
	}{
		{"Land Rover", "Range Rover Sport", testPlaceholderBase + "/2022-land-rover-range-rover-sport.jpg"},
		{"Mercedes-Benz", "C 300", testPlaceholderBase + "/2022-mercedes-benz-c-300.jpg"},
		{"BMW", "330i xDrive", testPlaceholderBase + "/2022-bmw-330i-xdrive.jpg"},
	}
	for _, c := range cases {
		got := PlaceholderURL(testPlaceholderBase, 2022, c.make, c.model)
		if got != c.want {
			t.Fatalf("PlaceholderURL(%s, %s) = %s, want %s", c.make, c.model, got, c.want)
		}
	}
}
