package collection

import (
	"slices"

	"github.com/desertthunder/vinyldeck/internal/models"
	"github.com/desertthunder/vinyldeck/internal/services"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// SortByGenre orders by first genre, then title, ignoring case and accents.
func SortByGenre(releases []models.CollectionRelease, order services.SortOrder) []models.CollectionRelease {
	dir := -1
	if order == services.SortAsc {
		dir = 1
	}
	col := collate.New(language.Und, collate.Loose)
	first := func(genres []string) string {
		if len(genres) == 0 {
			return ""
		}
		return genres[0]
	}

	out := slices.Clone(releases)
	slices.SortStableFunc(out, func(a, b models.CollectionRelease) int {
		if c := col.CompareString(first(a.BasicInformation.Genres), first(b.BasicInformation.Genres)); c != 0 {
			return c * dir
		}
		return col.CompareString(a.BasicInformation.Title, b.BasicInformation.Title) * dir
	})
	return out
}

// mulberry32 is a small seeded PRNG so a shuffle is reproducible for a given seed.
type mulberry32 struct {
	state uint32
}

func (m *mulberry32) next() float64 {
	m.state += 0x6d2b79f5
	t := m.state
	t = (t ^ t>>15) * (t | 1)
	t ^= t + (t^t>>7)*(t|61)
	return float64(t^t>>14) / 4294967296
}

// Shuffle returns a Fisher-Yates shuffle of releases driven by seed.
func Shuffle(releases []models.CollectionRelease, seed uint32) []models.CollectionRelease {
	rng := &mulberry32{state: seed}
	out := slices.Clone(releases)
	for i := len(out) - 1; i > 0; i-- {
		j := int(rng.next() * float64(i+1))
		out[i], out[j] = out[j], out[i]
	}
	return out
}
