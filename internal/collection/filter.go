package collection

import (
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/desertthunder/vinyldeck/internal/models"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

const vinylFormat = "Vinyl"

// YearRange is an inclusive range of release years.
type YearRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Filters are the user's selections. An empty list matches everything.
type Filters struct {
	Genres    []string   `json:"genres,omitempty"`
	Styles    []string   `json:"styles,omitempty"`
	Labels    []string   `json:"labels,omitempty"`
	Types     []string   `json:"types,omitempty"`
	Sizes     []string   `json:"sizes,omitempty"`
	YearRange *YearRange `json:"yearRange,omitempty"`
}

// Active reports whether any selection is set.
func (f Filters) Active() bool {
	return len(f.Genres) > 0 || len(f.Styles) > 0 || len(f.Labels) > 0 ||
		len(f.Types) > 0 || len(f.Sizes) > 0 || f.YearRange != nil
}

// FilterOption is a selectable value and the number of vinyl releases carrying it.
type FilterOption struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Facets are the filter values available in a set of releases.
type Facets struct {
	Genres     []FilterOption `json:"genres"`
	Styles     []FilterOption `json:"styles"`
	Labels     []FilterOption `json:"labels"`
	Types      []FilterOption `json:"types"`
	Sizes      []FilterOption `json:"sizes"`
	YearBounds *YearRange     `json:"yearBounds,omitempty"`
}

// IsVinyl reports whether any format is vinyl.
func IsVinyl(formats []models.Format) bool {
	return slices.ContainsFunc(formats, func(f models.Format) bool { return f.Name == vinylFormat })
}

// VinylOnly keeps vinyl releases in their original order.
func VinylOnly(releases []models.CollectionRelease) []models.CollectionRelease {
	out := make([]models.CollectionRelease, 0, len(releases))
	for _, r := range releases {
		if IsVinyl(r.BasicInformation.Formats) {
			out = append(out, r)
		}
	}
	return out
}

var inchPattern = regexp.MustCompile(`(?i)inch`)

func isSizeDescriptor(s string) bool {
	return strings.Contains(s, `"`) || inchPattern.MatchString(s)
}

// descriptors splits vinyl format descriptions into types (LP, Album) and sizes (12", 7").
func descriptors(formats []models.Format) (types, sizes []string) {
	for _, f := range formats {
		if f.Name != vinylFormat {
			continue
		}
		for _, d := range f.Descriptions {
			if isSizeDescriptor(d) {
				sizes = append(sizes, d)
			} else {
				types = append(types, d)
			}
		}
	}
	return types, sizes
}

func newCollator() *collate.Collator {
	return collate.New(language.Und, collate.Loose, collate.Numeric)
}

func options(counts map[string]int, less func(a, b string) int) []FilterOption {
	values := make([]string, 0, len(counts))
	for v := range counts {
		values = append(values, v)
	}
	slices.SortFunc(values, less)

	out := make([]FilterOption, len(values))
	for i, v := range values {
		out[i] = FilterOption{Value: v, Count: counts[v]}
	}
	return out
}

var leadingFloat = regexp.MustCompile(`^\s*[-+]?(\d+\.?\d*|\.\d+)`)

func parseLeadingFloat(s string) (float64, bool) {
	m := leadingFloat.FindString(s)
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(m), 64)
	return f, err == nil
}

// BuildFacets counts filter values over vinyl releases. Selected values missing from the
// releases are kept with a zero count so a selection never disappears from the list.
func BuildFacets(vinyl []models.CollectionRelease, selected Filters) Facets {
	genres := map[string]int{}
	styles := map[string]int{}
	labels := map[string]int{}
	types := map[string]int{}
	sizes := map[string]int{}
	minYear, maxYear := 0, 0

	for _, r := range vinyl {
		info := r.BasicInformation
		for _, g := range info.Genres {
			genres[g]++
		}
		for _, s := range info.Styles {
			styles[s]++
		}
		for _, l := range info.Labels {
			labels[l.Name]++
		}
		ts, ss := descriptors(info.Formats)
		for _, t := range ts {
			types[t]++
		}
		for _, s := range ss {
			sizes[s]++
		}
		if info.Year > 0 {
			if minYear == 0 || info.Year < minYear {
				minYear = info.Year
			}
			maxYear = max(maxYear, info.Year)
		}
	}

	ensure := func(counts map[string]int, values []string) {
		for _, v := range values {
			if _, ok := counts[v]; !ok {
				counts[v] = 0
			}
		}
	}
	ensure(genres, selected.Genres)
	ensure(styles, selected.Styles)
	ensure(labels, selected.Labels)
	ensure(types, selected.Types)
	ensure(sizes, selected.Sizes)

	col := newCollator()
	byName := func(a, b string) int { return col.CompareString(a, b) }
	bySize := func(a, b string) int {
		fa, okA := parseLeadingFloat(a)
		fb, okB := parseLeadingFloat(b)
		if okA && okB && fa != fb {
			if fa < fb {
				return -1
			}
			return 1
		}
		return col.CompareString(a, b)
	}

	f := Facets{
		Genres: options(genres, byName),
		Styles: options(styles, byName),
		Labels: options(labels, byName),
		Types:  options(types, byName),
		Sizes:  options(sizes, bySize),
	}
	if maxYear > 0 {
		f.YearBounds = &YearRange{Min: minYear, Max: maxYear}
	}
	return f
}

// ClampYearRange fits the selection inside bounds. No selection means the full bounds; a
// selection that no longer overlaps falls back to the bounds.
func ClampYearRange(selection, bounds *YearRange) *YearRange {
	if bounds == nil {
		return selection
	}
	if selection == nil {
		b := *bounds
		return &b
	}
	next := YearRange{Min: max(selection.Min, bounds.Min), Max: min(selection.Max, bounds.Max)}
	if next.Min > next.Max {
		b := *bounds
		return &b
	}
	return &next
}

// YearRangeActive reports whether r narrows the bounds.
func YearRangeActive(r, bounds *YearRange) bool {
	return r != nil && (bounds == nil || *r != *bounds)
}

// Search matches query against artist names and the title, ignoring case.
func Search(releases []models.CollectionRelease, query string) []models.CollectionRelease {
	if strings.TrimSpace(query) == "" {
		return releases
	}
	q := strings.ToLower(query)
	out := make([]models.CollectionRelease, 0, len(releases))
	for _, r := range releases {
		info := r.BasicInformation
		match := strings.Contains(strings.ToLower(info.Title), q) ||
			slices.ContainsFunc(info.Artists, func(a models.Artist) bool {
				return strings.Contains(strings.ToLower(a.Name), q)
			})
		if match {
			out = append(out, r)
		}
	}
	return out
}

func matchesSelection(selected []string, match func(string) bool) bool {
	return len(selected) == 0 || slices.ContainsFunc(selected, match)
}

// Apply keeps releases matching every filter. years replaces f.YearRange so callers can pass
// the clamped range.
func Apply(releases []models.CollectionRelease, f Filters, years *YearRange) []models.CollectionRelease {
	out := make([]models.CollectionRelease, 0, len(releases))
	for _, r := range releases {
		info := r.BasicInformation
		types, sizes := descriptors(info.Formats)

		ok := matchesSelection(f.Genres, func(g string) bool { return slices.Contains(info.Genres, g) }) &&
			matchesSelection(f.Styles, func(s string) bool { return slices.Contains(info.Styles, s) }) &&
			matchesSelection(f.Labels, func(l string) bool {
				return slices.ContainsFunc(info.Labels, func(label models.Label) bool { return label.Name == l })
			}) &&
			matchesSelection(f.Types, func(t string) bool { return slices.Contains(types, t) }) &&
			matchesSelection(f.Sizes, func(s string) bool { return slices.Contains(sizes, s) }) &&
			(years == nil || (info.Year > 0 && info.Year >= years.Min && info.Year <= years.Max))
		if ok {
			out = append(out, r)
		}
	}
	return out
}

// BreakdownItem counts non-vinyl releases of one format.
type BreakdownItem struct {
	Format string `json:"format"`
	Count  int    `json:"count"`
}

// NonVinylBreakdown counts releases without a vinyl format by their first format name,
// most common first.
func NonVinylBreakdown(releases []models.CollectionRelease) (int, []BreakdownItem) {
	counts := map[string]int{}
	total := 0
	for _, r := range releases {
		formats := r.BasicInformation.Formats
		if IsVinyl(formats) {
			continue
		}
		total++
		name := "Unknown"
		for _, f := range formats {
			if f.Name != "" && f.Name != vinylFormat {
				name = f.Name
				break
			}
		}
		counts[name]++
	}

	out := make([]BreakdownItem, 0, len(counts))
	for format, count := range counts {
		out = append(out, BreakdownItem{Format: format, Count: count})
	}
	col := newCollator()
	slices.SortFunc(out, func(a, b BreakdownItem) int {
		if a.Count != b.Count {
			return b.Count - a.Count
		}
		return col.CompareString(a.Format, b.Format)
	})
	return total, out
}
