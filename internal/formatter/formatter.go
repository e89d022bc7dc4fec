// package formatter renders collection releases for the terminal and exports them to CSV, Markdown, and JSON
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/desertthunder/vinyldeck/internal/models"
	"github.com/desertthunder/vinyldeck/internal/shared"
)

// Format names an output format accepted by [Render].
type Format string

const (
	FormatTable    Format = "table"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

// Formats lists every supported output format.
var Formats = []Format{FormatTable, FormatCSV, FormatMarkdown, FormatJSON}

// ParseFormat accepts a format name, case-insensitively. "md" is an alias for markdown.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if f == "md" {
		f = FormatMarkdown
	}
	if !slices.Contains(Formats, f) {
		return "", fmt.Errorf("%w: unknown format %q", shared.ErrInvalidInput, s)
	}
	return f, nil
}

// Render dispatches to the exporter for f. title is used by Markdown only.
func Render(releases []models.CollectionRelease, f Format, title string) ([]byte, error) {
	switch f {
	case FormatTable:
		return []byte(Table(releases) + "\n"), nil
	case FormatCSV:
		return ExportToCSV(releases)
	case FormatMarkdown:
		return ExportToMarkdown(title, releases)
	case FormatJSON:
		return ExportToJSON(releases, true)
	}
	return nil, fmt.Errorf("%w: unknown format %q", shared.ErrInvalidInput, f)
}

// Labels joins label names with their catalog numbers, e.g. "Blue Note (BST 84003)".
func Labels(b models.BasicInformation) string {
	parts := make([]string, 0, len(b.Labels))
	for _, l := range b.Labels {
		if l.CatNo == "" || l.CatNo == "none" {
			parts = append(parts, l.Name)
			continue
		}
		parts = append(parts, fmt.Sprintf("%s (%s)", l.Name, l.CatNo))
	}
	return strings.Join(parts, ", ")
}

// FormatSummary describes the first format, e.g. `Vinyl, LP, 12"`.
func FormatSummary(b models.BasicInformation) string {
	if len(b.Formats) == 0 {
		return ""
	}
	f := b.Formats[0]
	parts := append([]string{f.Name}, f.Descriptions...)
	if qty, err := strconv.Atoi(f.Qty); err == nil && qty > 1 {
		parts[0] = fmt.Sprintf("%dx%s", qty, f.Name)
	}
	return strings.Join(parts, ", ")
}

// DateAdded trims a Discogs timestamp to its date, or returns it unchanged when unparseable.
func DateAdded(r models.CollectionRelease) string {
	t, err := time.Parse(time.RFC3339, r.DateAdded)
	if err != nil {
		return r.DateAdded
	}
	return t.Format(time.DateOnly)
}

func year(b models.BasicInformation) string {
	if b.Year == 0 {
		return ""
	}
	return strconv.Itoa(b.Year)
}

// ExportToCSV writes one row per release.
func ExportToCSV(releases []models.CollectionRelease) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"ID", "Instance ID", "Artist", "Title", "Year", "Labels", "Format", "Genres", "Styles", "Rating", "Date Added"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, r := range releases {
		b := r.BasicInformation
		record := []string{
			strconv.Itoa(r.ID),
			strconv.Itoa(r.InstanceID),
			b.ArtistNames(),
			b.Title,
			year(b),
			Labels(b),
			FormatSummary(b),
			strings.Join(b.Genres, "; "),
			strings.Join(b.Styles, "; "),
			strconv.Itoa(r.Rating),
			DateAdded(r),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ExportToMarkdown renders a heading followed by a numbered list.
func ExportToMarkdown(title string, releases []models.CollectionRelease) ([]byte, error) {
	var buf bytes.Buffer

	if title == "" {
		title = "Collection"
	}
	fmt.Fprintf(&buf, "# %s\n\n", title)
	fmt.Fprintf(&buf, "**Releases**: %d\n\n", len(releases))

	for i, r := range releases {
		b := r.BasicInformation
		fmt.Fprintf(&buf, "%d. %s - %s", i+1, b.ArtistNames(), b.Title)
		if y := year(b); y != "" {
			fmt.Fprintf(&buf, " (%s)", y)
		}
		if f := FormatSummary(b); f != "" {
			fmt.Fprintf(&buf, " [%s]", f)
		}
		buf.WriteString("\n")
	}

	return buf.Bytes(), nil
}

// ExportToJSON marshals releases as a JSON array.
func ExportToJSON(releases []models.CollectionRelease, pretty bool) ([]byte, error) {
	if releases == nil {
		releases = []models.CollectionRelease{}
	}
	var (
		data []byte
		err  error
	)
	if pretty {
		data, err = json.MarshalIndent(releases, "", "  ")
	} else {
		data, err = json.Marshal(releases)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to marshal releases: %w", err)
	}
	return append(data, '\n'), nil
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B35")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	dimStyle    = cellStyle.Foreground(lipgloss.Color("#888888"))
)

// Table renders releases as a bordered table with a styled header row.
func Table(releases []models.CollectionRelease) string {
	rows := make([][]string, 0, len(releases))
	for i, r := range releases {
		b := r.BasicInformation
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			truncate(b.ArtistNames(), 32),
			truncate(b.Title, 40),
			year(b),
			truncate(FormatSummary(b), 24),
			DateAdded(r),
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#555555"))).
		Headers("#", "Artist", "Title", "Year", "Format", "Added").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 0:
				return dimStyle
			default:
				return cellStyle
			}
		})
	return t.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
