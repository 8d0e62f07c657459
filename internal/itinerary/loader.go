// Package itinerary loads and normalizes the fixed trip documents the
// detector works against: free-text traveller preferences and a tabular
// itinerary. Column headers are normalized and aliased so spreadsheets
// exported with different conventions (Start/From/Depart, Town/Destination)
// all land on the same canonical keys.
package itinerary

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Row is one normalized itinerary row. Canonical keys: day, date,
// start_time, end_time, city, location_area, activity_type,
// activity_description, notes, row_id.
type Row = map[string]string

// Context is the distilled view of an itinerary handed to the detector:
// the trip's date span and the places it touches.
type Context struct {
	DateMin   string   `json:"date_min"`
	DateMax   string   `json:"date_max"`
	Dates     []string `json:"dates"`
	Cities    []string `json:"cities"`
	Locations []string `json:"locations"`
}

var requiredColumns = []string{"day", "date", "start_time", "end_time", "city"}

var columnAliases = map[string]string{
	"daynumber":        "day",
	"day_no":           "day",
	"daynum":           "day",
	"start":            "start_time",
	"starttime":        "start_time",
	"begin":            "start_time",
	"from":             "start_time",
	"depart":           "start_time",
	"departure":        "start_time",
	"end":              "end_time",
	"endtime":          "end_time",
	"finish":           "end_time",
	"to":               "end_time",
	"arrive":           "end_time",
	"arrival":          "end_time",
	"town":             "city",
	"location_city":    "city",
	"city_name":        "city",
	"destination_city": "city",
	"destination":      "city",
	"location":         "location_area",
	"area":             "location_area",
	"activity":         "activity_description",
	"details":          "activity_description",
	"desc":             "activity_description",
	"description":      "activity_description",
}

// LoadPreferences reads the traveller preference document. Plain-text
// formats only; anything else needs conversion upstream.
func LoadPreferences(path string) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".txt", ".md", "":
	default:
		return "", fmt.Errorf("unsupported preferences format %q (use .txt or .md)", ext)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading preferences: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// LoadRows reads an itinerary CSV, normalizes its header, and returns the
// rows with row_id defaulted to the 1-based row index.
func LoadRows(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading itinerary: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing itinerary CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("itinerary %s is empty", path)
	}

	columns := normalizeColumns(records[0])
	if err := validateColumns(columns); err != nil {
		return nil, err
	}

	var rows []Row
	for idx, record := range records[1:] {
		if isBlank(record) {
			continue
		}
		row := Row{}
		for i, col := range columns {
			if i < len(record) {
				row[col] = strings.TrimSpace(record[i])
			} else {
				row[col] = ""
			}
		}
		if row["row_id"] == "" {
			row["row_id"] = strconv.Itoa(idx + 1)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func normalizeColumns(header []string) []string {
	normalized := make([]string, len(header))
	for i, col := range header {
		value := strings.ToLower(strings.TrimSpace(col))
		value = strings.ReplaceAll(value, " / ", "_")
		value = strings.ReplaceAll(value, " ", "_")
		value = strings.ReplaceAll(value, "-", "_")
		value = strings.ReplaceAll(value, "#", "")
		if alias, ok := columnAliases[value]; ok {
			value = alias
		}
		normalized[i] = value
	}
	return normalized
}

func validateColumns(columns []string) error {
	present := make(map[string]bool, len(columns))
	for _, c := range columns {
		present[c] = true
	}
	var missing []string
	for _, c := range requiredColumns {
		if !present[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("itinerary is missing required columns: %s", strings.Join(missing, ", "))
	}
	return nil
}

func isBlank(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

// FormatRows renders the rows as the pipe-separated block given to the agent.
func FormatRows(rows []Row) string {
	lines := make([]string, len(rows))
	for i, row := range rows {
		lines[i] = strings.Join([]string{
			"Day " + row["day"],
			row["date"],
			row["start_time"] + "-" + row["end_time"],
			row["city"],
			row["location_area"],
			row["activity_type"],
			row["activity_description"],
			row["notes"],
		}, " | ")
	}
	return strings.Join(lines, "\n")
}

var dateLayouts = []string{"2006-01-02", "2006/01/02", "01/02/2006", "02/01/2006"}

func parseRowDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ExtractContext derives the trip's date span, cities, and locations.
func ExtractContext(rows []Row) Context {
	var dates []time.Time
	citySet := map[string]struct{}{}
	locationSet := map[string]struct{}{}

	for _, row := range rows {
		if parsed, ok := parseRowDate(row["date"]); ok {
			dates = append(dates, parsed)
		}
		if city := strings.TrimSpace(row["city"]); city != "" {
			citySet[city] = struct{}{}
		}
		if loc := strings.TrimSpace(row["location_area"]); loc != "" {
			locationSet[loc] = struct{}{}
		}
	}

	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	ctx := Context{
		Cities:    sortedKeys(citySet),
		Locations: sortedKeys(locationSet),
	}
	for _, d := range dates {
		ctx.Dates = append(ctx.Dates, d.Format("2006-01-02"))
	}
	if len(dates) > 0 {
		ctx.DateMin = dates[0].Format("2006-01-02")
		ctx.DateMax = dates[len(dates)-1].Format("2006-01-02")
	}
	return ctx
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AllowedLocationTerms is the location allowlist fed to the opportunity
// filter: every city plus every named location area.
func (c Context) AllowedLocationTerms() []string {
	terms := make([]string, 0, len(c.Cities)+len(c.Locations))
	terms = append(terms, c.Cities...)
	terms = append(terms, c.Locations...)
	return terms
}
