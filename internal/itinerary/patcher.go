package itinerary

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"github.com/wayscout-io/wayscout/internal/event"
)

// ApplyChanges folds approved events into the itinerary rows. Move,
// replace, and swap adjust the targeted row in place; cancel marks it;
// add appends a new row. Changes targeting unknown row ids are skipped.
func ApplyChanges(rows []Row, approved []event.Event) []Row {
	rowIndex := make(map[string]Row, len(rows))
	for _, row := range rows {
		rowIndex[row["row_id"]] = row
	}

	for _, ev := range approved {
		target := rowIndex[ev.ItineraryRowID]

		switch ev.ChangeType {
		case event.ChangeMove, event.ChangeReplace, event.ChangeSwap:
			if target == nil {
				continue
			}
			if ev.NewTime != "" {
				if start, end, ok := strings.Cut(ev.NewTime, "-"); ok {
					target["start_time"] = strings.TrimSpace(start)
					target["end_time"] = strings.TrimSpace(end)
				} else {
					target["start_time"] = ev.NewTime
				}
			}
			if ev.NewLocation != "" {
				target["location_area"] = ev.NewLocation
			}
			target["notes"] = appendNote(target["notes"], ev.ProposedChange)
		case event.ChangeCancel:
			if target == nil {
				continue
			}
			target["activity_type"] = "Cancelled"
			target["notes"] = appendNote(target["notes"], ev.ProposedChange)
		case event.ChangeAdd:
			description := ev.Title
			if description == "" {
				description = ev.ProposedChange
			}
			rows = append(rows, Row{
				"day":                  ev.ItineraryDay,
				"date":                 ev.Date,
				"start_time":           ev.NewTime,
				"end_time":             "",
				"city":                 ev.Location,
				"location_area":        ev.NewLocation,
				"activity_type":        "Added",
				"activity_description": description,
				"notes":                ev.Rationale,
			})
		}
	}

	return rows
}

func appendNote(notes, addition string) string {
	return strings.Trim(notes+" | "+addition, " |")
}

var outputColumns = []string{
	"row_id", "day", "date", "start_time", "end_time",
	"city", "location_area", "activity_type", "activity_description", "notes",
}

// WriteRows writes the rows back out as CSV with a stable column order.
func WriteRows(rows []Row, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("writing itinerary: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(outputColumns); err != nil {
		return fmt.Errorf("writing itinerary header: %w", err)
	}
	record := make([]string, len(outputColumns))
	for _, row := range rows {
		for i, col := range outputColumns {
			record[i] = row[col]
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("writing itinerary row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing itinerary: %w", err)
	}
	return nil
}
