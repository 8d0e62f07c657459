package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ErrNoJSON is returned when no JSON object can be located in agent output.
var ErrNoJSON = errors.New("no JSON object found in output")

// Schema describes the batch shape the agent must return. Kept loose on
// optional fields; the strict checks (ISO dates, evidence) live in the
// filters and the detector's acceptance criteria.
const Schema = `{
  "type": "object",
  "required": ["events"],
  "properties": {
    "events": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["category", "title", "location", "date", "description", "rationale", "recommendation", "proposed_change", "sources", "confidence"],
        "properties": {
          "id": {"type": "string"},
          "category": {"enum": ["hazard", "opportunity"]},
          "title": {"type": "string"},
          "location": {"type": "string"},
          "date": {"type": "string"},
          "time_window": {"type": ["string", "null"]},
          "description": {"type": "string"},
          "rationale": {"type": "string"},
          "recommendation": {"type": "string"},
          "proposed_change": {"type": "string"},
          "itinerary_day": {"type": ["string", "null"]},
          "itinerary_row_id": {"type": ["string", "null"]},
          "change_type": {"enum": ["move", "cancel", "swap", "add", "replace", null]},
          "new_time": {"type": ["string", "null"]},
          "new_location": {"type": ["string", "null"]},
          "sources": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["title", "url", "snippet"],
              "properties": {
                "title": {"type": "string"},
                "url": {"type": "string"},
                "snippet": {"type": "string"}
              }
            }
          },
          "confidence": {"type": "number", "minimum": 0, "maximum": 1}
        }
      }
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(Schema)

// FormatInstructions is appended to the agent prompt so the model returns a
// batch matching Schema.
func FormatInstructions() string {
	return "The output should be formatted as a JSON object that conforms to the JSON schema below.\n\n" +
		"```\n" + Schema + "\n```\n" +
		"Return the JSON object only, with no commentary."
}

// ParseBatch parses agent output into a Batch. It first tries the text as-is,
// then falls back to the JSON object embedded in it (models often wrap the
// payload in code fences or prose). The candidate is validated against Schema
// before unmarshalling; validation failures are reported, not repaired.
func ParseBatch(text string) (*Batch, error) {
	candidate := strings.TrimSpace(text)
	if candidate == "" {
		return nil, ErrNoJSON
	}

	b, err := parseCandidate(candidate)
	if err == nil {
		return b, nil
	}

	extracted, ok := extractJSONObject(candidate)
	if !ok {
		return nil, fmt.Errorf("parsing agent output: %w", err)
	}
	b, err2 := parseCandidate(extracted)
	if err2 != nil {
		return nil, fmt.Errorf("parsing agent output: %w", err2)
	}
	return b, nil
}

func parseCandidate(text string) (*Batch, error) {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewStringLoader(text))
	if err != nil {
		return nil, fmt.Errorf("schema validation: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("schema validation: %s", strings.Join(msgs, "; "))
	}

	var b Batch
	if err := json.Unmarshal([]byte(text), &b); err != nil {
		return nil, fmt.Errorf("unmarshalling batch: %w", err)
	}
	return &b, nil
}

// extractJSONObject returns the substring between the first '{' and the last
// '}' in text. Good enough for fenced or prose-wrapped model output; the
// schema validation pass rejects garbage.
func extractJSONObject(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}
