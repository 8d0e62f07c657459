// Package memory persists detection state between runs: every event ever
// seen, approval decisions, rejection run-stamps, a history log, and the run
// counter. The whole state is one JSON snapshot loaded at the start of a run
// and written back atomically at the end. Single-writer: there is no locking,
// and a concurrent writer would lose updates.
package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// DefaultTTLRuns is how many subsequent runs a rejection stays sticky.
const DefaultTTLRuns = 2

// State is the durable snapshot. Events are stored as raw maps so fields
// added by newer versions survive a round-trip through an older build.
type State struct {
	Events            []map[string]any    `json:"events"`
	Approvals         map[string]bool     `json:"approvals"`
	History           []string            `json:"history"`
	RunCount          int                 `json:"run_count"`
	Rejections        map[string]int      `json:"rejections"`
	PendingEventIDs   []string            `json:"pending_event_ids"`
	LastItineraryRows []map[string]string `json:"last_itinerary_rows,omitempty"`
}

func newState() *State {
	return &State{
		Events:          []map[string]any{},
		Approvals:       map[string]bool{},
		History:         []string{},
		Rejections:      map[string]int{},
		PendingEventIDs: []string{},
	}
}

// Store owns a state snapshot bound to a file path.
type Store struct {
	path  string
	State *State
}

// NewStore creates a store for path and loads the existing snapshot if there
// is one; a missing file yields a fresh state.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path, State: newState()}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load replaces the in-memory state with the snapshot on disk. A missing
// file leaves the fresh state in place.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading memory state %s: %w", s.path, err)
	}

	state := newState()
	if err := json.Unmarshal(data, state); err != nil {
		return fmt.Errorf("parsing memory state %s: %w", s.path, err)
	}
	if state.Approvals == nil {
		state.Approvals = map[string]bool{}
	}
	if state.Rejections == nil {
		state.Rejections = map[string]int{}
	}
	s.State = state
	return nil
}

// Save writes the full snapshot atomically: temp file in the same directory,
// then rename.
func (s *Store) Save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	data, err := json.MarshalIndent(s.State, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding memory state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".state-*.json")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}

// AddEvents appends events, skipping ids already present. Insertion order is
// preserved and the first-seen version of an event wins.
func (s *Store) AddEvents(events []map[string]any) {
	existing := make(map[string]struct{}, len(s.State.Events))
	for _, e := range s.State.Events {
		if id, ok := e["id"].(string); ok {
			existing[id] = struct{}{}
		}
	}
	for _, e := range events {
		id, _ := e["id"].(string)
		if id != "" {
			if _, dup := existing[id]; dup {
				continue
			}
			existing[id] = struct{}{}
		}
		s.State.Events = append(s.State.Events, e)
	}
}

// EventByID returns the stored event map for id, or nil.
func (s *Store) EventByID(id string) map[string]any {
	for _, e := range s.State.Events {
		if e["id"] == id {
			return e
		}
	}
	return nil
}

// AddHistory appends a free-text line to the history log.
func (s *Store) AddHistory(entry string) {
	s.State.History = append(s.State.History, entry)
}

// SetApproval records the decision for an event. A rejection additionally
// stamps the current run number so the event stays blocked for the TTL.
func (s *Store) SetApproval(eventID string, approved bool) {
	s.State.Approvals[eventID] = approved
	if !approved {
		s.State.Rejections[eventID] = s.State.RunCount
	}
}

// ResolvePending removes eventID from the pending list, if present.
func (s *Store) ResolvePending(eventID string) {
	for i, id := range s.State.PendingEventIDs {
		if id == eventID {
			s.State.PendingEventIDs = append(s.State.PendingEventIDs[:i], s.State.PendingEventIDs[i+1:]...)
			return
		}
	}
}

// IncrementRunCount bumps the monotonic run counter and returns the new value.
func (s *Store) IncrementRunCount() int {
	s.State.RunCount++
	return s.State.RunCount
}

// BlockedEventIDs returns the ids rejected within the last ttlRuns runs,
// inclusive: an event rejected at run R is blocked while
// current_run - R <= ttlRuns. Approval never expires; only rejections do.
func (s *Store) BlockedEventIDs(ttlRuns int) []string {
	blocked := []string{}
	for eventID, rejectedRun := range s.State.Rejections {
		if s.State.RunCount-rejectedRun <= ttlRuns {
			blocked = append(blocked, eventID)
		}
	}
	return blocked
}

// SummarizeHistory returns the last maxEntries history lines as text.
func (s *Store) SummarizeHistory(maxEntries int) string {
	entries := s.State.History
	if len(entries) > maxEntries {
		entries = entries[len(entries)-maxEntries:]
	}
	return strings.Join(entries, "\n")
}

// SummarizeApprovals returns up to maxEntries "id: decision" lines. Map
// order is not stable across processes; good enough for agent context.
func (s *Store) SummarizeApprovals(maxEntries int) string {
	lines := make([]string, 0, len(s.State.Approvals))
	for eventID, approved := range s.State.Approvals {
		lines = append(lines, fmt.Sprintf("%s: %t", eventID, approved))
	}
	if len(lines) > maxEntries {
		lines = lines[len(lines)-maxEntries:]
	}
	return strings.Join(lines, "\n")
}

// Summary assembles the approvals + history block fed into the agent prompt.
func (s *Store) Summary() string {
	return "Approvals:\n" + s.SummarizeApprovals(5) + "\nHistory:\n" + s.SummarizeHistory(5)
}

// MustSave saves and logs on failure. For call sites where a failed state
// write should not abort the response already being returned.
func (s *Store) MustSave() {
	if err := s.Save(); err != nil {
		log.Error().Err(err).Str("path", s.path).Msg("failed to save memory state")
	}
}
