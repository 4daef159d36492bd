// Package scene holds the rolling text-level summary of what each camera
// currently sees, plus a bounded change log.
package scene

import (
	"sync"
	"time"
)

const changeLogMax = 200

// ChangeEntry is one timestamped change-log line.
type ChangeEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description"`
}

// State is the per-camera scene state. Mutated only by the camera's
// perception loop and explicit user-triggered analyses.
type State struct {
	mu sync.Mutex

	summary        string
	objectsPresent []string
	peopleCount    int
	lastUpdated    *time.Time
	lastChangeDesc string
	updateCount    int
	changeLog      []ChangeEntry
}

func NewState() *State {
	return &State{}
}

// Update replaces the rolling summary, bumps the update counter, and appends
// a change-log entry when a change description is given.
func (s *State) Update(summary string, objects []string, peopleCount int, changeDesc string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.summary = summary
	s.objectsPresent = append([]string(nil), objects...)
	s.peopleCount = peopleCount
	s.lastUpdated = &now
	s.updateCount++
	if changeDesc != "" {
		s.lastChangeDesc = changeDesc
		s.appendChange(now, changeDesc)
	}
}

// RecordChange appends to the change log without touching the summary.
func (s *State) RecordChange(desc string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastChangeDesc = desc
	s.appendChange(time.Now(), desc)
}

func (s *State) appendChange(ts time.Time, desc string) {
	s.changeLog = append(s.changeLog, ChangeEntry{Timestamp: ts, Description: desc})
	if len(s.changeLog) > changeLogMax {
		s.changeLog = s.changeLog[len(s.changeLog)-changeLogMax:]
	}
}

// ChangeLog returns entries within the last given number of minutes,
// oldest first.
func (s *State) ChangeLog(minutes int) []ChangeEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-time.Duration(minutes) * time.Minute)
	var out []ChangeEntry
	for _, e := range s.changeLog {
		if e.Timestamp.After(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// Summary returns the current rolling summary.
func (s *State) Summary() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

// Snapshot is the stable serialized shape shared by REST and MCP.
type Snapshot struct {
	Summary               string     `json:"summary"`
	ObjectsPresent        []string   `json:"objects_present"`
	PeopleCount           int        `json:"people_count"`
	LastUpdated           *time.Time `json:"last_updated,omitempty"`
	LastChangeDescription string     `json:"last_change_description,omitempty"`
	UpdateCount           int        `json:"update_count"`
}

// Snapshot returns a consistent copy of the state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	objects := s.objectsPresent
	if objects == nil {
		objects = []string{}
	}
	return Snapshot{
		Summary:               s.summary,
		ObjectsPresent:        append([]string{}, objects...),
		PeopleCount:           s.peopleCount,
		LastUpdated:           s.lastUpdated,
		LastChangeDescription: s.lastChangeDesc,
		UpdateCount:           s.updateCount,
	}
}
