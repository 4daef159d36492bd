// Package memory persists long-lived context as a human-readable markdown
// file with three fixed sections. The file is the shared global; a
// process-wide lock registry keyed by path keeps read-modify-write atomic
// no matter how many components hold a Store for the same file.
package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	headerEvents      = "## Event Log"
	headerRuleContext = "## Rule Context"
	headerPreferences = "## User Preferences"

	maxEventLines = 500
)

var (
	locksMu sync.Mutex
	locks   = map[string]*sync.Mutex{}
)

func lockFor(path string) *sync.Mutex {
	locksMu.Lock()
	defer locksMu.Unlock()
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if locks[abs] == nil {
		locks[abs] = &sync.Mutex{}
	}
	return locks[abs]
}

// Store reads and writes one memory file. Failures never propagate: a
// corrupted or unwritable file logs a warning and degrades to no-op/empty.
type Store struct {
	Path string
	Log  *logrus.Logger
}

func NewStore(path string, log *logrus.Logger) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{Path: path, Log: log}
}

// document is the parsed three-section view of the file.
type document struct {
	events      []string // markdown bullet lines, newest first
	ruleContext []string
	preferences []string
}

func parse(raw string) *document {
	doc := &document{}
	section := ""
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimRight(line, "\r")
		switch trimmed {
		case headerEvents:
			section = "events"
			continue
		case headerRuleContext:
			section = "rules"
			continue
		case headerPreferences:
			section = "prefs"
			continue
		}
		if !strings.HasPrefix(strings.TrimSpace(trimmed), "- ") {
			continue
		}
		entry := strings.TrimSpace(trimmed)
		switch section {
		case "events":
			doc.events = append(doc.events, entry)
		case "rules":
			doc.ruleContext = append(doc.ruleContext, entry)
		case "prefs":
			doc.preferences = append(doc.preferences, entry)
		}
	}
	return doc
}

func (d *document) render() string {
	var b strings.Builder
	b.WriteString("# Physical MCP Memory\n\n")
	b.WriteString(headerEvents + "\n\n")
	for _, e := range d.events {
		b.WriteString(e + "\n")
	}
	b.WriteString("\n" + headerRuleContext + "\n\n")
	for _, e := range d.ruleContext {
		b.WriteString(e + "\n")
	}
	b.WriteString("\n" + headerPreferences + "\n\n")
	for _, e := range d.preferences {
		b.WriteString(e + "\n")
	}
	return b.String()
}

// load reads the file; missing yields an empty document, never an error.
func (s *Store) load() *document {
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.Log.Warnf("memory: read %s: %v", s.Path, err)
		}
		return &document{}
	}
	return parse(string(raw))
}

func (s *Store) save(doc *document) {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		s.Log.Warnf("memory: create dir: %v", err)
		return
	}
	if err := os.WriteFile(s.Path, []byte(doc.render()), 0o600); err != nil {
		s.Log.Warnf("memory: write %s: %v", s.Path, err)
	}
}

// AppendEvent prepends a timestamped entry to the event log, trimming to
// 500 entries.
func (s *Store) AppendEvent(text string) {
	mu := lockFor(s.Path)
	mu.Lock()
	defer mu.Unlock()

	doc := s.load()
	entry := fmt.Sprintf("- %s | %s", time.Now().Format("2006-01-02 15:04"), text)
	doc.events = append([]string{entry}, doc.events...)
	if len(doc.events) > maxEventLines {
		doc.events = doc.events[:maxEventLines]
	}
	s.save(doc)
}

// SetRuleContext upserts the context note keyed by rule id.
func (s *Store) SetRuleContext(ruleID, text string) {
	mu := lockFor(s.Path)
	mu.Lock()
	defer mu.Unlock()

	doc := s.load()
	entry := fmt.Sprintf("- %s: %s", ruleID, text)
	doc.ruleContext = upsert(doc.ruleContext, "- "+ruleID+":", entry)
	s.save(doc)
}

// RemoveRuleContext drops the note for a deleted rule.
func (s *Store) RemoveRuleContext(ruleID string) {
	mu := lockFor(s.Path)
	mu.Lock()
	defer mu.Unlock()

	doc := s.load()
	doc.ruleContext = remove(doc.ruleContext, "- "+ruleID+":")
	s.save(doc)
}

// SetPreference upserts a user preference keyed by name.
func (s *Store) SetPreference(key, value string) {
	mu := lockFor(s.Path)
	mu.Lock()
	defer mu.Unlock()

	doc := s.load()
	entry := fmt.Sprintf("- %s: %s", key, value)
	doc.preferences = upsert(doc.preferences, "- "+key+":", entry)
	s.save(doc)
}

// ReadAll returns the whole document as markdown. Missing file yields the
// empty skeleton.
func (s *Store) ReadAll() string {
	mu := lockFor(s.Path)
	mu.Lock()
	defer mu.Unlock()
	return s.load().render()
}

// RecentEvents returns up to n newest event entries, newest first.
func (s *Store) RecentEvents(n int) []string {
	mu := lockFor(s.Path)
	mu.Lock()
	defer mu.Unlock()

	events := s.load().events
	if n > 0 && n < len(events) {
		events = events[:n]
	}
	return events
}

func upsert(list []string, keyPrefix, entry string) []string {
	for i, e := range list {
		if strings.HasPrefix(e, keyPrefix) {
			list[i] = entry
			return list
		}
	}
	return append(list, entry)
}

func remove(list []string, keyPrefix string) []string {
	out := list[:0]
	for _, e := range list {
		if !strings.HasPrefix(e, keyPrefix) {
			out = append(out, e)
		}
	}
	return out
}
