package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Store persists the rule set as {rules: [...]} YAML. A corrupted or missing
// file must never prevent the daemon from running: Load degrades to an
// empty list.
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

type rulesFile struct {
	Rules []WatchRule `yaml:"rules"`
}

// Load reads the rules file. Missing file, empty file, malformed YAML, and
// a missing rules: key all yield an empty list.
func (s *Store) Load() []WatchRule {
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.Log.Warnf("rules: read %s: %v", s.Path, err)
		}
		return nil
	}

	var doc rulesFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		s.Log.Warnf("rules: malformed YAML in %s, starting empty: %v", s.Path, err)
		return nil
	}
	return doc.Rules
}

// Save writes the rule set, creating parent directories. Field order is
// stable (struct tag order).
func (s *Store) Save(list []WatchRule) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("rules: create dir: %w", err)
	}
	if list == nil {
		list = []WatchRule{}
	}
	out, err := yaml.Marshal(rulesFile{Rules: list})
	if err != nil {
		return fmt.Errorf("rules: marshal: %w", err)
	}
	return os.WriteFile(s.Path, out, 0o600)
}

// Watch reloads the file into the callback whenever it changes on disk, so
// rules edited externally take effect without a restart. Returns a stop
// function; a watcher setup failure is logged and disables hot reload only.
func (s *Store) Watch(onChange func([]WatchRule)) func() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.Log.Warnf("rules: fsnotify unavailable, hot reload disabled: %v", err)
		return func() {}
	}

	// Watch the directory: editors replace files rather than writing in place.
	dir := filepath.Dir(s.Path)
	if err := watcher.Add(dir); err != nil {
		s.Log.Warnf("rules: cannot watch %s: %v", dir, err)
		watcher.Close()
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		var last time.Time
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(s.Path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				// Editors fire bursts of events per save; collapse them.
				if time.Since(last) < 200*time.Millisecond {
					continue
				}
				last = time.Now()
				s.Log.Infof("rules: %s changed on disk, reloading", s.Path)
				onChange(s.Load())
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.Log.Warnf("rules: watcher error: %v", err)
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}
}
