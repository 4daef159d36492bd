package memory

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "memory.md"), nil)
}

func TestStore_MissingFileIsEmpty(t *testing.T) {
	s := tempStore(t)
	assert.Empty(t, s.RecentEvents(10))
	out := s.ReadAll()
	assert.Contains(t, out, "## Event Log")
	assert.Contains(t, out, "## Rule Context")
	assert.Contains(t, out, "## User Preferences")
}

func TestStore_AppendEvent(t *testing.T) {
	s := tempStore(t)
	s.AppendEvent("rule created: person at door")
	s.AppendEvent("alert: person at door triggered")

	events := s.RecentEvents(10)
	require.Len(t, events, 2)
	// Newest first, timestamped bullets.
	assert.Contains(t, events[0], "alert: person at door triggered")
	assert.Regexp(t, `^- \d{4}-\d{2}-\d{2} \d{2}:\d{2} \| `, events[0])
}

func TestStore_EventLogBounded(t *testing.T) {
	s := tempStore(t)
	for i := 0; i < maxEventLines+20; i++ {
		s.AppendEvent(fmt.Sprintf("event %d", i))
	}
	events := s.RecentEvents(0)
	assert.Len(t, events, maxEventLines)
	assert.Contains(t, events[0], fmt.Sprintf("event %d", maxEventLines+19))
}

func TestStore_RuleContextUpsertIdempotent(t *testing.T) {
	s := tempStore(t)
	s.SetRuleContext("r_abcd1234", "watches the front door")
	s.SetRuleContext("r_abcd1234", "watches the back door")
	s.SetRuleContext("r_ffff0000", "other rule")

	out := s.ReadAll()
	assert.Contains(t, out, "- r_abcd1234: watches the back door")
	assert.NotContains(t, out, "front door")
	assert.Equal(t, 1, strings.Count(out, "r_abcd1234"))

	s.RemoveRuleContext("r_abcd1234")
	out = s.ReadAll()
	assert.NotContains(t, out, "r_abcd1234")
	assert.Contains(t, out, "r_ffff0000")
}

func TestStore_Preferences(t *testing.T) {
	s := tempStore(t)
	s.SetPreference("quiet_hours", "22:00-07:00")
	s.SetPreference("quiet_hours", "23:00-06:00")

	out := s.ReadAll()
	assert.Contains(t, out, "- quiet_hours: 23:00-06:00")
	assert.Equal(t, 1, strings.Count(out, "quiet_hours"))
}

func TestStore_SectionsSurviveRoundtrip(t *testing.T) {
	s := tempStore(t)
	s.AppendEvent("e1")
	s.SetRuleContext("r_00000001", "ctx")
	s.SetPreference("tone", "brief")

	// A second store on the same path sees the same content.
	s2 := NewStore(s.Path, nil)
	out := s2.ReadAll()
	assert.Contains(t, out, "e1")
	assert.Contains(t, out, "- r_00000001: ctx")
	assert.Contains(t, out, "- tone: brief")
}

func TestStore_ConcurrentWritersSerialize(t *testing.T) {
	s := tempStore(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.AppendEvent(fmt.Sprintf("concurrent %d", i))
		}(i)
	}
	wg.Wait()
	assert.Len(t, s.RecentEvents(0), 20)
}
