package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "rules.yaml"), nil)
}

func TestStore_LoadMissingFile(t *testing.T) {
	assert.Empty(t, tempStore(t).Load())
}

func TestStore_LoadTolerant(t *testing.T) {
	s := tempStore(t)

	for name, body := range map[string]string{
		"empty file":     "",
		"malformed yaml": "rules: [unclosed",
		"no rules key":   "something_else: 1\n",
		"null rules":     "rules:\n",
	} {
		require.NoError(t, os.WriteFile(s.Path, []byte(body), 0o600), name)
		assert.Empty(t, s.Load(), name)
	}
}

func TestStore_SaveLoadRoundtrip(t *testing.T) {
	s := tempStore(t)

	in := []WatchRule{
		{
			ID: "r_0a1b2c3d", Name: "person", Condition: "a person is visible",
			Priority: PriorityHigh, Enabled: true, CooldownSeconds: 90,
			Notification: NotificationTarget{Type: NotifyNtfy, Channel: "alerts"},
		},
		{
			ID: "r_ffff0000", Name: "pet", Condition: "a cat is on the counter",
			Priority: PriorityLow, Enabled: false, CooldownSeconds: 60,
			CustomMessage: "the cat again",
		},
	}
	require.NoError(t, s.Save(in))

	out := s.Load()
	require.Len(t, out, 2)
	assert.Equal(t, in[0].ID, out[0].ID)
	assert.Equal(t, in[0].Notification, out[0].Notification)
	assert.Equal(t, in[1].CustomMessage, out[1].CustomMessage)
}

func TestStore_SaveCreatesParentDirs(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "nested", "deep", "rules.yaml"), nil)
	require.NoError(t, s.Save([]WatchRule{{ID: "r_00000001", Name: "n", Condition: "c"}}))
	assert.Len(t, s.Load(), 1)
}

func TestTemplates_Catalog(t *testing.T) {
	all := ListTemplates("")
	assert.NotEmpty(t, all)

	security := ListTemplates(CategorySecurity)
	assert.NotEmpty(t, security)
	for _, tpl := range security {
		assert.Equal(t, CategorySecurity, tpl.Category)
	}

	assert.Empty(t, ListTemplates("nonexistent"))
}

func TestTemplates_FromTemplate(t *testing.T) {
	tpl, ok := TemplateByID("person_detected")
	require.True(t, ok)

	r := FromTemplate(tpl, "usb:0")
	assert.Equal(t, tpl.Condition, r.Condition)
	assert.Equal(t, "usb:0", r.CameraID)
	assert.True(t, r.Enabled)
	assert.Equal(t, tpl.CooldownSeconds, r.CooldownSeconds)

	_, ok = TemplateByID("nope")
	assert.False(t, ok)
}
