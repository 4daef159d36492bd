package alerts

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pending(id string, expiresIn time.Duration) PendingAlert {
	now := time.Now()
	return PendingAlert{
		ID:        id,
		CameraID:  "usb:0",
		Timestamp: now,
		ExpiresAt: now.Add(expiresIn),
	}
}

func TestQueue_PopAllDrains(t *testing.T) {
	q := NewQueue(10)
	q.Push(pending("pa_00000001", time.Minute))
	q.Push(pending("pa_00000002", time.Minute))
	q.Push(pending("pa_00000003", -time.Second)) // already expired

	got := q.PopAll()
	require.Len(t, got, 2)
	assert.Equal(t, "pa_00000001", got[0].ID)
	assert.Equal(t, "pa_00000002", got[1].ID)

	assert.False(t, q.HasPending())
	assert.Zero(t, q.Size())
}

func TestQueue_ExpiredNeverVisible(t *testing.T) {
	q := NewQueue(10)
	q.Push(pending("pa_00000001", -time.Second))
	assert.False(t, q.HasPending())
	assert.Zero(t, q.Size())
	assert.Empty(t, q.PopAll())
}

func TestQueue_EvictOldestOnOverflow(t *testing.T) {
	q := NewQueue(3)
	for i := 1; i <= 5; i++ {
		q.Push(pending(fmt.Sprintf("pa_%08d", i), time.Minute))
	}
	got := q.PopAll()
	require.Len(t, got, 3)
	assert.Equal(t, "pa_00000003", got[0].ID)
	assert.Equal(t, "pa_00000005", got[2].ID)
}

func TestQueue_FlushRule(t *testing.T) {
	q := NewQueue(10)
	withRule := pending("pa_00000001", time.Minute)
	withRule.ActiveRules = []RuleRef{{ID: "r_aaaa0000", Name: "person"}}
	other := pending("pa_00000002", time.Minute)
	other.ActiveRules = []RuleRef{{ID: "r_bbbb0000"}}
	q.Push(withRule)
	q.Push(other)

	assert.Equal(t, 1, q.FlushRule("r_aaaa0000"))
	got := q.PopAll()
	require.Len(t, got, 1)
	assert.Equal(t, "pa_00000002", got[0].ID)
}

func TestNewPendingAlert_Stamps(t *testing.T) {
	a := NewPendingAlert("usb:0", "Desk", "moderate", "someone walked in", "b64", "ctx", nil)
	assert.Regexp(t, `^pa_[0-9a-f]{8}$`, a.ID)
	assert.WithinDuration(t, time.Now().Add(DefaultAlertTTL), a.ExpiresAt, time.Second)
}

func TestReplayLog_BoundedAndOrdered(t *testing.T) {
	l := NewReplayLog()
	for i := 0; i < 250; i++ {
		l.Append(ReplayEvent{EventType: EventSceneChange, Message: fmt.Sprintf("m%d", i)})
	}

	all := l.Recent(0)
	require.Len(t, all, 200)
	assert.Equal(t, "m50", all[0].Message)
	assert.Equal(t, "m249", all[len(all)-1].Message)

	last10 := l.Recent(10)
	require.Len(t, last10, 10)
	assert.Equal(t, "m240", last10[0].Message)
}

func TestReplayLog_AssignsIDs(t *testing.T) {
	l := NewReplayLog()
	ev := l.Append(ReplayEvent{EventType: EventAlert, Message: "x"})
	assert.Regexp(t, `^evt_[0-9a-f]{10}$`, ev.EventID)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestStats_BudgetExceeded(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local)
	clock := func() time.Time { return now }

	// Daily budget: 10 analyses at 0.0003 reach a 0.003 budget.
	s := NewStats(0.003, 1000)
	s.SetClock(clock)
	for i := 0; i < 9; i++ {
		s.RecordAnalysis()
	}
	assert.False(t, s.BudgetExceeded())
	s.RecordAnalysis()
	assert.True(t, s.BudgetExceeded())

	// Date rollover resets the daily counter.
	now = now.Add(24 * time.Hour)
	assert.False(t, s.BudgetExceeded())
}

func TestStats_HourlyWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local)
	s := NewStats(0, 3) // budget 0 = unlimited spend, 3 calls/hour
	s.SetClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		s.RecordAnalysis()
	}
	assert.True(t, s.BudgetExceeded())

	// Window slides: an hour later the counter clears.
	now = now.Add(61 * time.Minute)
	assert.False(t, s.BudgetExceeded())
}

func TestStats_Snapshot(t *testing.T) {
	s := NewStats(1.0, 60)
	s.RecordAnalysis()
	s.RecordAlert()

	sum := s.Snapshot()
	assert.Equal(t, 1, sum.TotalAnalyses)
	assert.Equal(t, 1, sum.HourAnalyses)
	assert.Equal(t, 1, sum.TotalAlerts)
	assert.InDelta(t, 0.0003, sum.EstCostTodayUSD, 1e-9)
	assert.False(t, sum.BudgetExceeded)
}
