package alerts

import (
	"sync"
	"time"
)

// costPerAnalysisUSD is the rough blended cost of one VLM call used for
// the daily budget check.
const costPerAnalysisUSD = 0.0003

// Stats tracks analysis volume against the daily budget and the hourly rate
// limit. All counters are process-local.
type Stats struct {
	mu sync.Mutex

	totalAnalyses int
	todayAnalyses int
	todayDate     string // local YYYY-MM-DD the today counter belongs to
	hourWindow    []time.Time
	totalAlerts   int
	startTime     time.Time

	dailyBudgetUSD float64
	maxPerHour     int

	now func() time.Time
}

func NewStats(dailyBudgetUSD float64, maxPerHour int) *Stats {
	return &Stats{
		startTime:      time.Now(),
		dailyBudgetUSD: dailyBudgetUSD,
		maxPerHour:     maxPerHour,
		now:            time.Now,
	}
}

// SetClock overrides the clock. Test use only.
func (s *Stats) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// rollLocked resets the daily counter on local date rollover and prunes the
// sliding hour window.
func (s *Stats) rollLocked() {
	now := s.now()
	today := now.Format("2006-01-02")
	if s.todayDate != today {
		s.todayDate = today
		s.todayAnalyses = 0
	}
	cutoff := now.Add(-time.Hour)
	i := 0
	for i < len(s.hourWindow) && s.hourWindow[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		s.hourWindow = s.hourWindow[i:]
	}
}

// RecordAnalysis counts one VLM call.
func (s *Stats) RecordAnalysis() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollLocked()
	s.totalAnalyses++
	s.todayAnalyses++
	s.hourWindow = append(s.hourWindow, s.now())
}

// RecordAlert counts one emitted alert.
func (s *Stats) RecordAlert() {
	s.mu.Lock()
	s.totalAlerts++
	s.mu.Unlock()
}

// BudgetExceeded is true when today's estimated spend has reached the daily
// budget (0 means unlimited) or the sliding hour window is full.
func (s *Stats) BudgetExceeded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollLocked()
	if s.dailyBudgetUSD > 0 && float64(s.todayAnalyses)*costPerAnalysisUSD >= s.dailyBudgetUSD {
		return true
	}
	return s.maxPerHour > 0 && len(s.hourWindow) >= s.maxPerHour
}

// Summary is the stable stats shape shared by MCP and the dashboard.
type Summary struct {
	TotalAnalyses   int     `json:"total_analyses"`
	TodayAnalyses   int     `json:"today_analyses"`
	HourAnalyses    int     `json:"hour_analyses"`
	TotalAlerts     int     `json:"total_alerts"`
	EstCostTodayUSD float64 `json:"est_cost_today_usd"`
	DailyBudgetUSD  float64 `json:"daily_budget_usd"`
	MaxPerHour      int     `json:"max_per_hour"`
	BudgetExceeded  bool    `json:"budget_exceeded"`
	UptimeSeconds   int     `json:"uptime_seconds"`
}

// Snapshot returns the current summary.
func (s *Stats) Snapshot() Summary {
	exceeded := s.BudgetExceeded() // rolls windows, takes/releases the lock

	s.mu.Lock()
	defer s.mu.Unlock()
	return Summary{
		TotalAnalyses:   s.totalAnalyses,
		TodayAnalyses:   s.todayAnalyses,
		HourAnalyses:    len(s.hourWindow),
		TotalAlerts:     s.totalAlerts,
		EstCostTodayUSD: float64(s.todayAnalyses) * costPerAnalysisUSD,
		DailyBudgetUSD:  s.dailyBudgetUSD,
		MaxPerHour:      s.maxPerHour,
		BudgetExceeded:  exceeded,
		UptimeSeconds:   int(s.now().Sub(s.startTime).Seconds()),
	}
}
