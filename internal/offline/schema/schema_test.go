package schema

import (
	"encoding/json"
	"testing"
	"time"
)

var t0 = time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := t0.Add(d)
	return &t
}

func TestJobValidate(t *testing.T) {
	tests := []struct {
		name    string
		job     Job
		wantErr bool
	}{
		{
			name: "valid job",
			job:  Job{ID: "j1", Title: "Cafe", HourlyRate: 20, CreatedAt: t0},
		},
		{
			name:    "missing id",
			job:     Job{Title: "Cafe", CreatedAt: t0},
			wantErr: true,
		},
		{
			name:    "missing title",
			job:     Job{ID: "j1", CreatedAt: t0},
			wantErr: true,
		},
		{
			name:    "negative rate",
			job:     Job{ID: "j1", Title: "Cafe", HourlyRate: -1, CreatedAt: t0},
			wantErr: true,
		},
		{
			name: "bad pay period type",
			job: Job{ID: "j1", Title: "Cafe", CreatedAt: t0,
				Settings: JobSettings{PayPeriodType: "hourly"}},
			wantErr: true,
		},
		{
			name: "bad rounding mode",
			job: Job{ID: "j1", Title: "Cafe", CreatedAt: t0,
				Settings: JobSettings{Rounding: RoundingRules{Mode: "sideways"}}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.job.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestJobRoundDuration(t *testing.T) {
	tests := []struct {
		name string
		mode RoundingMode
		in   time.Duration
		want time.Duration
	}{
		{"nearest down", RoundNearest, 52 * time.Minute, 45 * time.Minute},
		{"nearest up", RoundNearest, 53 * time.Minute, time.Hour},
		{"up", RoundUp, 46 * time.Minute, time.Hour},
		{"up exact", RoundUp, 45 * time.Minute, 45 * time.Minute},
		{"down", RoundDown, 59 * time.Minute, 45 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := Job{Settings: JobSettings{Rounding: RoundingRules{
				Enabled: true, IntervalMinutes: 15, Mode: tt.mode,
			}}}
			if got := job.RoundDuration(tt.in); got != tt.want {
				t.Errorf("RoundDuration(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}

	disabled := Job{}
	if got := disabled.RoundDuration(52 * time.Minute); got != 52*time.Minute {
		t.Errorf("rounding disabled changed duration to %v", got)
	}
}

func TestJobEarnings(t *testing.T) {
	job := Job{HourlyRate: 20}
	if got := job.Earnings(time.Hour); got != 20 {
		t.Errorf("Earnings(1h) = %v, want 20", got)
	}
	if got := job.Earnings(90 * time.Minute); got != 30 {
		t.Errorf("Earnings(1.5h) = %v, want 30", got)
	}
	if got := job.Earnings(0); got != 0 {
		t.Errorf("Earnings(0) = %v, want 0", got)
	}

	job.Settings.Overtime = OvertimeRules{Enabled: true, DailyThresholdHours: 8}
	// 8h regular at 20 + 2h at 30.
	if got := job.Earnings(10 * time.Hour); got != 220 {
		t.Errorf("Earnings(10h) with overtime = %v, want 220", got)
	}

	job.Settings.Overtime.Multiplier = 2
	if got := job.Earnings(10 * time.Hour); got != 240 {
		t.Errorf("Earnings(10h) with 2x overtime = %v, want 240", got)
	}
}

func TestTimeEntryDuration(t *testing.T) {
	entry := TimeEntry{
		ID:        "e1",
		JobID:     "j1",
		StartTime: t0,
		EndTime:   at(2 * time.Hour),
		Breaks: []Break{
			{StartTime: t0.Add(30 * time.Minute), EndTime: at(45 * time.Minute)},
		},
		CreatedAt: t0,
	}

	if got := entry.Duration(t0.Add(5 * time.Hour)); got != 105*time.Minute {
		t.Errorf("Duration() = %v, want 1h45m", got)
	}

	open := TimeEntry{ID: "e2", JobID: "j1", StartTime: t0, CreatedAt: t0}
	if got := open.Duration(t0.Add(time.Hour)); got != time.Hour {
		t.Errorf("open Duration() = %v, want 1h", got)
	}
}

func TestTimeEntryBreaks(t *testing.T) {
	entry := TimeEntry{ID: "e1", JobID: "j1", StartTime: t0, CreatedAt: t0}

	if entry.EndBreakAt(t0) {
		t.Fatal("EndBreakAt without an open break should be a no-op")
	}
	if len(entry.Breaks) != 0 {
		t.Fatalf("breaks changed by no-op: %v", entry.Breaks)
	}

	if !entry.StartBreakAt(t0.Add(time.Minute)) {
		t.Fatal("StartBreakAt failed")
	}
	if entry.StartBreakAt(t0.Add(2 * time.Minute)) {
		t.Fatal("StartBreakAt while on break should be a no-op")
	}
	if err := entry.Validate(); err != nil {
		t.Fatalf("entry on break should be valid: %v", err)
	}

	entry.Close(t0.Add(10 * time.Minute))
	if entry.IsOnBreak {
		t.Error("Close should end a running break")
	}
	if entry.Breaks[0].EndTime == nil || !entry.Breaks[0].EndTime.Equal(t0.Add(10*time.Minute)) {
		t.Errorf("break end = %v, want close time", entry.Breaks[0].EndTime)
	}
	if entry.StartBreakAt(t0.Add(11 * time.Minute)) {
		t.Error("StartBreakAt on a closed entry should be a no-op")
	}
	if err := entry.Validate(); err != nil {
		t.Errorf("closed entry should be valid: %v", err)
	}
}

func TestTimeEntryCloneIsDeep(t *testing.T) {
	orig := TimeEntry{
		ID: "e1", JobID: "j1", StartTime: t0, EndTime: at(time.Hour),
		Breaks: []Break{{StartTime: t0, EndTime: at(time.Minute)}},
	}
	c := orig.Clone()
	*c.EndTime = t0.Add(5 * time.Hour)
	c.Breaks[0].StartTime = t0.Add(time.Hour)

	if !orig.EndTime.Equal(t0.Add(time.Hour)) {
		t.Error("clone aliases EndTime")
	}
	if !orig.Breaks[0].StartTime.Equal(t0) {
		t.Error("clone aliases Breaks")
	}
}

func TestPayPeriodValidate(t *testing.T) {
	paid := t0
	tests := []struct {
		name    string
		period  PayPeriod
		wantErr bool
	}{
		{
			name:   "unpaid",
			period: PayPeriod{ID: "p1", JobID: "j1", StartDate: t0, EndDate: t0, CreatedAt: t0},
		},
		{
			name: "paid with date",
			period: PayPeriod{ID: "p1", JobID: "j1", StartDate: t0, EndDate: t0,
				IsPaid: true, PaidDate: &paid, CreatedAt: t0},
		},
		{
			name: "paid without date",
			period: PayPeriod{ID: "p1", JobID: "j1", StartDate: t0, EndDate: t0,
				IsPaid: true, CreatedAt: t0},
			wantErr: true,
		},
		{
			name: "date without paid",
			period: PayPeriod{ID: "p1", JobID: "j1", StartDate: t0, EndDate: t0,
				PaidDate: &paid, CreatedAt: t0},
			wantErr: true,
		},
		{
			name: "inverted range",
			period: PayPeriod{ID: "p1", JobID: "j1", StartDate: t0.Add(time.Hour), EndDate: t0,
				CreatedAt: t0},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.period.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestComputePayPeriodTotals(t *testing.T) {
	job := Job{ID: "j1", HourlyRate: 20,
		Settings: JobSettings{Overtime: OvertimeRules{Enabled: true, DailyThresholdHours: 8}}}

	day2 := t0.Add(24 * time.Hour)
	end2 := day2.Add(time.Hour)
	entries := []TimeEntry{
		// Two entries on day one, 5h each: 10h -> 8h regular + 2h overtime.
		{ID: "a", JobID: "j1", StartTime: t0, EndTime: at(5 * time.Hour)},
		{ID: "b", JobID: "j1", StartTime: t0.Add(6 * time.Hour), EndTime: at(11 * time.Hour)},
		// One hour on day two.
		{ID: "c", JobID: "j1", StartTime: day2, EndTime: &end2},
		// Open entries, other jobs and out-of-range entries are excluded.
		{ID: "open", JobID: "j1", StartTime: t0.Add(12 * time.Hour)},
		{ID: "other", JobID: "j2", StartTime: t0, EndTime: at(time.Hour)},
		{ID: "late", JobID: "j1", StartTime: t0.Add(30 * 24 * time.Hour), EndTime: at(30*24*time.Hour + time.Hour)},
	}

	totals := ComputePayPeriodTotals(job, entries, t0, t0.Add(7*24*time.Hour))

	if len(totals.EntryIDs) != 3 {
		t.Fatalf("EntryIDs = %v, want a, b, c", totals.EntryIDs)
	}
	if totals.Duration != 11*time.Hour {
		t.Errorf("Duration = %v, want 11h", totals.Duration)
	}
	if totals.Earnings != 240 {
		t.Errorf("Earnings = %v, want 240", totals.Earnings)
	}
}

func TestComputePayPeriodTotalsWeeklyOvertime(t *testing.T) {
	monday := time.Date(2026, 1, 12, 8, 0, 0, 0, time.UTC)
	workday := func(id string, day int, hours time.Duration) TimeEntry {
		start := monday.AddDate(0, 0, day)
		end := start.Add(hours)
		return TimeEntry{ID: id, JobID: "j1", StartTime: start, EndTime: &end}
	}

	tests := []struct {
		name    string
		rules   OvertimeRules
		entries []TimeEntry
		want    float64
	}{
		{
			name:  "weekly only",
			rules: OvertimeRules{Enabled: true, WeeklyThresholdHours: 40},
			entries: []TimeEntry{
				workday("mon", 0, 9*time.Hour), workday("tue", 1, 9*time.Hour),
				workday("wed", 2, 9*time.Hour), workday("thu", 3, 9*time.Hour),
				workday("fri", 4, 9*time.Hour),
				// Next ISO week starts from zero again.
				workday("next", 7, 8*time.Hour),
			},
			// 40h at 20 + 5h at 30, then 8h at 20.
			want: 800 + 150 + 160,
		},
		{
			name:  "daily and weekly",
			rules: OvertimeRules{Enabled: true, DailyThresholdHours: 8, WeeklyThresholdHours: 40},
			entries: []TimeEntry{
				workday("mon", 0, 9*time.Hour), workday("tue", 1, 9*time.Hour),
				workday("wed", 2, 9*time.Hour), workday("thu", 3, 9*time.Hour),
				workday("fri", 4, 9*time.Hour), workday("sat", 5, 4*time.Hour),
			},
			// 8h regular per weekday, 1h daily overtime each, Saturday all overtime.
			want: 800 + 5*30 + 4*30,
		},
		{
			name:  "weekly disabled",
			rules: OvertimeRules{WeeklyThresholdHours: 40},
			entries: []TimeEntry{
				workday("mon", 0, 25*time.Hour), workday("tue", 1, 20*time.Hour),
			},
			want: 45 * 20,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := Job{ID: "j1", HourlyRate: 20, Settings: JobSettings{Overtime: tt.rules}}
			totals := ComputePayPeriodTotals(job, tt.entries, monday, monday.AddDate(0, 0, 14))
			if totals.Earnings != tt.want {
				t.Errorf("Earnings = %v, want %v", totals.Earnings, tt.want)
			}
		})
	}
}

func TestJobEarningsWeeklyThreshold(t *testing.T) {
	job := Job{HourlyRate: 10,
		Settings: JobSettings{Overtime: OvertimeRules{Enabled: true, WeeklyThresholdHours: 4}}}
	// A single day past the weekly threshold is paid overtime beyond it.
	if got := job.Earnings(6 * time.Hour); got != 70 {
		t.Errorf("Earnings(6h) = %v, want 70", got)
	}
}

func TestSyncQueueItemValidate(t *testing.T) {
	item := SyncQueueItem{
		ID:         "q1",
		EntityType: EntityJob,
		EntityID:   "j1",
		Operation:  OpCreate,
		Payload:    json.RawMessage(`{}`),
		EnqueuedAt: t0,
	}
	if err := item.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}

	item.Operation = "merge"
	if err := item.Validate(); err == nil {
		t.Error("Validate() accepted an unknown operation")
	}

	item.Operation = OpDelete
	item.EntityType = "invoice"
	if err := item.Validate(); err == nil {
		t.Error("Validate() accepted an unknown entity type")
	}
}

func TestOperationClass(t *testing.T) {
	if OpCreate.Class() != ClassUpsert || OpUpdate.Class() != ClassUpsert {
		t.Error("create and update should collapse to upsert")
	}
	if OpDelete.Class() != ClassDelete {
		t.Error("delete should stay delete")
	}
}
