package schema

import (
	"fmt"
	"math"
	"time"
)

// PayPeriodType is how often a job is paid.
type PayPeriodType string

const (
	PayWeekly      PayPeriodType = "weekly"
	PayBiweekly    PayPeriodType = "biweekly"
	PaySemiMonthly PayPeriodType = "semi_monthly"
	PayMonthly     PayPeriodType = "monthly"
)

// RoundingMode selects the direction tracked durations are rounded in.
type RoundingMode string

const (
	RoundNearest RoundingMode = "nearest"
	RoundUp      RoundingMode = "up"
	RoundDown    RoundingMode = "down"
)

// DefaultOvertimeMultiplier applies when overtime is enabled without a
// multiplier.
const DefaultOvertimeMultiplier = 1.5

// OvertimeRules configures premium pay above a daily or weekly threshold.
type OvertimeRules struct {
	Enabled              bool    `json:"enabled"`
	DailyThresholdHours  float64 `json:"daily_threshold_hours,omitempty"`
	WeeklyThresholdHours float64 `json:"weekly_threshold_hours,omitempty"`
	Multiplier           float64 `json:"multiplier,omitempty"`
}

// RoundingRules configures how tracked durations are rounded before pay is
// computed.
type RoundingRules struct {
	Enabled         bool         `json:"enabled"`
	IntervalMinutes int          `json:"interval_minutes,omitempty"`
	Mode            RoundingMode `json:"mode,omitempty"`
}

// JobSettings holds the pay configuration of a job.
type JobSettings struct {
	PayPeriodType PayPeriodType `json:"pay_period_type,omitempty"`
	Overtime      OvertimeRules `json:"overtime"`
	Rounding      RoundingRules `json:"rounding"`
	Tags          []string      `json:"tags,omitempty"`
	Location      string        `json:"location,omitempty"`
}

// Job is a client engagement that time is tracked against.
type Job struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Client     string      `json:"client,omitempty"`
	HourlyRate float64     `json:"hourly_rate"`
	Color      string      `json:"color,omitempty"`
	Settings   JobSettings `json:"settings"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Validate checks if the Job has valid field values.
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("id is required")
	}
	if j.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(j.Title) > 200 {
		return fmt.Errorf("title must be 200 characters or less (got %d)", len(j.Title))
	}
	if j.HourlyRate < 0 || math.IsNaN(j.HourlyRate) || math.IsInf(j.HourlyRate, 0) {
		return fmt.Errorf("hourly_rate must be a non-negative number (got %v)", j.HourlyRate)
	}
	if j.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	switch j.Settings.PayPeriodType {
	case "", PayWeekly, PayBiweekly, PaySemiMonthly, PayMonthly:
	default:
		return fmt.Errorf("invalid pay_period_type: %q", j.Settings.PayPeriodType)
	}
	switch j.Settings.Rounding.Mode {
	case "", RoundNearest, RoundUp, RoundDown:
	default:
		return fmt.Errorf("invalid rounding mode: %q", j.Settings.Rounding.Mode)
	}
	if j.Settings.Rounding.IntervalMinutes < 0 {
		return fmt.Errorf("rounding interval must not be negative")
	}
	return nil
}

// Clone returns a deep copy of the job.
func (j Job) Clone() Job {
	j.Settings.Tags = cloneStrings(j.Settings.Tags)
	return j
}

// RoundDuration applies the job's rounding rules to d.
func (j *Job) RoundDuration(d time.Duration) time.Duration {
	r := j.Settings.Rounding
	if !r.Enabled || r.IntervalMinutes <= 0 || d <= 0 {
		return d
	}
	interval := time.Duration(r.IntervalMinutes) * time.Minute
	switch r.Mode {
	case RoundUp:
		if rem := d % interval; rem != 0 {
			return d - rem + interval
		}
		return d
	case RoundDown:
		return d.Truncate(interval)
	default:
		return d.Round(interval)
	}
}

// Earnings returns the pay for a single working day of duration d, applying
// overtime when enabled. The day is treated as the only one of its week. The
// result is rounded to cents.
func (j *Job) Earnings(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return roundCents(j.pay(j.splitOvertime(d.Hours(), 0)))
}

// splitOvertime divides the hours of one day into regular and overtime hours.
// weekRegular is the regular time already worked earlier in the same week;
// regular hours beyond the weekly threshold become overtime.
func (j *Job) splitOvertime(hours, weekRegular float64) (regular, overtime float64) {
	ot := j.Settings.Overtime
	if !ot.Enabled {
		return hours, 0
	}
	regular = hours
	if ot.DailyThresholdHours > 0 && regular > ot.DailyThresholdHours {
		overtime = regular - ot.DailyThresholdHours
		regular = ot.DailyThresholdHours
	}
	if ot.WeeklyThresholdHours > 0 {
		room := max(ot.WeeklyThresholdHours-weekRegular, 0)
		if regular > room {
			overtime += regular - room
			regular = room
		}
	}
	return regular, overtime
}

func (j *Job) pay(regular, overtime float64) float64 {
	mult := j.Settings.Overtime.Multiplier
	if mult <= 0 {
		mult = DefaultOvertimeMultiplier
	}
	return regular*j.HourlyRate + overtime*j.HourlyRate*mult
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
