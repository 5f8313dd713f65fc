package database

import "github.com/TobiSchelling/cheekschecker/internal/participant"

// DailyStat is the unmasked evaluation of one business day.
type DailyStat struct {
	BusinessDay    string
	Counts         participant.Counts
	Ratio          float64
	Meets          bool
	Considered     bool
	RequiredSingle int
	UpdatedAt      *string
}

// Summary is an archived period summary.
type Summary struct {
	PeriodKey    string
	PeriodName   string
	PeriodStart  string
	PeriodEnd    string
	Status       string
	MaskLevel    int
	DayCount     int
	MaskedJSON   string
	BodyMarkdown string
	GeneratedAt  *string
}

// RunReport records one CLI or scheduler run.
type RunReport struct {
	RunID             string
	Kind              string // "watch" or "summary"
	StartedAt         string
	FinishedAt        *string
	Status            string // "ok", "unchanged" or "error"
	EntryCount        int
	NotificationCount int
	Detail            *string
}

// FetchMeta holds the validators of the last successful fetch of a URL.
type FetchMeta struct {
	URL          string
	ETag         string
	LastModified string
	UpdatedAt    *string
}

// Stats holds aggregate database statistics.
type Stats struct {
	StateDays     int
	NotifiedDays  int
	DailyStats    int
	MaskedDays    int
	Summaries     int
	Runs          int
	LastRunAt     string
	LastRunStatus string
	FirstDay      string
	LastDay       string
}
