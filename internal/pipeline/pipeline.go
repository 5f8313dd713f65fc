package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/TobiSchelling/cheekschecker/internal/businessday"
	"github.com/TobiSchelling/cheekschecker/internal/calendar"
	"github.com/TobiSchelling/cheekschecker/internal/config"
	"github.com/TobiSchelling/cheekschecker/internal/criteria"
	"github.com/TobiSchelling/cheekschecker/internal/database"
	"github.com/TobiSchelling/cheekschecker/internal/fetch"
	"github.com/TobiSchelling/cheekschecker/internal/mask"
	"github.com/TobiSchelling/cheekschecker/internal/metrics"
	"github.com/TobiSchelling/cheekschecker/internal/notify"
	"github.com/TobiSchelling/cheekschecker/internal/report"
	"github.com/TobiSchelling/cheekschecker/internal/stage"
	"github.com/TobiSchelling/cheekschecker/internal/summary"
)

// Run kinds and statuses recorded in run_reports.
const (
	KindWatch   = "watch"
	KindSummary = "summary"

	StatusOK        = "ok"
	StatusUnchanged = "unchanged"
	StatusError     = "error"
)

// ErrNoEntries is returned when the calendar page yields no business days.
var ErrNoEntries = errors.New("no calendar days parsed")

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of a run.
type Result struct {
	RunID    string
	Kind     string
	Status   string
	Steps    []StepResult
	Entries  []calendar.DailyEntry
	Requests []stage.Request
}

// Err returns the first step error, if any.
func (r *Result) Err() error {
	for _, s := range r.Steps {
		if s.Err != nil {
			return fmt.Errorf("%s: %w", strings.ToLower(s.Name), s.Err)
		}
	}
	return nil
}

func (r *Result) add(step StepResult) StepResult {
	r.Steps = append(r.Steps, step)
	return step
}

// WatchOptions tune a single watch run.
type WatchOptions struct {
	// SaveHTML, when set, is the path the fetched page is written to.
	SaveHTML string
}

// Pipeline orchestrates watch and summary runs.
type Pipeline struct {
	cfg       *config.Config
	db        *database.DB
	fetcher   *fetch.Fetcher
	notifier  notify.Notifier
	resolver  *businessday.Resolver
	evaluator *criteria.Evaluator
	stageCfg  stage.Config
	maskCfg   mask.Config
	maskLevel mask.Level
	excludes  []string
	now       func() time.Time
}

// New creates a pipeline from a validated config.
func New(cfg *config.Config, db *database.DB, notifier notify.Notifier) (*Pipeline, error) {
	resolver, err := cfg.Resolver()
	if err != nil {
		return nil, err
	}
	settings, err := cfg.CriteriaSettings()
	if err != nil {
		return nil, err
	}
	stageCfg, err := cfg.StageConfig()
	if err != nil {
		return nil, err
	}
	maskCfg, err := cfg.MaskConfig()
	if err != nil {
		return nil, err
	}
	level, err := cfg.MaskLevel()
	if err != nil {
		return nil, err
	}

	fetcher := fetch.New(fetch.Options{
		Timeout:       cfg.FetchTimeout(),
		UserAgent:     cfg.Target.UserAgent,
		Retries:       cfg.Target.Retries,
		RespectRobots: cfg.Target.RespectRobots,
	})

	return &Pipeline{
		cfg:       cfg,
		db:        db,
		fetcher:   fetcher,
		notifier:  notifier,
		resolver:  resolver,
		evaluator: criteria.NewEvaluator(settings),
		stageCfg:  stageCfg,
		maskCfg:   maskCfg,
		maskLevel: level,
		excludes:  cfg.ExcludeKeywords(),
		now:       time.Now,
	}, nil
}

func (p *Pipeline) notifyOptions() notify.Options {
	return notify.Options{TargetURL: p.cfg.Target.URL, PingChannel: p.cfg.Notify.PingChannel}
}

// Watch fetches the calendar once, advances the notification state and sends
// any due notifications.
func (p *Pipeline) Watch(ctx context.Context, opts WatchOptions) *Result {
	started := p.now()
	r := &Result{RunID: uuid.NewString(), Kind: KindWatch, Status: StatusOK}
	logger := log.WithField("run_id", r.RunID)
	logicalToday := p.resolver.LogicalBusinessDay(started)
	logger.WithField("business_day", businessday.Key(logicalToday)).Info("watch run started")

	// Step 1: Fetch
	page, step := p.runFetch(ctx)
	r.add(step)
	if step.Err != nil {
		p.send(ctx, notify.ErrorMessage("fetch", step.Err))
		return p.finish(r, started)
	}
	if page.NotModified {
		r.Status = StatusUnchanged
		return p.finish(r, started)
	}

	if opts.SaveHTML != "" {
		if err := os.WriteFile(opts.SaveHTML, page.Body, 0o644); err != nil {
			logger.WithError(err).Warn("could not save fetched html")
		} else {
			logger.WithField("path", opts.SaveHTML).Info("saved fetched html")
		}
	}

	// Step 2: Parse
	entries, step := p.runParse(page.Body, logicalToday)
	r.add(step)
	if step.Err != nil {
		p.send(ctx, notify.ErrorMessage("parse", step.Err))
		return p.finish(r, started)
	}
	r.Entries = entries

	// Step 3: Stage
	requests, step := p.runStage(ctx, entries, logicalToday, started)
	r.add(step)
	if step.Err != nil {
		return p.finish(r, started)
	}
	r.Requests = requests

	// Step 4: Notify
	r.add(p.runNotify(ctx, requests))

	// Step 5: History
	r.add(p.runHistory(entries, logicalToday))

	if p.cfg.Notify.DebugSummary {
		p.send(ctx, notify.DebugSummaryMessage(entries, p.notifyOptions()))
	}

	// Validators are stored last so a failed run refetches the page.
	if r.Err() == nil {
		meta := database.FetchMeta{URL: p.cfg.Target.URL, ETag: page.Meta.ETag, LastModified: page.Meta.LastModified}
		if err := p.db.SaveFetchMeta(meta); err != nil {
			logger.WithError(err).Warn("could not store fetch metadata")
		}
	}
	return p.finish(r, started)
}

func (p *Pipeline) runFetch(ctx context.Context) (*fetch.Result, StepResult) {
	log.Info("Step 1/5: Fetching calendar...")
	prev, err := p.db.GetFetchMeta(p.cfg.Target.URL)
	if err != nil {
		return nil, StepResult{Name: "Fetch", Err: fmt.Errorf("loading fetch metadata: %w", err)}
	}
	res, err := p.fetcher.Fetch(ctx, p.cfg.Target.URL, fetch.Meta{ETag: prev.ETag, LastModified: prev.LastModified})
	if err != nil {
		metrics.FetchAttemptsTotal.Add(float64(p.cfg.Target.Retries))
		return nil, StepResult{Name: "Fetch", Err: err}
	}
	metrics.FetchAttemptsTotal.Add(float64(res.Attempts))
	if res.NotModified {
		return res, StepResult{Name: "Fetch", Summary: "Page not modified, skipping"}
	}
	return res, StepResult{
		Name:    "Fetch",
		Summary: fmt.Sprintf("Fetched %d bytes in %d attempt(s)", len(res.Body), res.Attempts),
	}
}

func (p *Pipeline) runParse(body []byte, logicalToday time.Time) ([]calendar.DailyEntry, StepResult) {
	log.Info("Step 2/5: Parsing calendar...")
	cells, err := calendar.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, StepResult{Name: "Parse", Err: err}
	}
	entries := calendar.BuildEntries(cells, logicalToday, p.evaluator, p.excludes)
	calendar.LogSnapshot(entries, logicalToday)
	if len(entries) == 0 {
		return nil, StepResult{Name: "Parse", Err: ErrNoEntries}
	}

	meeting := 0
	for _, e := range entries {
		if e.Result.Meets {
			meeting++
		}
	}
	metrics.ParsedDays.Set(float64(len(entries)))
	metrics.MeetingDays.Set(float64(meeting))
	return entries, StepResult{
		Name:    "Parse",
		Summary: fmt.Sprintf("Parsed %d days, %d meeting the criteria", len(entries), meeting),
	}
}

func (p *Pipeline) runStage(ctx context.Context, entries []calendar.DailyEntry, logicalToday, now time.Time) ([]stage.Request, StepResult) {
	log.Info("Step 3/5: Advancing notification state...")
	observations := calendar.Observations(entries)
	var requests []stage.Request
	attempts, err := p.db.UpdateState(ctx, logicalToday, func(current stage.State) (stage.State, error) {
		next, reqs := stage.Apply(current, observations, logicalToday, now, p.stageCfg)
		requests = reqs
		return next, nil
	})
	if attempts > 1 {
		metrics.StateConflictsTotal.Add(float64(attempts - 1))
	}
	if err != nil {
		return nil, StepResult{Name: "Stage", Err: err}
	}
	return requests, StepResult{
		Name:    "Stage",
		Summary: fmt.Sprintf("%d notification(s) due", len(requests)),
	}
}

func (p *Pipeline) runNotify(ctx context.Context, requests []stage.Request) StepResult {
	log.Info("Step 4/5: Sending notifications...")
	msg, ok := notify.StageMessage(requests, p.notifyOptions())
	if !ok {
		return StepResult{Name: "Notify", Summary: "Nothing to announce"}
	}
	for _, req := range requests {
		metrics.NotificationsTotal.WithLabelValues(string(req.Stage)).Inc()
		log.WithFields(log.Fields{"business_day": req.Key(), "stage": req.Stage}).Info("stage notification")
	}
	if err := p.send(ctx, msg); err != nil {
		return StepResult{Name: "Notify", Err: err}
	}
	return StepResult{Name: "Notify", Summary: fmt.Sprintf("Sent %d notification(s)", len(requests))}
}

func (p *Pipeline) runHistory(entries []calendar.DailyEntry, logicalToday time.Time) StepResult {
	log.Info("Step 5/5: Recording history...")
	var stats []database.DailyStat
	var masked []mask.Record
	for _, e := range entries {
		// Future days are reservations still filling up, and cells well
		// behind today may already belong to the next month.
		if !stage.InWindow(e.BusinessDay, logicalToday, p.stageCfg.IgnoreOlderThan) {
			continue
		}
		stats = append(stats, database.DailyStat{
			BusinessDay:    e.Key(),
			Counts:         e.Counts,
			Ratio:          e.Result.Ratio,
			Meets:          e.Result.Meets,
			Considered:     e.Result.Considered,
			RequiredSingle: e.Result.RequiredSingle,
		})
		if e.Counts.Total > 0 {
			masked = append(masked, p.maskCfg.MaskEntry(e.BusinessDay, e.Counts, p.maskLevel))
		}
	}
	if err := p.db.UpsertDailyStats(stats); err != nil {
		return StepResult{Name: "History", Err: err}
	}
	if err := p.db.UpsertMaskedHistory(masked); err != nil {
		return StepResult{Name: "History", Err: err}
	}
	return StepResult{
		Name:    "History",
		Summary: fmt.Sprintf("Recorded %d days (%d masked)", len(stats), len(masked)),
	}
}

// Summary composes, archives and sends the summary of period.
func (p *Pipeline) Summary(ctx context.Context, period summary.Period) *Result {
	started := p.now()
	r := &Result{RunID: uuid.NewString(), Kind: KindSummary, Status: StatusOK}
	log.WithFields(log.Fields{"run_id": r.RunID, "period": period.Key()}).Info("summary run started")

	composer := report.NewComposer(p.db, p.maskCfg, p.maskLevel)
	res, err := composer.ComposeSummary(period)
	if err != nil {
		r.add(StepResult{Name: "Compose", Err: err})
		return p.finish(r, started)
	}
	r.add(StepResult{
		Name:    "Compose",
		Summary: fmt.Sprintf("%s %s: %d days from %s", res.Title, period, res.Context.Days, res.Source),
	})

	msg := notify.SummaryMessage(res.Title, res.Masked, p.resolver.Location())
	if err := p.send(ctx, msg); err != nil {
		r.add(StepResult{Name: "Notify", Err: err})
	} else {
		r.add(StepResult{Name: "Notify", Summary: "Summary sent"})
	}
	return p.finish(r, started)
}

// Ping sends a test message through the configured notifier.
func (p *Pipeline) Ping(ctx context.Context) error {
	return p.send(ctx, notify.PingMessage())
}

func (p *Pipeline) send(ctx context.Context, msg notify.Message) error {
	if err := p.notifier.Send(ctx, msg); err != nil {
		metrics.SlackErrorsTotal.Inc()
		log.WithError(err).Error("slack notification failed")
		return err
	}
	return nil
}

// finish records the run report and metrics.
func (p *Pipeline) finish(r *Result, started time.Time) *Result {
	err := r.Err()
	if err != nil {
		r.Status = StatusError
	}
	finished := p.now().UTC().Format(time.RFC3339)
	run := database.RunReport{
		RunID:             r.RunID,
		Kind:              r.Kind,
		StartedAt:         started.UTC().Format(time.RFC3339),
		FinishedAt:        &finished,
		Status:            r.Status,
		EntryCount:        len(r.Entries),
		NotificationCount: len(r.Requests),
	}
	if err != nil {
		detail := err.Error()
		run.Detail = &detail
	}
	if dbErr := p.db.InsertReport(run); dbErr != nil {
		log.WithError(dbErr).Warn("could not record run report")
	}
	metrics.ObserveRun(r.Kind, r.Status, started)
	log.WithFields(log.Fields{"run_id": r.RunID, "status": r.Status}).Info("run finished")
	return r
}

// LogicalToday is the business day the pipeline treats as today.
func (p *Pipeline) LogicalToday() time.Time {
	return p.resolver.LogicalBusinessDay(p.now())
}
