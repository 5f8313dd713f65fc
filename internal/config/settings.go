package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"

	"github.com/TobiSchelling/cheekschecker/internal/businessday"
	"github.com/TobiSchelling/cheekschecker/internal/criteria"
	"github.com/TobiSchelling/cheekschecker/internal/mask"
	"github.com/TobiSchelling/cheekschecker/internal/stage"
)

// Location loads the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	name := c.Timezone
	if name == "" {
		name = "Asia/Tokyo"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", name, err)
	}
	return loc, nil
}

// Rollover returns the rollover table, filling missing weekdays from the defaults.
func (c *Config) Rollover() (businessday.RolloverHours, error) {
	hours := businessday.DefaultRolloverHours
	for key, h := range c.RolloverHours {
		wd, err := businessday.ParseWeekday(key)
		if err != nil {
			return hours, fmt.Errorf("rollover_hours: %w", err)
		}
		hours[wd] = h
	}
	if err := hours.Validate(); err != nil {
		return hours, fmt.Errorf("rollover_hours: %w", err)
	}
	return hours, nil
}

// Resolver builds the business-day resolver.
func (c *Config) Resolver() (*businessday.Resolver, error) {
	loc, err := c.Location()
	if err != nil {
		return nil, err
	}
	hours, err := c.Rollover()
	if err != nil {
		return nil, err
	}
	return businessday.NewResolver(loc, hours), nil
}

// CriteriaSettings converts the criteria section.
func (c *Config) CriteriaSettings() (criteria.Settings, error) {
	s := criteria.Settings{
		Thresholds:     criteria.NewThresholdTable(c.Criteria.SingleWeekday, c.Criteria.SingleWeekend),
		FemaleMin:      c.Criteria.FemaleMin,
		FemaleRatioMin: c.Criteria.FemaleRatioMin,
		MinTotal:       c.Criteria.MinTotal,
	}
	for _, name := range c.Criteria.IncludeDOW {
		wd, err := businessday.ParseWeekday(name)
		if err != nil {
			return s, fmt.Errorf("include_dow: %w", err)
		}
		s.IncludeDays = append(s.IncludeDays, wd)
	}
	if err := s.Validate(); err != nil {
		return s, fmt.Errorf("criteria: %w", err)
	}
	return s, nil
}

// ExcludeKeywords returns the lowercased exclusion keywords.
func (c *Config) ExcludeKeywords() []string {
	out := make([]string, 0, len(c.Criteria.ExcludeKeywords))
	for _, kw := range c.Criteria.ExcludeKeywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

// StageConfig converts the notify section into transition parameters.
func (c *Config) StageConfig() (stage.Config, error) {
	mode, err := stage.ParseMode(c.Notify.Mode)
	if err != nil {
		return stage.Config{}, fmt.Errorf("notify: %w", err)
	}
	sc := stage.Config{
		Mode:                mode,
		Cooldown:            time.Duration(c.Notify.CooldownMinutes) * time.Minute,
		BonusSingleDelta:    c.Notify.BonusSingleDelta,
		BonusRatioThreshold: c.Notify.BonusRatioThreshold,
		IgnoreOlderThan:     c.Notify.IgnoreOlderThan,
	}
	if err := sc.Validate(); err != nil {
		return sc, fmt.Errorf("notify: %w", err)
	}
	return sc, nil
}

// MaskLevel returns the configured mask level.
func (c *Config) MaskLevel() (mask.Level, error) {
	level := mask.Level(c.Mask.Level)
	if err := level.Validate(); err != nil {
		return level, fmt.Errorf("mask: %w", err)
	}
	return level, nil
}

// MaskConfig builds the band tables. A table without thresholds keeps the default.
func (c *Config) MaskConfig() (mask.Config, error) {
	out := mask.DefaultConfig()
	tables := []struct {
		name string
		kind mask.Kind
		raw  BandTable
		dst  **mask.BandTable
	}{
		{"single", mask.KindCount, c.Mask.Single, &out.Single},
		{"female", mask.KindCount, c.Mask.Female, &out.Female},
		{"total", mask.KindCount, c.Mask.Total, &out.Total},
		{"ratio", mask.KindRatio, c.Mask.Ratio, &out.Ratio},
	}
	for _, t := range tables {
		if len(t.raw.Thresholds) == 0 {
			continue
		}
		var abstract *mask.Abstract
		if len(t.raw.Words) > 0 {
			abstract = &mask.Abstract{Words: t.raw.Words, Cuts: t.raw.Cuts}
		}
		b, err := mask.NewBandTable(t.kind, t.raw.Thresholds, t.raw.Labels, abstract)
		if err != nil {
			return out, fmt.Errorf("mask.%s: %w", t.name, err)
		}
		*t.dst = b
	}
	return out, nil
}

// JobTimeout is the per-job deadline used by the daemon.
func (c *Config) JobTimeout() time.Duration {
	if c.Schedule.JobTimeoutSeconds <= 0 {
		return 3 * time.Minute
	}
	return time.Duration(c.Schedule.JobTimeoutSeconds) * time.Second
}

// FetchTimeout is the per-request HTTP timeout.
func (c *Config) FetchTimeout() time.Duration {
	if c.Target.TimeoutSeconds <= 0 {
		return 20 * time.Second
	}
	return time.Duration(c.Target.TimeoutSeconds) * time.Second
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Target.URL) == "" {
		errs = append(errs, errors.New("target.url is empty"))
	}
	if c.Target.Retries < 1 {
		errs = append(errs, fmt.Errorf("target.retries must be at least 1, got %d", c.Target.Retries))
	}
	if _, err := c.Resolver(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.CriteriaSettings(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.StageConfig(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.MaskLevel(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.MaskConfig(); err != nil {
		errs = append(errs, err)
	}
	if c.Notify.MessagesPerSecond <= 0 {
		errs = append(errs, fmt.Errorf("notify.messages_per_second must be positive, got %v", c.Notify.MessagesPerSecond))
	}
	if format := strings.ToLower(c.Logging.Format); format != "" && format != "text" && format != "json" {
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for name, spec := range map[string]string{
		"schedule.watch":   c.Schedule.Watch,
		"schedule.weekly":  c.Schedule.Weekly,
		"schedule.monthly": c.Schedule.Monthly,
	} {
		if spec == "" {
			continue
		}
		if _, err := parser.Parse(spec); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
