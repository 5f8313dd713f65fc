package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

func loadDotEnv() {
	// Missing .env is fine; existing variables are never overridden.
	_ = godotenv.Load()
}

// ApplyEnv overrides config values from environment variables. Unset or empty
// variables leave the config untouched; malformed ones are an error.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get("TARGET_URL"); ok {
		c.Target.URL = v
	}
	if v, ok := get("FEMALE_MIN"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid FEMALE_MIN %q: %w", v, err)
		}
		c.Criteria.FemaleMin = n
	}
	if v, ok := get("FEMALE_RATIO_MIN"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid FEMALE_RATIO_MIN %q: %w", v, err)
		}
		c.Criteria.FemaleRatioMin = f
	}
	if v, ok := get("MIN_TOTAL"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MIN_TOTAL %q: %w", v, err)
		}
		c.Criteria.MinTotal = &n
	}
	if v, ok := get("INCLUDE_DOW"); ok {
		c.Criteria.IncludeDOW = splitList(v)
	}
	if v, ok := get("EXCLUDE_KEYWORDS"); ok {
		c.Criteria.ExcludeKeywords = splitList(v)
	}
	if v, ok := get("NOTIFY_MODE"); ok {
		c.Notify.Mode = strings.ToLower(v)
	}
	if v, ok := get("COOLDOWN_MINUTES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid COOLDOWN_MINUTES %q: %w", v, err)
		}
		c.Notify.CooldownMinutes = n
	}
	if v, ok := get("BONUS_SINGLE_DELTA"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid BONUS_SINGLE_DELTA %q: %w", v, err)
		}
		c.Notify.BonusSingleDelta = n
	}
	if v, ok := get("BONUS_RATIO_THRESHOLD"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid BONUS_RATIO_THRESHOLD %q: %w", v, err)
		}
		c.Notify.BonusRatioThreshold = f
	}
	if v, ok := get("IGNORE_OLDER_THAN"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid IGNORE_OLDER_THAN %q: %w", v, err)
		}
		c.Notify.IgnoreOlderThan = n
	}
	if v, ok := get("PING_CHANNEL"); ok {
		c.Notify.PingChannel = parseBool(v)
	}
	if v, ok := get("DEBUG_SUMMARY"); ok {
		c.Notify.DebugSummary = parseBool(v)
	}
	if v, ok := get("MASK_LEVEL"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MASK_LEVEL %q: %w", v, err)
		}
		c.Mask.Level = n
	}
	if v, ok := get("ROLLOVER_HOURS_JSON"); ok {
		var hours map[string]int
		if err := json.Unmarshal([]byte(v), &hours); err != nil {
			return fmt.Errorf("invalid ROLLOVER_HOURS_JSON: %w", err)
		}
		if c.RolloverHours == nil {
			c.RolloverHours = map[string]int{}
		}
		for k, h := range hours {
			c.RolloverHours[k] = h
		}
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.Logging.Level = v
	}
	if v, ok := get("DEBUG_LOG"); ok && v == "1" {
		c.Logging.Level = "DEBUG"
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBool(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
