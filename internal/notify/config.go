package notify

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

var priorities = []string{"min", "low", "default", "high", "urgent"}

// Config holds ntfy alert settings for the oracle and risk manager.
type Config struct {
	Enabled bool
	Server  string
	Topic   string
	Token   string

	// Priority is used for recoveries: cleared overrides and lifted halts.
	Priority string
	// AlertPriority is used for emergency prices and halts.
	AlertPriority string
	// BreakerPriority is used for circuit breaker trips.
	BreakerPriority string

	// Tags are prepended to every message's own tag.
	Tags []string
}

// LoadConfig reads NTFY_* environment variables.
func LoadConfig() *Config {
	return &Config{
		Enabled:         envBool("NTFY_ENABLED", false),
		Server:          envOr("NTFY_SERVER", "https://ntfy.sh"),
		Topic:           os.Getenv("NTFY_TOPIC"),
		Token:           os.Getenv("NTFY_TOKEN"),
		Priority:        envOr("NTFY_PRIORITY", "default"),
		AlertPriority:   envOr("NTFY_ALERT_PRIORITY", "high"),
		BreakerPriority: envOr("NTFY_BREAKER_PRIORITY", "urgent"),
		Tags:            splitTags(envOr("NTFY_TAGS", "optionvault")),
	}
}

// Validate checks the config when enabled. Empty priorities take their defaults.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Topic == "" {
		return errors.New("NTFY_TOPIC is required when NTFY_ENABLED=true")
	}

	var errs []error
	for name, p := range map[string]*string{
		"NTFY_PRIORITY":         &c.Priority,
		"NTFY_ALERT_PRIORITY":   &c.AlertPriority,
		"NTFY_BREAKER_PRIORITY": &c.BreakerPriority,
	} {
		if *p == "" {
			continue
		}
		if !validPriority(*p) {
			errs = append(errs, fmt.Errorf("invalid %s: %s (valid: %s)", name, *p, strings.Join(priorities, ", ")))
		}
	}
	return errors.Join(errs...)
}

// tags joins the configured tags with the message tag.
func (c *Config) tags(own string) string {
	return strings.Join(append(append([]string{}, c.Tags...), own), ",")
}

func pick(p, fallback string) string {
	if p == "" {
		return fallback
	}
	return p
}

func validPriority(p string) bool {
	for _, v := range priorities {
		if p == v {
			return true
		}
	}
	return false
}

func splitTags(raw string) []string {
	var out []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
