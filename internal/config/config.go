package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds the runtime settings shared by the serve and mcp commands.
// Defaults come from Default, APPBUILDER_* environment variables override
// them, and command-line flags override both.
type Config struct {
	DataDir        string        // root for the database and theme file
	DBPath         string        // sqlite file; derived from DataDir when empty
	Addr           string        // HTTP listen address
	PublicOrigin   string        // origin stamped on builder-side messages
	AllowedOrigins []string      // origins previews accept envelopes from; "*" allows all
	Secrets        string        // secret store kind: env, memory or keychain
	Fixtures       bool          // serve the demo fixture data set
	ThemeFile      string        // optional JSON vars file to watch
	ScriptTimeout  time.Duration // guard and custom_function budget
	PollInterval   time.Duration // external edit detection
}

// Default returns the built-in configuration. The data directory lives under
// ~/.local/share/appbuilder.
func Default() Config {
	homeDir, _ := os.UserHomeDir()
	return Config{
		DataDir:       filepath.Join(homeDir, ".local", "share", "appbuilder"),
		Addr:          "127.0.0.1:8787",
		PublicOrigin:  "http://127.0.0.1:8787",
		Secrets:       "env",
		ScriptTimeout: 2 * time.Second,
		PollInterval:  2 * time.Second,
	}
}

// Load returns Default overridden by the environment.
func Load() (Config, error) {
	c := Default()
	if err := c.ApplyEnv(os.LookupEnv); err != nil {
		return c, err
	}
	return c, nil
}

// ApplyEnv overrides fields from APPBUILDER_* variables read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup("APPBUILDER_" + name); ok && v != "" {
			*dst = v
		}
	}
	str("DATA_DIR", &c.DataDir)
	str("DB_PATH", &c.DBPath)
	str("ADDR", &c.Addr)
	str("PUBLIC_ORIGIN", &c.PublicOrigin)
	str("SECRETS", &c.Secrets)
	str("THEME_FILE", &c.ThemeFile)

	if v, ok := lookup("APPBUILDER_ALLOWED_ORIGINS"); ok && v != "" {
		c.AllowedOrigins = SplitList(v)
	}
	if v, ok := lookup("APPBUILDER_FIXTURES"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse APPBUILDER_FIXTURES: %w", err)
		}
		c.Fixtures = b
	}
	for name, dst := range map[string]*time.Duration{
		"APPBUILDER_SCRIPT_TIMEOUT": &c.ScriptTimeout,
		"APPBUILDER_POLL_INTERVAL":  &c.PollInterval,
	} {
		if v, ok := lookup(name); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("parse %s: %w", name, err)
			}
			*dst = d
		}
	}
	return nil
}

// Resolve fills derived fields and validates the result.
func (c *Config) Resolve() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: data dir is required")
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "appbuilder.db")
	}
	u, err := url.Parse(c.PublicOrigin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: public origin %q must be scheme://host", c.PublicOrigin)
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{c.PublicOrigin}
	}
	if c.ScriptTimeout <= 0 {
		return fmt.Errorf("config: script timeout must be positive")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("config: poll interval must be positive")
	}
	switch c.Secrets {
	case "env", "memory", "keychain":
	default:
		return fmt.Errorf("config: unknown secret store %q", c.Secrets)
	}
	return nil
}

// PreviewOrigin is the origin stamped on messages from in-process previews.
const PreviewOrigin = "app://preview"

// SplitList splits a comma separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
