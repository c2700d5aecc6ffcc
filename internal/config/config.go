package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/Tiliavir/team-worklog/internal/model"
)

// Config is the root configuration for twl, stored in ~/.twl/config.json.
// The file supports single-line // comments for documentation purposes.
// Secrets never live in the file; they are read from the environment.
type Config struct {
	// Timezone is the IANA zone every date is evaluated in.
	Timezone  string       `json:"timezone"`
	Log       LogConfig    `json:"log"`
	Jira      JiraConfig   `json:"jira"`
	Timesheet SourceConfig `json:"timesheet"`
	Timelog   SourceConfig `json:"timelog"`
	Daily     DailyConfig  `json:"daily"`
	Teams     []Team       `json:"teams"`
	Secrets   Secrets      `json:"-"`
}

// LogConfig selects the log level: debug, info, warn or error.
type LogConfig struct {
	Level string `json:"level"`
}

// JiraConfig holds the primary tracker settings. Zero limits mean the
// built-in default.
type JiraConfig struct {
	BaseURL string `json:"base_url"`
	Email   string `json:"email"`
	// APIPrefix skips detection when set, e.g. "/rest/api/2".
	APIPrefix        string `json:"api_prefix"`
	Workers          int    `json:"workers"`
	SinceMarginHours int    `json:"since_margin_hours"`
	MaxFeedPages     int    `json:"max_feed_pages"`
	BatchSize        int    `json:"batch_size"`
	MaxLegacyUsers   int    `json:"max_legacy_users"`
	MaxLegacyIssues  int    `json:"max_legacy_issues"`
	TeamField        string `json:"team_field"`
}

// SourceConfig configures one timesheet service.
type SourceConfig struct {
	Disabled bool   `json:"disabled"`
	BaseURL  string `json:"base_url"`
	PageSize int    `json:"page_size,omitempty"`
	MaxPages int    `json:"max_pages,omitempty"`
}

// DailyConfig drives the scheduled summary.
type DailyConfig struct {
	// Schedule is a five-field cron spec evaluated in Timezone.
	Schedule string `json:"schedule"`
	Window   string `json:"window"`
}

// Team is a named group of tracked users.
type Team struct {
	Name string `json:"name"`
	// TrackerTeamID is the value of the tracker's team field for this team.
	TrackerTeamID string              `json:"tracker_team_id"`
	Members       []model.TrackedUser `json:"members"`
}

// Secrets are read from the environment only.
type Secrets struct {
	JiraToken      string
	TimesheetToken string
	TimelogToken   string
}

const (
	DefaultTimezone         = "Europe/Moscow"
	DefaultLogLevel         = "info"
	DefaultTimesheetBaseURL = "https://www.timesheet.atlas.devsamurai.com"
	DefaultTimelogBaseURL   = "https://api.teamboard.cloud/v1"
	DefaultDailySchedule    = "0 10 * * 1-5"
	DefaultDailyWindow      = "previous_workday"
)

// Environment variables read by ApplyEnv.
const (
	EnvJiraBaseURL    = "JIRA_BASE_URL"
	EnvJiraEmail      = "JIRA_EMAIL"
	EnvJiraToken      = "JIRA_API_TOKEN"
	EnvTimesheetToken = "TIMESHEET_JWT"
	EnvTimelogToken   = "TIMELOG_JWT"
)

func defaultConfig() Config {
	return Config{
		Timezone:  DefaultTimezone,
		Log:       LogConfig{Level: DefaultLogLevel},
		Timesheet: SourceConfig{BaseURL: DefaultTimesheetBaseURL},
		Timelog:   SourceConfig{BaseURL: DefaultTimelogBaseURL},
		Daily:     DailyConfig{Schedule: DefaultDailySchedule, Window: DefaultDailyWindow},
	}
}

// configTemplate is the annotated config written on first run.
// Lines whose trimmed content starts with // are stripped before JSON parsing,
// allowing human-readable documentation inside the file.
const configTemplate = `// twl configuration – ~/.twl/config.json
//
// Tokens are never stored here. Export them instead:
//   JIRA_API_TOKEN  tracker API token (with JIRA_EMAIL for basic auth)
//   TIMESHEET_JWT   hour-based timesheet service
//   TIMELOG_JWT     paginated timelog service
// JIRA_BASE_URL and JIRA_EMAIL override the values below.
{
  // IANA zone all dates are evaluated in.
  "timezone": "Europe/Moscow",

  "log": {
    // debug, info, warn or error
    "level": "info"
  },

  "jira": {
    "base_url": "",
    "email": "",
    // Leave empty to probe /rest/api/3 then /rest/api/2.
    "api_prefix": "",
    // Field holding the team id, used when per-user search finds nothing.
    "team_field": "TEAM"
  },

  "timesheet": {
    "disabled": false,
    "base_url": "https://www.timesheet.atlas.devsamurai.com"
  },

  "timelog": {
    "disabled": false,
    "base_url": "https://api.teamboard.cloud/v1"
  },

  // Used by: twl daily
  "daily": {
    "schedule": "0 10 * * 1-5",
    "window": "previous_workday"
  },

  "teams": [
    // {
    //   "name": "core",
    //   "tracker_team_id": "",
    //   "members": [
    //     {"id": 1, "display_name": "Ann", "account_id": "5b10a2844c20165700ede21g"}
    //   ]
    // }
  ]
}
`

// FilePath returns the path to ~/.twl/config.json.
func FilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".twl", "config.json"), nil
}

// stripLineComments removes lines whose leading non-whitespace content starts
// with //. Only full-line comments are handled; inline comments are not stripped.
func stripLineComments(data []byte) []byte {
	var out []byte
	for _, line := range bytes.Split(data, []byte("\n")) {
		if bytes.HasPrefix(bytes.TrimLeft(line, " \t"), []byte("//")) {
			continue
		}
		out = append(out, line...)
		out = append(out, '\n')
	}
	return out
}

// Load reads ~/.twl/config.json and the environment.
func Load() (Config, error) {
	path, err := FilePath()
	if err != nil {
		cfg := defaultConfig()
		cfg.ApplyEnv(os.Getenv)
		return cfg, err
	}
	cfg, err := LoadFile(path)
	cfg.ApplyEnv(os.Getenv)
	return cfg, err
}

// LoadFile reads the config at path, creating it with annotated defaults when
// it does not exist. The environment is not consulted.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		// First run: write the annotated template so users can discover options.
		if writeErr := writeDefault(path); writeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not create config file %s: %v\n", path, writeErr)
		}
		return defaultConfig(), nil
	}
	if err != nil {
		return defaultConfig(), fmt.Errorf("reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := sonic.Unmarshal(stripLineComments(data), &cfg); err != nil {
		return defaultConfig(), fmt.Errorf("parsing config file %s: %w\nTip: delete the file to regenerate defaults", path, err)
	}
	cfg.fillDefaults()
	return cfg, nil
}

// fillDefaults back-fills zero values so a partially filled file still
// yields a usable Config.
func (c *Config) fillDefaults() {
	d := defaultConfig()
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Timesheet.BaseURL == "" {
		c.Timesheet.BaseURL = d.Timesheet.BaseURL
	}
	if c.Timelog.BaseURL == "" {
		c.Timelog.BaseURL = d.Timelog.BaseURL
	}
	if c.Daily.Schedule == "" {
		c.Daily.Schedule = d.Daily.Schedule
	}
	if c.Daily.Window == "" {
		c.Daily.Window = d.Daily.Window
	}
}

// ApplyEnv reads secrets and tracker overrides through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvJiraBaseURL)); v != "" {
		c.Jira.BaseURL = v
	}
	if v := strings.TrimSpace(getenv(EnvJiraEmail)); v != "" {
		c.Jira.Email = v
	}
	c.Secrets.JiraToken = strings.TrimSpace(getenv(EnvJiraToken))
	c.Secrets.TimesheetToken = strings.TrimSpace(getenv(EnvTimesheetToken))
	c.Secrets.TimelogToken = strings.TrimSpace(getenv(EnvTimelogToken))
}

// Location loads the configured zone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Team returns the named team. An empty name selects the only configured
// team.
func (c Config) Team(name string) (Team, error) {
	if name == "" {
		switch len(c.Teams) {
		case 0:
			return Team{}, fmt.Errorf("no teams configured")
		case 1:
			return c.Teams[0], nil
		default:
			return Team{}, fmt.Errorf("%d teams configured, choose one with --team", len(c.Teams))
		}
	}
	for _, t := range c.Teams {
		if strings.EqualFold(t.Name, name) {
			return t, nil
		}
	}
	return Team{}, fmt.Errorf("team %q not found", name)
}

// writeDefault creates the config directory and writes the annotated default
// config template.
func writeDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(configTemplate), 0o600); err != nil {
		return fmt.Errorf("writing default config: %w", err)
	}
	return nil
}
