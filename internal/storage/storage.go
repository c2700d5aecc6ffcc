// Package storage archives daily summaries as one JSON file per day under
// ~/.twl/archive/YYYY/MM/DD.json.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"

	"github.com/Tiliavir/team-worklog/internal/model"
)

// DayFile holds every team summary produced for one window date.
type DayFile struct {
	Date  string       `json:"date"`
	Teams []TeamRecord `json:"teams"`
}

// TeamRecord is one team's archived run.
type TeamRecord struct {
	Team     string                `json:"team"`
	RunID    string                `json:"run_id"`
	Strategy string                `json:"strategy"`
	SavedAt  time.Time             `json:"saved_at"`
	Users    []model.UserAggregate `json:"users"`
}

// BaseDir returns the archive root (~/.twl/archive).
func BaseDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".twl", "archive"), nil
}

// dayFilePath returns the path for the given date's JSON file.
func dayFilePath(base string, t time.Time) string {
	return filepath.Join(base, t.Format("2006"), t.Format("01"), t.Format("02")+".json")
}

// LoadDay loads the DayFile for the given date. Returns an empty DayFile if not found.
func LoadDay(base string, t time.Time) (DayFile, error) {
	path := dayFilePath(base, t)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DayFile{Date: t.Format("2006-01-02"), Teams: []TeamRecord{}}, nil
	}
	if err != nil {
		return DayFile{}, fmt.Errorf("storage error reading %s: %w", path, err)
	}

	var df DayFile
	if err := sonic.Unmarshal(data, &df); err != nil {
		// Back up corrupt file and abort.
		backupPath := path + ".corrupt"
		_ = os.Rename(path, backupPath)
		return DayFile{}, fmt.Errorf("corrupt JSON in %s (backed up to %s): %w", path, backupPath, err)
	}
	return df, nil
}

// SaveDay atomically writes a DayFile for the given date.
func SaveDay(base string, t time.Time, df DayFile) error {
	path := dayFilePath(base, t)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("storage error creating directories: %w", err)
	}

	data, err := sonic.ConfigStd.MarshalIndent(df, "", "  ")
	if err != nil {
		return fmt.Errorf("storage error marshalling JSON: %w", err)
	}

	// Atomic write: write to temp file then rename.
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("storage error writing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("storage error renaming temp file: %w", err)
	}
	return nil
}

// PutTeam replaces the team's record for the given date, or appends it.
func PutTeam(base string, day time.Time, rec TeamRecord) error {
	df, err := LoadDay(base, day)
	if err != nil {
		return err
	}
	for i, r := range df.Teams {
		if r.Team == rec.Team {
			df.Teams[i] = rec
			return SaveDay(base, day, df)
		}
	}
	df.Teams = append(df.Teams, rec)
	return SaveDay(base, day, df)
}

// LoadRange loads all team records in [from, to] inclusive, oldest first.
func LoadRange(base string, from, to time.Time) ([]DayFile, error) {
	var days []DayFile
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		df, err := LoadDay(base, d)
		if err != nil {
			return nil, err
		}
		if len(df.Teams) > 0 {
			days = append(days, df)
		}
	}
	return days, nil
}
