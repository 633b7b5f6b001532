package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/weaver-md/weaver/internal/rules"
)

// DailyNoteConfig configures where daily notes live. PathTemplate is a
// Go reference-time layout relative to VaultRoot, e.g. "daily/2006-01-02.md".
type DailyNoteConfig struct {
	VaultRoot    string
	PathTemplate string
}

var uncheckedTaskRE = regexp.MustCompile(`(?m)^- \[ \] .+$`)

// DailyNoteRule returns the scheduled registration for spec.md §4.6.3:
// create (or leave alone, if it already exists) today's daily note,
// rolling over yesterday's uncompleted tasks into it.
func DailyNoteRule(cfg DailyNoteConfig) rules.Rule {
	return rules.Rule{
		ID:       "daily-note",
		Trigger:  rules.TriggerSchedule,
		Priority: 30,
		Enabled:  true,
		Action: func(ctx context.Context, rc rules.Context) error {
			return dailyNote(ctx, rc, cfg, time.Now())
		},
	}
}

func dailyNote(ctx context.Context, rc rules.Context, cfg DailyNoteConfig, now time.Time) error {
	template := cfg.PathTemplate
	if template == "" {
		template = "daily/2006-01-02.md"
	}

	todayRel := now.Format(template)
	todayAbs := filepath.Join(cfg.VaultRoot, todayRel)

	if _, err := os.Stat(todayAbs); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("daily-note: stat %s: %w", todayRel, err)
	}

	var rolled []string
	yesterdayAbs := filepath.Join(cfg.VaultRoot, now.AddDate(0, 0, -1).Format(template))
	if content, err := os.ReadFile(yesterdayAbs); err == nil {
		rolled = uncheckedTaskRE.FindAllString(string(content), -1)
	}

	var body strings.Builder
	fmt.Fprintf(&body, "# %s\n\n", now.Format("2006-01-02"))
	if len(rolled) > 0 {
		body.WriteString("## Rolled over\n\n")
		for _, line := range rolled {
			body.WriteString(line)
			body.WriteString("\n")
		}
		body.WriteString("\n")
	}
	body.WriteString("## Notes\n\n")

	if err := os.MkdirAll(filepath.Dir(todayAbs), 0755); err != nil {
		return fmt.Errorf("daily-note: create directory: %w", err)
	}
	if err := os.WriteFile(todayAbs, []byte(body.String()), 0644); err != nil {
		return fmt.Errorf("daily-note: write %s: %w", todayRel, err)
	}

	if rc.Cache != nil {
		return rc.Cache.SyncPath(ctx, todayRel)
	}
	return nil
}
