package scheduler

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kballard/go-shellquote"
)

// DefaultCron is the schedule used when none is configured.
const DefaultCron = "0 3 * * *"

// CronLine returns a crontab entry that runs the full archival cycle for
// the project at root on the given schedule.
func CronLine(schedule, executable, root, stateDir string) string {
	if strings.TrimSpace(schedule) == "" {
		schedule = DefaultCron
	}
	logFile := filepath.Join(stateDir, "logs", "scheduler.log")
	return fmt.Sprintf("%s cd %s && %s archive run >> %s 2>&1",
		schedule,
		shellquote.Join(root),
		shellquote.Join(executable),
		shellquote.Join(logFile),
	)
}
