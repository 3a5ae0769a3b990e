package runner

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/osbits/expira/internal/config"
)

type maintenanceWindow struct {
	kind     config.MaintenanceKind
	start    time.Time
	end      time.Time
	schedule cron.Schedule
	duration time.Duration
}

func (m maintenanceWindow) contains(t time.Time) bool {
	switch m.kind {
	case config.MaintenanceKindRange:
		if m.start.IsZero() || m.end.IsZero() {
			return false
		}
		return !t.Before(m.start) && t.Before(m.end)
	case config.MaintenanceKindCron:
		if m.schedule == nil {
			return false
		}
		// Inside when some activation falls in (t-duration, t].
		return !m.schedule.Next(t.Add(-m.duration)).After(t)
	default:
		return false
	}
}

func parseMaintenance(specs []config.MaintenanceSpec, loc *time.Location, length time.Duration) ([]maintenanceWindow, error) {
	if length <= 0 {
		length = time.Hour
	}
	windows := make([]maintenanceWindow, 0, len(specs))
	for _, spec := range specs {
		switch spec.Kind {
		case config.MaintenanceKindRange:
			start, end, err := parseRange(spec.Expr, loc)
			if err != nil {
				return nil, err
			}
			windows = append(windows, maintenanceWindow{kind: spec.Kind, start: start, end: end})
		case config.MaintenanceKindCron:
			schedule, err := cron.ParseStandard(spec.Expr)
			if err != nil {
				return nil, fmt.Errorf("parse maintenance cron %q: %w", spec.Expr, err)
			}
			windows = append(windows, maintenanceWindow{kind: spec.Kind, schedule: schedule, duration: length})
		default:
			return nil, fmt.Errorf("unsupported maintenance kind %q", spec.Kind)
		}
	}
	return windows, nil
}

// parseRange reads "2006-01-02T15:04/2006-01-02T15:04" in loc.
func parseRange(expr string, loc *time.Location) (time.Time, time.Time, error) {
	from, to, ok := strings.Cut(expr, "/")
	if !ok {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid range %q: expected start/end", expr)
	}
	const layout = "2006-01-02T15:04"
	start, err := time.ParseInLocation(layout, strings.TrimSpace(from), loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse range start: %w", err)
	}
	end, err := time.ParseInLocation(layout, strings.TrimSpace(to), loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse range end: %w", err)
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid range %q: end before start", expr)
	}
	return start, end, nil
}
