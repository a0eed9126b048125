// Package hours interprets free-form venue opening-hours data. The data is
// scraped and messy, so parsing is permissive: a venue with unknown or
// unparseable hours is treated as open rather than hidden from results.
package hours

import (
	"regexp"
	"strings"
	"time"

	"github.com/tastegraph/gusto-engine/engine/domain"
	"github.com/tastegraph/gusto-engine/pkg/fn"
)

var weekdayKeys = map[time.Weekday]string{
	time.Monday:    "monday",
	time.Tuesday:   "tuesday",
	time.Wednesday: "wednesday",
	time.Thursday:  "thursday",
	time.Friday:    "friday",
	time.Saturday:  "saturday",
	time.Sunday:    "sunday",
}

// Matches "12:00-22:00" with either a hyphen or an en dash.
var timeRangeRe = regexp.MustCompile(`(\d{1,2}:\d{2})\s*[–-]\s*(\d{1,2}:\d{2})`)

// Open reports whether a venue with the given schedule is open at t.
// Missing schedules and unparseable day entries count as open; an explicit
// "closed" entry or a missing day in an otherwise present schedule does not.
func Open(schedule domain.OpeningHours, at time.Time) bool {
	if len(schedule) == 0 {
		return true
	}

	key := weekdayKeys[at.Weekday()]
	today, ok := schedule[key]
	if !ok {
		// Scraped schedules are not always key-normalized.
		for k, v := range schedule {
			if strings.EqualFold(k, key) {
				today, ok = v, true
				break
			}
		}
	}
	if !ok || today == "" {
		return false
	}
	lower := strings.ToLower(today)
	if strings.Contains(lower, "closed") {
		return false
	}
	if strings.Contains(lower, "24 hours") || strings.Contains(lower, "open 24") {
		return true
	}

	ranges := timeRangeRe.FindAllStringSubmatch(today, -1)
	if len(ranges) == 0 {
		return true
	}

	now := minutesOfDay(at)
	for _, m := range ranges {
		open, err1 := parseClock(m[1])
		close, err2 := parseClock(m[2])
		if err1 != nil || err2 != nil {
			continue
		}
		if open <= close {
			if open <= now && now <= close {
				return true
			}
		} else if now >= open || now <= close {
			// Overnight range such as 18:00-02:00.
			return true
		}
	}
	return false
}

// FilterOpen keeps candidates open at t. Candidates without schedule data
// pass through.
func FilterOpen(pool []domain.Candidate, at time.Time) []domain.Candidate {
	return fn.Filter(pool, func(c domain.Candidate) bool {
		return Open(c.OpeningHours, at)
	})
}

func minutesOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
