// Package window plans which calendar days a gather run looks at: a
// fixed backlog of trailing days plus any operator-forced days.
package window

import (
	"regexp"
	"sort"
	"time"
)

// Layout is the wire and storage format for days.
const Layout = "2006-01-02"

// Day is a calendar date in ISO YYYY-MM-DD form. The format sorts
// lexicographically in chronological order, which the store's key
// ordering relies on.
type Day string

var dayPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Today returns the current UTC day.
func Today() Day {
	return Day(time.Now().UTC().Format(Layout))
}

// Valid reports whether d is a well-formed, real calendar date. Besides
// the shape check, the date must survive a parse/format round trip so
// that plausible-looking values like 2021-13-40 are rejected.
func (d Day) Valid() bool {
	if !dayPattern.MatchString(string(d)) {
		return false
	}
	t, err := time.Parse(Layout, string(d))
	if err != nil {
		return false
	}
	return t.Format(Layout) == string(d)
}

// Time returns the day as a UTC timestamp at midnight.
func (d Day) Time() (time.Time, error) {
	return time.Parse(Layout, string(d))
}

// AddDays returns the day n days after d. d must be a valid day.
func (d Day) AddDays(n int) Day {
	t, err := d.Time()
	if err != nil {
		return d
	}
	return Day(t.AddDate(0, 0, n).Format(Layout))
}

// Sub returns the day that lies the given duration before d, truncated
// to whole days. d must be a valid day.
func (d Day) Sub(age time.Duration) Day {
	t, err := d.Time()
	if err != nil {
		return d
	}
	return Day(t.Add(-age).Format(Layout))
}

// ForcedSet validates operator-supplied day strings and returns the set
// of usable ones. Malformed entries are dropped silently; they are
// operator typos, not run-aborting errors.
func ForcedSet(args []string) map[Day]bool {
	forced := make(map[Day]bool)
	for _, arg := range args {
		if d := Day(arg); d.Valid() {
			forced[d] = true
		}
	}
	return forced
}

// Plan returns the days to analyze: backlogDays consecutive days ending
// at yesterday (UTC), unioned with the forced set, deduplicated and
// sorted ascending.
func Plan(backlogDays int, forced map[Day]bool) []Day {
	set := make(map[Day]bool, backlogDays+len(forced))

	today := Today()
	for i := backlogDays; i >= 1; i-- {
		set[today.AddDays(-i)] = true
	}
	for d := range forced {
		set[d] = true
	}

	days := make([]Day, 0, len(set))
	for d := range set {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	return days
}
