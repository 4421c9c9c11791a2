// Package store persists per-(product, channel) day aggregates as JSON
// documents that accumulate across runs. A missing document is an empty
// store, not an error; a run that learned nothing new writes back a
// byte-identical file.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"crashgather/internal/window"
)

// Record is one day's persisted aggregate. Complete reports whether the
// day is finished; incomplete or absent days may be recomputed by any
// run, complete days only by a forced one.
type Record interface {
	Complete() bool
}

// ByTypeFilename returns the document name for a pair's by-type data.
func ByTypeFilename(product, channel string) string {
	return fmt.Sprintf("%s-%s-crashes-bytype.json", product, channel)
}

// CategoriesFilename returns the document name for a pair's category data.
func CategoriesFilename(product, channel string) string {
	return fmt.Sprintf("%s-%s-crashes-categories.json", product, channel)
}

// Store is the day-keyed document for one (product, channel) pair.
type Store[R Record] struct {
	path string
	days map[window.Day]R
}

// Open loads the document at dir/name, or returns an empty store when
// the file does not exist yet.
func Open[R Record](dir, name string) (*Store[R], error) {
	s := &Store[R]{
		path: filepath.Join(dir, name),
		days: make(map[window.Day]R),
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", s.path, err)
	}

	if err := json.Unmarshal(data, &s.days); err != nil {
		return nil, fmt.Errorf("store: parse %s: %w", s.path, err)
	}
	return s, nil
}

// Len returns the number of recorded days.
func (s *Store[R]) Len() int { return len(s.days) }

// Get returns the record for a day.
func (s *Store[R]) Get(d window.Day) (R, bool) {
	rec, ok := s.days[d]
	return rec, ok
}

// Complete reports whether d is already present and finished, i.e. an
// unforced run must not recompute it. Zero-ADI days are deliberately
// never recorded, so "present" almost always means "complete"; the check
// still guards against partially-written legacy entries.
func (s *Store[R]) Complete(d window.Day) bool {
	rec, ok := s.days[d]
	return ok && rec.Complete()
}

// Merge adds a freshly computed day. It honors the same skip rule as the
// pre-fetch check: an existing complete entry wins unless the day was
// forced. Returns whether the record was taken.
func (s *Store[R]) Merge(d window.Day, rec R, forced bool) bool {
	if !forced && s.Complete(d) {
		return false
	}
	s.days[d] = rec
	return true
}

// Days returns the recorded days sorted ascending.
func (s *Store[R]) Days() []window.Day {
	days := make([]window.Day, 0, len(s.days))
	for d := range s.days {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	return days
}

// Save writes the whole document atomically: marshal to a temp file in
// the same directory, then rename over the target. JSON object keys
// marshal in sorted order, which for ISO days is chronological order, so
// a persisted document is always day-sorted with no duplicates.
func (s *Store[R]) Save() error {
	data, err := json.Marshal(s.days)
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", s.path, err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("store: create temp for %s: %w", s.path, err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("store: write %s: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("store: close temp for %s: %w", s.path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("store: chmod temp for %s: %w", s.path, err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("store: replace %s: %w", s.path, err)
	}
	return nil
}
