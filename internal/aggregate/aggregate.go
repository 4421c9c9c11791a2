// Package aggregate folds raw crash facets and active-install counts
// into per-day aggregates, correcting for server-side sampling.
package aggregate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"crashgather/internal/rules"
	"crashgather/internal/socorro"
	"crashgather/internal/window"
)

// Well-known bucket names. Hangs are counted upstream both as plugin
// crashes and under the hang flag, so "OOP Plugin" is reduced by
// "Hang Plugin" before an aggregate is recorded.
const (
	BucketBrowser    = "Browser"
	BucketOOPPlugin  = "OOP Plugin"
	BucketHangPlugin = "Hang Plugin"
)

const (
	processTypePlugin = "plugin"
	hangFlagTrue      = "T"
)

// ErrNoData marks a day whose upstream data has not arrived yet (zero
// total ADI, or zero raw crashes across all categories). Such days are
// not recorded and stay eligible for a later run.
var ErrNoData = errors.New("no data available for day")

// FetchError marks a day whose upstream fetch came back structurally
// broken. The day is skipped and the run moves on.
type FetchError struct {
	Day window.Day
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch for %s failed: %v", e.Day, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// CrashSource is the slice of the crash-stats API the engine consumes.
type CrashSource interface {
	ADI(ctx context.Context, product string, versions []string, day window.Day, platforms []string) (map[string]int64, error)
	SuperSearch(ctx context.Context, p socorro.SuperSearchParams) ([]socorro.VersionFacet, error)
}

// TypeAggregate is one day of by-process-type crash counts for a
// (product, channel) pair. Bucket values are throttle-corrected; ADI is
// the summed active-install count of the contributing versions.
type TypeAggregate struct {
	Versions []string           `json:"versions"`
	ADI      int64              `json:"total_install_count"`
	Buckets  map[string]float64 `json:"buckets"`
}

// Complete reports whether the day is finished and must not be
// recomputed by an unforced run.
func (a *TypeAggregate) Complete() bool {
	return a != nil && a.ADI != 0
}

// CategoryCount is one category's value for a day: either a single
// weighted total, or a per-process split. It serializes as a bare number
// or as an object, matching the document format consumers expect.
type CategoryCount struct {
	Total     float64
	ByProcess map[string]float64
}

// MarshalJSON writes the split when present, the scalar otherwise.
func (c CategoryCount) MarshalJSON() ([]byte, error) {
	if c.ByProcess != nil {
		return json.Marshal(c.ByProcess)
	}
	return json.Marshal(c.Total)
}

// UnmarshalJSON accepts both shapes.
func (c *CategoryCount) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '{' {
		c.Total = 0
		return json.Unmarshal(data, &c.ByProcess)
	}
	c.ByProcess = nil
	return json.Unmarshal(data, &c.Total)
}

// CategoryAggregate is one day of per-category crash counts.
type CategoryAggregate struct {
	Buckets map[string]CategoryCount `json:"buckets"`
}

// Complete is presence-based: category documents carry no ADI, so any
// recorded day counts as done.
func (a *CategoryAggregate) Complete() bool {
	return a != nil && len(a.Buckets) > 0
}

// titleCaser capitalizes raw process-type terms for by-type bucket
// names ("content" -> "Content", "gpu" -> "Gpu").
var titleCaser = cases.Title(language.English)

// Engine computes daily aggregates for one (product, channel) pair at a
// time from a CrashSource.
type Engine struct {
	source CrashSource
	logger *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(source CrashSource, logger *slog.Logger) *Engine {
	return &Engine{source: source, logger: logger}
}

// ByType aggregates one day's crashes bucketed by process type.
// versions/weights come from the catalog resolver; only versions present
// in both the facet response and the ADI table contribute. Returns
// ErrNoData when the summed ADI is zero and a *FetchError when either
// upstream response is unusable.
func (e *Engine) ByType(ctx context.Context, product string, d window.Day, versions []string, weights map[string]float64, platforms []string) (*TypeAggregate, error) {
	if len(versions) == 0 {
		return nil, ErrNoData
	}

	adi, err := e.source.ADI(ctx, product, versions, d, platforms)
	if err != nil {
		return nil, &FetchError{Day: d, Err: err}
	}

	facets, err := e.source.SuperSearch(ctx, socorro.SuperSearchParams{
		Product:  product,
		Versions: versions,
		Day:      d,
		Aggs:     []string{"process_type", "plugin_hang"},
	})
	if err != nil {
		return nil, &FetchError{Day: d, Err: err}
	}

	agg := &TypeAggregate{Buckets: make(map[string]float64)}

	for _, vdata := range facets {
		tfactor, eligible := weights[vdata.Term]
		if !eligible {
			continue
		}
		installs, haveADI := adi[vdata.Term]
		if !haveADI {
			// Crash reports arrived before install counts for this
			// version; leave it out without invalidating the day.
			continue
		}

		agg.Versions = append(agg.Versions, vdata.Term)
		agg.ADI += installs

		for _, hdata := range vdata.Facets.PluginHang {
			if hdata.Term == hangFlagTrue {
				agg.Buckets[BucketHangPlugin] += float64(hdata.Count) * tfactor
			}
		}

		var nonbrowser int64
		for _, pdata := range vdata.Facets.ProcessType {
			name := titleCaser.String(pdata.Term)
			if pdata.Term == processTypePlugin {
				name = BucketOOPPlugin
			}
			agg.Buckets[name] += float64(pdata.Count) * tfactor
			nonbrowser += pdata.Count
		}

		// Everything not claimed by a child process ran in the browser
		// process itself.
		agg.Buckets[BucketBrowser] += float64(vdata.Count-nonbrowser) * tfactor
	}

	if _, hasHang := agg.Buckets[BucketHangPlugin]; hasHang {
		if _, hasOOP := agg.Buckets[BucketOOPPlugin]; hasOOP {
			agg.Buckets[BucketOOPPlugin] -= agg.Buckets[BucketHangPlugin]
		}
	}

	sort.Strings(agg.Versions)

	if agg.ADI == 0 {
		return nil, ErrNoData
	}
	return agg, nil
}

// ByCategory aggregates one day's crashes per category rule. Every rule
// applicable to the product contributes a bucket, even an empty one; the
// day itself only counts when at least one rule saw a non-zero raw
// count.
func (e *Engine) ByCategory(ctx context.Context, product rules.Product, d window.Day, versions []string, weights map[string]float64, ruleSet []rules.CategoryRule) (*CategoryAggregate, error) {
	if len(versions) == 0 {
		return nil, ErrNoData
	}

	buckets := make(map[string]CategoryCount)
	var rawTotal int64

	for _, rule := range ruleSet {
		if !rule.AppliesTo(product) {
			continue
		}
		e.logger.Debug("Running category report",
			slog.String("product", product.Name),
			slog.String("day", string(d)),
			slog.String("report", rule.Name))

		facets, err := e.source.SuperSearch(ctx, socorro.SuperSearchParams{
			Product:  product.Name,
			Versions: versions,
			Day:      d,
			Aggs:     []string{"process_type"},
			Facets:   []string{"process_type"},
			Extra:    rule.Params,
		})
		if err != nil {
			return nil, &FetchError{Day: d, Err: err}
		}

		if rule.ProcessSplit {
			split := make(map[string]float64)
			for _, vdata := range facets {
				tfactor, eligible := weights[vdata.Term]
				if !eligible {
					continue
				}
				var nonbrowser int64
				for _, pdata := range vdata.Facets.ProcessType {
					split[pdata.Term] += float64(pdata.Count) * tfactor
					nonbrowser += pdata.Count
				}
				split["browser"] += float64(vdata.Count-nonbrowser) * tfactor
				rawTotal += vdata.Count
			}
			buckets[rule.Name] = CategoryCount{ByProcess: split}
		} else {
			var total float64
			for _, vdata := range facets {
				tfactor, eligible := weights[vdata.Term]
				if !eligible {
					continue
				}
				total += float64(vdata.Count) * tfactor
				rawTotal += vdata.Count
			}
			buckets[rule.Name] = CategoryCount{Total: total}
		}
	}

	if rawTotal == 0 {
		return nil, ErrNoData
	}
	return &CategoryAggregate{Buckets: buckets}, nil
}
