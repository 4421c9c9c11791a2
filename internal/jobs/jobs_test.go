// Package jobs_test contains tests for the jobs package
package jobs_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crashgather/internal/aggregate"
	"crashgather/internal/config"
	"crashgather/internal/daily"
	"crashgather/internal/jobs"
	"crashgather/internal/settings"
	"crashgather/internal/store"
	"crashgather/internal/testsupport"
	"crashgather/internal/window"
)

// setupFake wires a fake crash-stats API that knows one Firefox release
// version with data for every day. The other (product, channel) pairs
// resolve no versions and are skipped as no-data.
func setupFake(t *testing.T) *testsupport.FakeCrashStats {
	t.Helper()

	fake := testsupport.NewFakeCrashStats(t)
	startDate := window.Today().AddDays(-30)
	endDate := window.Today().AddDays(30)

	fake.Respond("Platforms", `[{"name": "Windows"}, {"name": "Linux"}]`)
	fake.Respond("ProductVersions", fmt.Sprintf(`{"hits": [
		{"product": "Firefox", "version": "42.0", "build_type": "release",
		 "start_date": "%s", "end_date": "%s", "throttle": 10}
	]}`, startDate, endDate))
	fake.Respond("ADI", `{"hits": [{"version": "42.0", "adi_count": 500000}]}`)
	fake.Respond("SuperSearch", `{"facets": {"version": [
		{"term": "42.0", "count": 120, "facets": {
			"process_type": [{"term": "plugin", "count": 20}],
			"plugin_hang": [{"term": "T", "count": 5}]
		}}
	]}, "total": 120}`)
	return fake
}

func countRequests(fake *testsupport.FakeCrashStats, endpoint string) int {
	n := 0
	for _, r := range fake.Requests {
		if r.Endpoint == endpoint {
			n++
		}
	}
	return n
}

func testJobConfig(fake *testsupport.FakeCrashStats) *config.Config {
	cfg := testsupport.TestConfig(fake.Server.URL)
	cfg.SocorroBacklogDays = 3
	cfg.DailyBacklogDays = 3
	return cfg
}

func TestByTypeJobRecordsBacklog(t *testing.T) {
	fake := setupFake(t)
	cfg := testJobConfig(fake)
	dataDir := t.TempDir()
	dbManager := testsupport.NewTestDBManager(testsupport.SetupTestDB(t))

	job := jobs.NewByTypeJob(fake.Client(), dbManager, cfg, testsupport.GetLogger(), dataDir)
	require.NoError(t, job.Run(context.Background(), nil))

	st, err := store.Open[*aggregate.TypeAggregate](dataDir, store.ByTypeFilename("Firefox", "release"))
	require.NoError(t, err)
	require.Equal(t, 3, st.Len())

	yesterday := window.Today().AddDays(-1)
	rec, ok := st.Get(yesterday)
	require.True(t, ok)
	assert.Equal(t, int64(500000), rec.ADI)
	assert.InDelta(t, 50.0, rec.Buckets[aggregate.BucketHangPlugin], 1e-9)
	assert.InDelta(t, 150.0, rec.Buckets[aggregate.BucketOOPPlugin], 1e-9)
	assert.InDelta(t, 1000.0, rec.Buckets[aggregate.BucketBrowser], 1e-9)

	assert.False(t, settings.LastRun(dbManager.GetConnection(), "bytype").IsZero(),
		"completion marker must be recorded")
}

func TestByTypeJobSkipsCompleteDays(t *testing.T) {
	fake := setupFake(t)
	cfg := testJobConfig(fake)
	dataDir := t.TempDir()

	job := jobs.NewByTypeJob(fake.Client(), nil, cfg, testsupport.GetLogger(), dataDir)
	require.NoError(t, job.Run(context.Background(), nil))
	adiAfterFirst := countRequests(fake, "ADI")
	assert.Equal(t, 3, adiAfterFirst)

	// Everything is recorded, so a second run fetches no day data.
	require.NoError(t, job.Run(context.Background(), nil))
	assert.Equal(t, adiAfterFirst, countRequests(fake, "ADI"))

	// Forcing a recorded day refetches exactly that day.
	yesterday := window.Today().AddDays(-1)
	require.NoError(t, job.Run(context.Background(), map[window.Day]bool{yesterday: true}))
	assert.Equal(t, adiAfterFirst+1, countRequests(fake, "ADI"))
}

func TestCategoriesJobRequiresByTypeBaseline(t *testing.T) {
	fake := setupFake(t)
	cfg := testJobConfig(fake)
	dataDir := t.TempDir()
	logger := testsupport.GetLogger()

	// Without by-type data every day is skipped and nothing is written.
	catJob := jobs.NewCategoriesJob(fake.Client(), nil, cfg, logger, dataDir)
	require.NoError(t, catJob.Run(context.Background(), nil))

	st, err := store.Open[*aggregate.CategoryAggregate](dataDir, store.CategoriesFilename("Firefox", "release"))
	require.NoError(t, err)
	assert.Equal(t, 0, st.Len())

	// After the by-type gather the same run records category data.
	require.NoError(t, jobs.NewByTypeJob(fake.Client(), nil, cfg, logger, dataDir).Run(context.Background(), nil))
	require.NoError(t, catJob.Run(context.Background(), nil))

	st, err = store.Open[*aggregate.CategoryAggregate](dataDir, store.CategoriesFilename("Firefox", "release"))
	require.NoError(t, err)
	require.Equal(t, 3, st.Len())

	rec, ok := st.Get(window.Today().AddDays(-1))
	require.True(t, ok)
	// Firefox is a desktop product, so every report applies.
	assert.Len(t, rec.Buckets, 6)
	assert.NotNil(t, rec.Buckets["startup"].ByProcess)
	assert.Nil(t, rec.Buckets["shutdownhang"].ByProcess)
}

func TestDailyJobUpsertsRates(t *testing.T) {
	fake := setupFake(t)
	cfg := testJobConfig(fake)
	db := testsupport.SetupTestDB(t)
	dbManager := testsupport.NewTestDBManager(db)

	startDate := window.Today().AddDays(-30)
	endDate := window.Today().AddDays(30)
	fake.Respond("CurrentVersions", fmt.Sprintf(`[
		{"product": "Firefox", "version": "42.0", "build_type": "release",
		 "start_date": "%s", "end_date": "%s", "throttle": 10},
		{"product": "Firefox", "version": "40.0", "build_type": "release",
		 "start_date": "2015-01-01", "end_date": "2015-06-01", "throttle": 10}
	]`, startDate, endDate))

	day1 := window.Today().AddDays(-2)
	day2 := window.Today().AddDays(-1)
	fake.Respond("CrashesPerAdu", fmt.Sprintf(`{"hits": {
		"Firefox:42.0": {
			"%s": {"version": "42.0", "date": "%s", "report_count": 120, "adu": 500000},
			"%s": {"version": "42.0", "date": "%s", "report_count": 80, "adu": 480000}
		}
	}}`, day1, day1, day2, day2))

	job := jobs.NewDailyJob(fake.Client(), dbManager, cfg, testsupport.GetLogger())
	require.NoError(t, job.Run(context.Background()))

	rates, err := daily.RatesForProduct(db, "Firefox", "", "")
	require.NoError(t, err)
	require.Len(t, rates, 2)
	// report_count is throttle-corrected on the way in: 120 * (100/10).
	assert.InDelta(t, 1200.0, rates[0].Crashes, 1e-9)
	assert.Equal(t, int64(500000), rates[0].ADU)
	assert.InDelta(t, 800.0, rates[1].Crashes, 1e-9)

	assert.False(t, settings.LastRun(db, "daily").IsZero())
}

func TestJobRunSurvivesEmptyUpstream(t *testing.T) {
	fake := testsupport.NewFakeCrashStats(t)
	fake.Respond("Platforms", `[]`)
	fake.Respond("ProductVersions", `{"hits": []}`)
	cfg := testJobConfig(fake)
	dataDir := t.TempDir()

	job := jobs.NewByTypeJob(fake.Client(), nil, cfg, testsupport.GetLogger(), dataDir)
	require.NoError(t, job.Run(context.Background(), nil))

	// Empty stores are still saved as valid empty documents.
	data, err := os.ReadFile(filepath.Join(dataDir, store.ByTypeFilename("Firefox", "release")))
	require.NoError(t, err)
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Empty(t, doc)
}
