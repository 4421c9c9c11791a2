// Package socorro_test contains tests for the socorro package
package socorro_test

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crashgather/internal/socorro"
	"crashgather/internal/testsupport"
	"crashgather/internal/window"
)

func lastQuery(t *testing.T, fake *testsupport.FakeCrashStats) url.Values {
	t.Helper()
	require.NotEmpty(t, fake.Requests)
	values, err := url.ParseQuery(fake.Requests[len(fake.Requests)-1].Query)
	require.NoError(t, err)
	return values
}

func TestPlatforms(t *testing.T) {
	fake := testsupport.NewFakeCrashStats(t)
	fake.Respond("Platforms", `[{"name": "Windows"}, {"name": "Mac OS X"}, {"name": "Linux"}]`)

	names, err := fake.Client().Platforms(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Windows", "Mac OS X", "Linux"}, names)
}

func TestProductVersions(t *testing.T) {
	fake := testsupport.NewFakeCrashStats(t)
	fake.Respond("ProductVersions", `{"hits": [
		{"product": "Firefox", "version": "42.0", "build_type": "release",
		 "start_date": "2024-02-01", "end_date": "2024-06-01", "throttle": 10}
	]}`)

	hits, err := fake.Client().ProductVersions(context.Background(),
		[]string{"Firefox", "FennecAndroid"}, window.Day("2024-01-01"))
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "release", hits[0].Channel)
	assert.InDelta(t, 10.0, hits[0].Throttle, 1e-9)

	query := lastQuery(t, fake)
	assert.Equal(t, []string{"Firefox", "FennecAndroid"}, query["product"])
	assert.Equal(t, ">2024-01-01", query.Get("start_date"))
	assert.Equal(t, "false", query.Get("is_rapid_beta"))
}

func TestProductVersionsMissingHits(t *testing.T) {
	fake := testsupport.NewFakeCrashStats(t)
	fake.Respond("ProductVersions", `{"error": "service backend down"}`)

	_, err := fake.Client().ProductVersions(context.Background(), []string{"Firefox"}, window.Day("2024-01-01"))

	var missing *socorro.MissingFieldError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "ProductVersions", missing.Endpoint)
	assert.Equal(t, "hits", missing.Field)
	assert.Contains(t, missing.Error(), "service backend down")
}

func TestADI(t *testing.T) {
	fake := testsupport.NewFakeCrashStats(t)
	fake.Respond("ADI", `{"hits": [
		{"version": "42.0", "adi_count": 500000},
		{"version": "42.0.1", "adi_count": 1500}
	]}`)

	adi, err := fake.Client().ADI(context.Background(), "Firefox",
		[]string{"42.0", "42.0.1"}, window.Day("2024-03-15"), []string{"Windows", "Linux"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"42.0": 500000, "42.0.1": 1500}, adi)

	query := lastQuery(t, fake)
	assert.Equal(t, []string{"42.0", "42.0.1"}, query["versions"])
	assert.Equal(t, "2024-03-15", query.Get("start_date"))
	assert.Equal(t, "2024-03-15", query.Get("end_date"))
	assert.Equal(t, []string{"Windows", "Linux"}, query["platforms"])
}

func TestSuperSearchQueryShape(t *testing.T) {
	fake := testsupport.NewFakeCrashStats(t)
	fake.Respond("SuperSearch", `{"facets": {"version": [
		{"term": "42.0", "count": 120, "facets": {
			"process_type": [{"term": "plugin", "count": 20}],
			"plugin_hang": [{"term": "T", "count": 5}]
		}}
	]}, "total": 120}`)

	facets, err := fake.Client().SuperSearch(context.Background(), socorro.SuperSearchParams{
		Product:  "Firefox",
		Versions: []string{"42.0"},
		Day:      window.Day("2024-03-15"),
		Aggs:     []string{"process_type", "plugin_hang"},
		Extra:    map[string][]string{"uptime": {"<60"}},
	})
	require.NoError(t, err)
	require.Len(t, facets, 1)
	assert.Equal(t, int64(120), facets[0].Count)
	assert.Equal(t, int64(5), facets[0].Facets.PluginHang[0].Count)

	query := lastQuery(t, fake)
	// One day means a half-open range over exactly that day.
	assert.Equal(t, []string{">=2024-03-15", "<2024-03-16"}, query["date"])
	assert.Equal(t, []string{"process_type", "plugin_hang"}, query["_aggs.version"])
	assert.Equal(t, "0", query.Get("_results_number"))
	assert.Equal(t, "<60", query.Get("uptime"))
}

func TestSuperSearchMissingFacets(t *testing.T) {
	fake := testsupport.NewFakeCrashStats(t)
	fake.Respond("SuperSearch", `{"total": 0}`)

	_, err := fake.Client().SuperSearch(context.Background(), socorro.SuperSearchParams{
		Product: "Firefox", Versions: []string{"42.0"}, Day: window.Day("2024-03-15"),
	})

	var missing *socorro.MissingFieldError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "facets.version", missing.Field)
}

func TestCrashesPerAdu(t *testing.T) {
	fake := testsupport.NewFakeCrashStats(t)
	fake.Respond("CrashesPerAdu", `{"hits": {
		"Firefox:42.0": {
			"2024-03-14": {"version": "42.0", "date": "2024-03-14", "report_count": 120, "adu": 500000},
			"2024-03-15": {"version": "42.0", "date": "2024-03-15", "report_count": 80, "adu": 480000}
		}
	}}`)

	hits, err := fake.Client().CrashesPerAdu(context.Background(), "Firefox",
		[]string{"42.0"}, window.Day("2024-03-14"), window.Day("2024-03-15"))
	require.NoError(t, err)

	cell := hits["Firefox:42.0"]["2024-03-15"]
	assert.InDelta(t, 80.0, cell.ReportCount, 1e-9)
	assert.Equal(t, int64(480000), cell.ADU)

	query := lastQuery(t, fake)
	assert.Equal(t, "2024-03-14", query.Get("from_date"))
	assert.Equal(t, "2024-03-15", query.Get("to_date"))
}

func TestUnexpectedStatus(t *testing.T) {
	fake := testsupport.NewFakeCrashStats(t)
	fake.Handle("Platforms", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := fake.Client().Platforms(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
