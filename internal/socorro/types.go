package socorro

import "fmt"

// VersionInfo is one entry of the upstream version catalog. Throttle is
// the server-side sampling percentage in (0,100]; the API reports the
// channel under build_type.
type VersionInfo struct {
	Product   string  `json:"product"`
	Version   string  `json:"version"`
	Channel   string  `json:"build_type"`
	StartDate string  `json:"start_date"`
	EndDate   string  `json:"end_date"`
	Throttle  float64 `json:"throttle"`
}

// Platform is one entry of the Platforms endpoint.
type Platform struct {
	Name string `json:"name"`
}

// TermCount is a single facet bucket.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// SubFacets carries the nested per-version facets requested via
// _aggs.version.
type SubFacets struct {
	ProcessType []TermCount `json:"process_type"`
	PluginHang  []TermCount `json:"plugin_hang"`
}

// VersionFacet is one per-version bucket of a SuperSearch response.
type VersionFacet struct {
	Term   string    `json:"term"`
	Count  int64     `json:"count"`
	Facets SubFacets `json:"facets"`
}

// DailyRate is one (version, day) cell of a CrashesPerAdu response.
type DailyRate struct {
	Version     string  `json:"version"`
	Date        string  `json:"date"`
	ReportCount float64 `json:"report_count"`
	ADU         int64   `json:"adu"`
}

type productVersionsResponse struct {
	Hits  *[]VersionInfo `json:"hits"`
	Error string         `json:"error"`
}

type adiHit struct {
	Version  string `json:"version"`
	ADICount int64  `json:"adi_count"`
}

type adiResponse struct {
	Hits  *[]adiHit `json:"hits"`
	Error string    `json:"error"`
}

type superSearchFacets struct {
	Version []VersionFacet `json:"version"`
}

type superSearchResponse struct {
	Facets *superSearchFacets `json:"facets"`
	Total  int64              `json:"total"`
	Error  string             `json:"error"`
}

type crashesPerAduResponse struct {
	Hits map[string]map[string]DailyRate `json:"hits"`
}

// MissingFieldError reports an upstream response that decoded fine but
// lacks a field the caller depends on. Days hitting this are skipped and
// retried on a later run.
type MissingFieldError struct {
	Endpoint string
	Field    string
	Detail   string
}

func (e *MissingFieldError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s response missing %q: %s", e.Endpoint, e.Field, e.Detail)
	}
	return fmt.Sprintf("%s response missing %q", e.Endpoint, e.Field)
}
