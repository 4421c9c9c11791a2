// Package socorro is a read-only client for the Socorro crash-stats API.
package socorro

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"crashgather/internal/config"
	"crashgather/internal/window"
)

// Client talks to a crash-stats API instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client from the application configuration.
func NewClient(cfg *config.Config, logger *slog.Logger) *Client {
	return &Client{
		baseURL: cfg.APIBaseURL,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.GetAPITimeout()) * time.Second,
		},
		logger: logger,
	}
}

// get fetches baseURL/<endpoint>/?<params> and decodes the JSON body
// into out.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	reqURL := c.baseURL + endpoint + "/"
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("API request", slog.String("endpoint", endpoint), slog.String("url", reqURL))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: unexpected status %d: %s", endpoint, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", endpoint, err)
	}
	return nil
}

// Platforms returns the platform names known upstream.
func (c *Client) Platforms(ctx context.Context) ([]string, error) {
	var platforms []Platform
	if err := c.get(ctx, "Platforms", nil, &platforms); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(platforms))
	for _, p := range platforms {
		names = append(names, p.Name)
	}
	return names, nil
}

// ProductVersions returns all non-rapid-beta catalog entries for the
// given products whose version lifetime starts after startDate.
func (c *Client) ProductVersions(ctx context.Context, products []string, startDate window.Day) ([]VersionInfo, error) {
	params := url.Values{}
	for _, p := range products {
		params.Add("product", p)
	}
	params.Set("start_date", ">"+string(startDate))
	params.Set("is_rapid_beta", "false")

	var resp productVersionsResponse
	if err := c.get(ctx, "ProductVersions", params, &resp); err != nil {
		return nil, err
	}
	if resp.Hits == nil {
		return nil, &MissingFieldError{Endpoint: "ProductVersions", Field: "hits", Detail: resp.Error}
	}
	return *resp.Hits, nil
}

// CurrentVersions returns the older, flat version catalog used by the
// daily crash-rate gather.
func (c *Client) CurrentVersions(ctx context.Context) ([]VersionInfo, error) {
	var versions []VersionInfo
	if err := c.get(ctx, "CurrentVersions", nil, &versions); err != nil {
		return nil, err
	}
	return versions, nil
}

// ADI returns active-install counts per version for one day.
func (c *Client) ADI(ctx context.Context, product string, versions []string, day window.Day, platforms []string) (map[string]int64, error) {
	params := url.Values{}
	params.Set("product", product)
	for _, v := range versions {
		params.Add("versions", v)
	}
	params.Set("start_date", string(day))
	params.Set("end_date", string(day))
	for _, p := range platforms {
		params.Add("platforms", p)
	}

	var resp adiResponse
	if err := c.get(ctx, "ADI", params, &resp); err != nil {
		return nil, err
	}
	if resp.Hits == nil {
		return nil, &MissingFieldError{Endpoint: "ADI", Field: "hits", Detail: resp.Error}
	}

	adi := make(map[string]int64, len(*resp.Hits))
	for _, hit := range *resp.Hits {
		adi[hit.Version] = hit.ADICount
	}
	return adi, nil
}

// SuperSearchParams describes one faceted crash search restricted to a
// single day. Extra holds report-specific filters merged over the
// standard parameters.
type SuperSearchParams struct {
	Product  string
	Versions []string
	Day      window.Day
	Aggs     []string
	Facets   []string
	Extra    map[string][]string
}

// SuperSearch runs a faceted search and returns the per-version facet
// buckets. The result row set itself is never requested
// (_results_number=0); only the facets matter.
func (c *Client) SuperSearch(ctx context.Context, p SuperSearchParams) ([]VersionFacet, error) {
	params := url.Values{}
	params.Set("product", p.Product)
	for _, v := range p.Versions {
		params.Add("version", v)
	}
	params.Add("date", ">="+string(p.Day))
	params.Add("date", "<"+string(p.Day.AddDays(1)))
	for _, a := range p.Aggs {
		params.Add("_aggs.version", a)
	}
	for _, f := range p.Facets {
		params.Add("_facets", f)
	}
	params.Set("_results_number", "0")
	for key, values := range p.Extra {
		for _, v := range values {
			params.Add(key, v)
		}
	}

	var resp superSearchResponse
	if err := c.get(ctx, "SuperSearch", params, &resp); err != nil {
		return nil, err
	}
	if resp.Facets == nil || resp.Facets.Version == nil {
		return nil, &MissingFieldError{Endpoint: "SuperSearch", Field: "facets.version", Detail: resp.Error}
	}
	return resp.Facets.Version, nil
}

// CrashesPerAdu returns the per-version, per-day crash rate table for a
// date range.
func (c *Client) CrashesPerAdu(ctx context.Context, product string, versions []string, from, to window.Day) (map[string]map[string]DailyRate, error) {
	params := url.Values{}
	params.Set("product", product)
	for _, v := range versions {
		params.Add("versions", v)
	}
	params.Set("from_date", string(from))
	params.Set("to_date", string(to))

	var resp crashesPerAduResponse
	if err := c.get(ctx, "CrashesPerAdu", params, &resp); err != nil {
		return nil, err
	}
	if resp.Hits == nil {
		return nil, &MissingFieldError{Endpoint: "CrashesPerAdu", Field: "hits"}
	}
	return resp.Hits, nil
}
