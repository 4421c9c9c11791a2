// Package catalog resolves which product versions are eligible on a
// given day and channel, and how much each version's raw crash counts
// have to be inflated to undo server-side sampling.
package catalog

import (
	"log/slog"
	"time"

	"crashgather/internal/socorro"
	"crashgather/internal/window"
)

// Channel is a release train with its own cadence and build-age window.
type Channel string

const (
	ChannelRelease Channel = "release"
	ChannelBeta    Channel = "beta"
	ChannelAurora  Channel = "aurora"
	ChannelNightly Channel = "nightly"
	ChannelOther   Channel = "other"
)

const (
	day  = 24 * time.Hour
	week = 7 * day
)

// ParseChannel normalizes a channel name. "developer" is the renamed
// aurora channel and maps onto it; anything unrecognized is ChannelOther.
func ParseChannel(name string) Channel {
	switch name {
	case "release":
		return ChannelRelease
	case "beta":
		return ChannelBeta
	case "aurora", "developer":
		return ChannelAurora
	case "nightly":
		return ChannelNightly
	default:
		return ChannelOther
	}
}

// MaxBuildAge returns how far back versions of a channel stay relevant.
// versionOverall selects the wider window used when resolving the full
// version set for a run; the narrow values are for per-day build
// staleness. ChannelOther gets close to a year and doubles as the safe
// upper bound when computing the earliest catalog date a run can need.
func MaxBuildAge(ch Channel, versionOverall bool) time.Duration {
	switch ch {
	case ChannelRelease:
		return 12 * week
	case ChannelBeta:
		return 4 * week
	case ChannelAurora:
		if versionOverall {
			return 9 * week
		}
		return 2 * week
	case ChannelNightly:
		if versionOverall {
			return 9 * week
		}
		return 1 * week
	default:
		return 365 * day
	}
}

// EarliestCatalogStart returns the oldest version start date any channel
// could need when the analysis window begins at firstDay.
func EarliestCatalogStart(firstDay window.Day) window.Day {
	return firstDay.Sub(MaxBuildAge(ChannelOther, false))
}

// Resolver filters a version catalog per (product, channel, day).
type Resolver struct {
	catalog []socorro.VersionInfo
	logger  *slog.Logger
}

// NewResolver wraps a catalog fetched once per run.
func NewResolver(catalog []socorro.VersionInfo, logger *slog.Logger) *Resolver {
	return &Resolver{catalog: catalog, logger: logger}
}

// Resolve returns the versions of product/channel whose lifetime starts
// after day minus maxAge, with each version's sampling-correction weight
// (100 / throttle). A zero or negative throttle is upstream data
// corruption; the version is dropped with a warning instead of failing
// the day, so one bad catalog row can't take out a whole run.
func (r *Resolver) Resolve(product string, ch Channel, d window.Day, maxAge time.Duration) ([]string, map[string]float64) {
	minStartDate := string(d.Sub(maxAge))

	var versions []string
	weights := make(map[string]float64)

	for _, ver := range r.catalog {
		if ver.Product != product || ParseChannel(ver.Channel) != ch {
			continue
		}
		if ver.StartDate <= minStartDate {
			continue
		}
		if ver.Throttle <= 0 {
			r.logger.Warn("Version has unusable throttle, dropping",
				slog.String("product", product),
				slog.String("version", ver.Version),
				slog.Float64("throttle", ver.Throttle))
			continue
		}
		versions = append(versions, ver.Version)
		weights[ver.Version] = 100 / ver.Throttle
	}

	return versions, weights
}
