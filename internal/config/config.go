// Package config defines service configuration structures and loading hooks.
//
// Conventions:
//   - New() builds a Config with defaults; Load layers file and env on top.
//   - The top level elevation_* keys describe the default tenant; further
//     tenants live under tenants.<name>.
//   - External errors are wrapped with this package's sentinel kinds.
package config

import (
	"strings"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// RemoteTimeoutMS bounds every remote API call unless a dataset sets its own.
	RemoteTimeoutMS int `koanf:"remote_timeout_ms"`

	// RequestTimeoutMS bounds the whole handling of one API request.
	RequestTimeoutMS int `koanf:"request_timeout_ms"`

	// ProfileConcurrency bounds parallel point calls that build a remote profile.
	ProfileConcurrency int `koanf:"profile_concurrency"`

	// TenantHeader names the request header that selects the tenant.
	TenantHeader string `koanf:"tenant_header"`

	// DefaultTenant is used when the header is absent.
	DefaultTenant string `koanf:"default_tenant"`

	// WatchConfig reloads the YAML file when it changes.
	WatchConfig bool `koanf:"watch_config"`

	// ElevationDataset is a single implicit, unnamed source of the default tenant.
	ElevationDataset string `koanf:"elevation_dataset"`

	// ElevationDatasets lists named sources of the default tenant.
	ElevationDatasets []Dataset `koanf:"elevation_datasets"`

	// ElevationMode is single or multi.
	ElevationMode string `koanf:"elevation_mode"`

	// Tenants adds tenants beyond the default one.
	Tenants map[string]Tenant `koanf:"tenants"`
}

// Tenant is the elevation configuration of one tenant.
type Tenant struct {
	ElevationDataset  string    `koanf:"elevation_dataset"`
	ElevationDatasets []Dataset `koanf:"elevation_datasets"`
	ElevationMode     string    `koanf:"elevation_mode"`
}

// Dataset describes one elevation source.
type Dataset struct {
	Name string `koanf:"name"`
	// Type is local/raster for files, api/remote/swisstopo-api for HTTP APIs.
	// Empty infers the type from the location.
	Type string `koanf:"type"`

	// The location may be given under any of these keys.
	Path       string `koanf:"dataset_path"`
	Dataset    string `koanf:"dataset"`
	Datasource string `koanf:"datasource"`

	// CRS overrides the raster projection, or pins the CRS sent to an API.
	CRS string `koanf:"crs"`
	// Units overrides the raster unit scale ("ft" or "m").
	Units string `koanf:"units"`

	ProfileURL   string `koanf:"profile_url"`
	ProfileField string `koanf:"profile_field"`
	TimeoutMS    int    `koanf:"timeout_ms"`
}

// Source kinds a Dataset resolves to.
const (
	KindRaster = "raster"
	KindRemote = "remote"
)

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:           "info",
		LogFormat:          "text",
		Addr:               ":9080",
		RemoteTimeoutMS:    10_000,
		RequestTimeoutMS:   30_000,
		ProfileConcurrency: 8,
		TenantHeader:       "X-Tenant",
		DefaultTenant:      "default",
		ElevationMode:      "single",
	}
}

// RemoteTimeout returns RemoteTimeoutMS as a duration.
func (c *Config) RemoteTimeout() time.Duration {
	return time.Duration(c.RemoteTimeoutMS) * time.Millisecond
}

// RequestTimeout returns RequestTimeoutMS as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

// AllTenants returns every tenant keyed by name, the default one included.
// An explicit tenants entry named like the default tenant wins over the
// top level keys.
func (c *Config) AllTenants() map[string]Tenant {
	out := make(map[string]Tenant, len(c.Tenants)+1)
	out[c.DefaultTenant] = Tenant{
		ElevationDataset:  c.ElevationDataset,
		ElevationDatasets: c.ElevationDatasets,
		ElevationMode:     c.ElevationMode,
	}
	for name, t := range c.Tenants {
		out[name] = t
	}
	return out
}

// Sources returns the tenant's datasets in query order. The implicit
// elevation_dataset, when set, comes first with an empty name.
func (t Tenant) Sources() []Dataset {
	out := make([]Dataset, 0, len(t.ElevationDatasets)+1)
	if t.ElevationDataset != "" {
		out = append(out, Dataset{Path: t.ElevationDataset})
	}
	return append(out, t.ElevationDatasets...)
}

// Mode returns the configured mode, single when unset.
func (t Tenant) Mode() string {
	if t.ElevationMode == "" {
		return "single"
	}
	return t.ElevationMode
}

// Location returns the file path or URL of the dataset.
func (d Dataset) Location() string {
	for _, s := range []string{d.Path, d.Dataset, d.Datasource} {
		if s != "" {
			return s
		}
	}
	return ""
}

// Kind resolves Type to KindRaster or KindRemote. It returns "" for an
// unknown type.
func (d Dataset) Kind() string {
	switch strings.ToLower(d.Type) {
	case "local", "raster", "file":
		return KindRaster
	case "api", "remote", "swisstopo-api":
		return KindRemote
	case "":
		loc := strings.ToLower(d.Location())
		if strings.HasPrefix(loc, "http://") || strings.HasPrefix(loc, "https://") {
			return KindRemote
		}
		return KindRaster
	}
	return ""
}

// Timeout returns the dataset timeout, or fallback when unset.
func (d Dataset) Timeout(fallback time.Duration) time.Duration {
	if d.TimeoutMS > 0 {
		return time.Duration(d.TimeoutMS) * time.Millisecond
	}
	return fallback
}
