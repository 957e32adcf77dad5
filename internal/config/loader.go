package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/okian/elevation/internal/domain/elevation"
	"github.com/okian/elevation/internal/domain/projection"
)

// PathEnv names the variable holding the YAML config file path.
const PathEnv = "ELEVATION_CONFIG"

const envPrefix = "ELEVATION_"

// Path returns the config file path from the environment, if any.
func Path() string {
	return os.Getenv(PathEnv)
}

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if ELEVATION_CONFIG is set
//  3. env (prefix ELEVATION_)
func Load(ctx context.Context) (*Config, error) {
	return LoadFile(ctx, Path())
}

// LoadFile is Load with an explicit file path. An empty path skips the file layer.
func LoadFile(_ context.Context, path string) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// ELEVATION_REMOTE_TIMEOUT_MS -> remote_timeout_ms (flat keys)
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.TrimPrefix(strings.ToLower(s), strings.ToLower(envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the listener settings and every tenant's datasets.
// A tenant without datasets is valid; it fails at query time.
func (c *Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr must not be empty"))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q must be text or json", c.LogFormat))
	}
	if c.RemoteTimeoutMS <= 0 {
		errs = append(errs, errors.New("remote_timeout_ms must be positive"))
	}
	if c.RequestTimeoutMS <= 0 {
		errs = append(errs, errors.New("request_timeout_ms must be positive"))
	}
	if c.ProfileConcurrency <= 0 {
		errs = append(errs, errors.New("profile_concurrency must be positive"))
	}
	if c.TenantHeader == "" {
		errs = append(errs, errors.New("tenant_header must not be empty"))
	}
	if c.DefaultTenant == "" {
		errs = append(errs, errors.New("default_tenant must not be empty"))
	}

	for name, t := range c.AllTenants() {
		if err := t.validate(); err != nil {
			errs = append(errs, fmt.Errorf("tenant %q: %w", name, err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func (t Tenant) validate() error {
	var errs []error
	if _, err := elevation.ParseMode(t.ElevationMode); err != nil {
		errs = append(errs, err)
	}
	for i, d := range t.ElevationDatasets {
		if d.Name == "" {
			errs = append(errs, fmt.Errorf("elevation_datasets[%d]: name must not be empty", i))
		}
		if err := d.validate(); err != nil {
			errs = append(errs, fmt.Errorf("elevation_datasets[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func (d Dataset) validate() error {
	if d.Location() == "" {
		return errors.New("dataset_path or datasource must be set")
	}
	kind := d.Kind()
	if kind == "" {
		return fmt.Errorf("unknown type %q", d.Type)
	}
	if d.CRS != "" {
		code, err := projection.ParseCRS(d.CRS)
		if err != nil {
			return err
		}
		if _, err := projection.Lookup(code); err != nil {
			return err
		}
	}
	if d.TimeoutMS < 0 {
		return errors.New("timeout_ms must not be negative")
	}
	if kind == KindRaster && (d.ProfileURL != "" || d.ProfileField != "") {
		return errors.New("profile_url and profile_field apply to remote datasets only")
	}
	return nil
}

// Tenant returns the named tenant.
func (c *Config) Tenant(name string) (Tenant, error) {
	t, ok := c.AllTenants()[name]
	if !ok {
		return Tenant{}, fmt.Errorf("%w: %q", ErrUnknownTenant, name)
	}
	return t, nil
}

// Watch reloads path whenever it changes and hands the result to onChange.
// A reload that fails to load or validate is passed as an error; the
// previous configuration stays in effect. Watching stops with ctx.
func Watch(ctx context.Context, path string, onChange func(*Config, error)) error {
	if path == "" {
		return fmt.Errorf("%w: no config file to watch", ErrLoadConfig)
	}

	f := file.Provider(path)
	err := f.Watch(func(_ interface{}, err error) {
		if err != nil {
			onChange(nil, fmt.Errorf("%w: watch %s: %w", ErrLoadConfig, path, err))
			return
		}
		onChange(LoadFile(ctx, path))
	})
	if err != nil {
		return fmt.Errorf("%w: watch %s: %w", ErrLoadConfig, path, err)
	}

	go func() {
		<-ctx.Done()
		_ = f.Unwatch()
	}()
	return nil
}
