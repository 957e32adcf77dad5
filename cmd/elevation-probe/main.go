package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/okian/elevation/internal/probe"
	"github.com/okian/elevation/pkg/logger"
)

// Options are the probe's command line flags.
type Options struct {
	URL          string        `short:"u" long:"url"           env:"PROBE_URL"      description:"Base URL of the service" default:"http://localhost:9080"`
	Scenario     string        `short:"s" long:"scenario"      env:"PROBE_SCENARIO" description:"Path to YAML scenario file" required:"true"`
	Tenant       string        `short:"t" long:"tenant"        description:"Tenant to query, overriding the scenario"`
	TenantHeader string        `long:"tenant-header"           description:"Header carrying the tenant" default:"X-Tenant"`
	Workers      int           `short:"w" long:"workers"       description:"Number of concurrent workers (default CPU cores * 2)"`
	Repeat       int           `short:"n" long:"repeat"        description:"Times every case is sent" default:"1"`
	Tolerance    float64       `long:"tolerance"               description:"Allowed height difference in meters" default:"0.01"`
	Timeout      time.Duration `long:"timeout"                 description:"HTTP request timeout" default:"30s"`
	SkipHealth   bool          `long:"skip-health"             description:"Do not check /healthz first"`
	LogFormat    string        `long:"log-format"              description:"Log format" choice:"text" choice:"json" default:"text"`
	Verbose      bool          `short:"v" long:"verbose"       description:"Log every case"`
}

func main() {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	if err := logger.Init(logger.WithFormat(opts.LogFormat)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	if opts.Verbose {
		_ = logger.SetLevelString("debug")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, opts)
	stop()
	os.Exit(code)
}

// run executes the scenario and returns the process exit code.
func run(ctx context.Context, opts Options) int {
	log := logger.Get()

	sc, err := probe.LoadScenario(opts.Scenario)
	if err != nil {
		log.Error(ctx, "failed to load scenario", logger.String("path", opts.Scenario), logger.Error(err))
		return 2
	}
	if opts.Tenant != "" {
		sc.Tenant = opts.Tenant
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU() * 2
	}
	cfg := &probe.Config{
		BaseURL:      strings.TrimRight(opts.URL, "/"),
		TenantHeader: opts.TenantHeader,
		Workers:      workers,
		Repeat:       opts.Repeat,
		Timeout:      opts.Timeout,
		Tolerance:    opts.Tolerance,
		SkipHealth:   opts.SkipHealth,
		Verbose:      opts.Verbose,
	}

	sum, err := probe.Run(ctx, cfg, sc)
	if sum != nil && sum.Total > 0 {
		sum.Print(os.Stdout)
	}
	if err != nil {
		log.Error(ctx, "probe failed", logger.Error(err))
		return 1
	}
	return 0
}
