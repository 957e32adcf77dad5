package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/okian/elevation/pkg/logger"
)

// Result is the outcome of one request.
type Result struct {
	Case      string
	Kind      string // "point" or "profile"
	RequestID string
	Status    int
	Latency   time.Duration
	Err       error
}

// Passed reports whether the request matched its expectations.
func (r Result) Passed() bool { return r.Err == nil }

// Summary holds run statistics
type Summary struct {
	RunID     string
	Scenario  string
	Total     int
	Passed    int
	Failed    int
	Results   []Result
	StartTime time.Time
	Duration  time.Duration
}

type job struct {
	kind    string
	name    string
	point   *PointCase
	profile *ProfileCase
}

// Run executes every case of sc against the server. It returns ErrFailed
// when at least one case did not match.
func Run(ctx context.Context, cfg *Config, sc *Scenario) (*Summary, error) {
	runID := uuid.NewString()
	sum := &Summary{RunID: runID, Scenario: sc.Name, StartTime: time.Now()}
	log := logger.Get().Named("probe").With(logger.String("run_id", runID))

	log.Info(ctx, "starting elevation probe",
		logger.String("baseURL", cfg.BaseURL),
		logger.String("scenario", sc.Name),
		logger.String("tenant", sc.Tenant),
		logger.Int("points", len(sc.Points)),
		logger.Int("profiles", len(sc.Profiles)),
		logger.Int("workers", cfg.Workers),
		logger.Int("repeat", cfg.Repeat),
	)

	c := newClient(cfg, sc.Tenant, runID[:8])
	if !cfg.SkipHealth {
		if err := c.health(ctx); err != nil {
			return sum, err
		}
		log.Info(ctx, "service is healthy")
	}

	jobs := expand(sc, cfg.Repeat)
	var (
		mu      sync.Mutex
		results = make([]Result, 0, len(jobs))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.Workers, 1))
	for _, j := range jobs {
		g.Go(func() error {
			r := execute(gctx, c, j, cfg.Tolerance)
			if cfg.Verbose || !r.Passed() {
				fields := []logger.Field{
					logger.String("case", r.Case),
					logger.String("request_id", r.RequestID),
					logger.Int("status", r.Status),
					logger.Duration("latency", r.Latency),
				}
				if r.Err != nil {
					log.Warn(ctx, "case failed", append(fields, logger.Error(r.Err))...)
				} else {
					log.Debug(ctx, "case passed", fields...)
				}
			}
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
			// Mismatches are collected, not fatal.
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(results, func(a, b int) bool { return results[a].Case < results[b].Case })
	sum.Results = results
	sum.Total = len(results)
	for _, r := range results {
		if r.Passed() {
			sum.Passed++
		} else {
			sum.Failed++
		}
	}
	sum.Duration = time.Since(sum.StartTime)

	log.Info(ctx, "probe finished",
		logger.Int("total", sum.Total),
		logger.Int("passed", sum.Passed),
		logger.Int("failed", sum.Failed),
		logger.String("duration", sum.Duration.String()),
	)
	if err := ctx.Err(); err != nil {
		return sum, err
	}
	if sum.Failed > 0 {
		return sum, fmt.Errorf("%w: %d of %d cases failed", ErrFailed, sum.Failed, sum.Total)
	}
	return sum, nil
}

func expand(sc *Scenario, repeat int) []job {
	repeat = max(repeat, 1)
	var jobs []job
	for range repeat {
		for i := range sc.Points {
			jobs = append(jobs, job{kind: "point", name: caseName("point", sc.Points[i].Name, i), point: &sc.Points[i]})
		}
		for i := range sc.Profiles {
			jobs = append(jobs, job{kind: "profile", name: caseName("profile", sc.Profiles[i].Name, i), profile: &sc.Profiles[i]})
		}
	}
	return jobs
}

func execute(ctx context.Context, c *client, j job, tol float64) Result {
	r := Result{Case: j.name, Kind: j.kind}

	var (
		a      answer
		err    error
		status int
	)
	if j.point != nil {
		a, err = c.point(ctx, *j.point)
		status = j.point.Status
	} else {
		a, err = c.profile(ctx, *j.profile)
		status = j.profile.Status
	}
	r.RequestID, r.Status, r.Latency = a.requestID, a.status, a.latency
	if err != nil {
		r.Err = err
		return r
	}

	if status == 0 {
		status = http.StatusOK
	}
	if a.status != status {
		r.Err = fmt.Errorf("%w: status %d, want %d%s", ErrMismatch, a.status, status, errorSuffix(a))
		return r
	}
	if a.status != http.StatusOK {
		return r
	}

	if j.point != nil {
		r.Err = checkPoint(a, j.point.Expect, tol)
	} else {
		r.Err = checkProfile(a, j.profile.Expect, tol)
	}
	return r
}

func errorSuffix(a answer) string {
	var msg string
	if err := json.Unmarshal(a.body["error"], &msg); err != nil || msg == "" {
		return ""
	}
	return " (" + msg + ")"
}

// firstHeight returns the elevation of a single answer, or the first
// non-null elevation of a multi answer.
func firstHeight(a answer) (float64, error) {
	if raw, ok := a.body["elevation"]; ok {
		var h float64
		if err := json.Unmarshal(raw, &h); err != nil {
			return 0, fmt.Errorf("%w: elevation: %w", ErrMismatch, err)
		}
		return h, nil
	}
	var list []struct {
		Elevation *float64 `json:"elevation"`
	}
	if err := json.Unmarshal(a.body["elevation_list"], &list); err != nil {
		return 0, fmt.Errorf("%w: no elevation in answer", ErrMismatch)
	}
	for _, e := range list {
		if e.Elevation != nil {
			return *e.Elevation, nil
		}
	}
	return 0, fmt.Errorf("%w: every source returned null", ErrMismatch)
}

func checkPoint(a answer, expect *float64, tol float64) error {
	h, err := firstHeight(a)
	if err != nil {
		return err
	}
	if expect != nil && !within(h, *expect, tol) {
		return fmt.Errorf("%w: elevation %g, want %g", ErrMismatch, h, *expect)
	}
	return nil
}

// firstProfile mirrors firstHeight for profile answers; nulls read as 0.
func firstProfile(a answer) ([]float64, error) {
	if raw, ok := a.body["elevations"]; ok {
		var hs []float64
		if err := json.Unmarshal(raw, &hs); err != nil {
			return nil, fmt.Errorf("%w: elevations: %w", ErrMismatch, err)
		}
		return hs, nil
	}
	var list []struct {
		Elevations []*float64 `json:"elevations"`
		Error      string     `json:"error"`
	}
	if err := json.Unmarshal(a.body["elevations_list"], &list); err != nil {
		return nil, fmt.Errorf("%w: no elevations in answer", ErrMismatch)
	}
	for _, e := range list {
		if e.Error != "" {
			continue
		}
		out := make([]float64, len(e.Elevations))
		for i, h := range e.Elevations {
			if h != nil {
				out[i] = *h
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: every source failed", ErrMismatch)
}

func checkProfile(a answer, expect []float64, tol float64) error {
	hs, err := firstProfile(a)
	if err != nil {
		return err
	}
	if len(expect) == 0 {
		return nil
	}
	if len(hs) != len(expect) {
		return fmt.Errorf("%w: %d elevations, want %d", ErrMismatch, len(hs), len(expect))
	}
	var bad []string
	for i := range hs {
		if !within(hs[i], expect[i], tol) {
			bad = append(bad, fmt.Sprintf("[%d] %g != %g", i, hs[i], expect[i]))
		}
	}
	if len(bad) > 0 {
		return fmt.Errorf("%w: %s", ErrMismatch, strings.Join(bad, ", "))
	}
	return nil
}

// Print writes a per-case table and totals to w.
func (s *Summary) Print(w io.Writer) {
	fmt.Fprintf(w, "run %s  scenario %q\n", s.RunID, s.Scenario)
	for _, r := range s.Results {
		mark := "ok  "
		if !r.Passed() {
			mark = "FAIL"
		}
		fmt.Fprintf(w, "  %s %-8s %-32s %3d %8s", mark, r.Kind, r.Case, r.Status, r.Latency.Round(time.Millisecond))
		if r.Err != nil {
			fmt.Fprintf(w, "  %v", r.Err)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "%d passed, %d failed, %d total in %s\n", s.Passed, s.Failed, s.Total, s.Duration.Round(time.Millisecond))
}

// Failures returns the errors of every failed case.
func (s *Summary) Failures() error {
	var errs []error
	for _, r := range s.Results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Case, r.Err))
		}
	}
	return errors.Join(errs...)
}
