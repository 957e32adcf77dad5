package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/elevation/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(logger.WithWriter(&bytes.Buffer{})); err != nil {
		panic(err)
	}
}

const scenarioYAML = `
name: smoke
tenant: alpine
points:
  - name: bern
    pos: "2600000,1200000"
    crs: "2056"
    expect: 541.2
  - name: off-map
    pos: "nonsense"
    status: 400
profiles:
  - name: line
    coordinates: [[2600000, 1200000], [2600100, 1200000]]
    distances: [100]
    projection: "2056"
    samples: 3
    expect: [541.2, 545, 550]
`

// fakeServer answers like the elevation API and records what it saw.
type fakeServer struct {
	mu       sync.Mutex
	tenants  []string
	ids      []string
	requests atomic.Int64
	healthy  bool
	height   float64
}

func (f *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	record := func(r *http.Request) {
		f.requests.Add(1)
		f.mu.Lock()
		f.tenants = append(f.tenants, r.Header.Get("X-Tenant"))
		f.ids = append(f.ids, r.Header.Get(RequestIDHeader))
		f.mu.Unlock()
	}
	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !f.healthy {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "FAIL", "cause": "Failed to open elevation_dataset"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
	})
	mux.HandleFunc("/getelevation", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		if r.URL.Query().Get("pos") == "nonsense" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid position"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]float64{"elevation": f.height})
	})
	mux.HandleFunc("/getheightprofile", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		var req struct {
			Samples int `json:"samples"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		writeJSON(w, http.StatusOK, map[string]any{
			"elevations_list": []map[string]any{
				{"dataset": "broken", "elevations": []any{}, "error": "open failed"},
				{"dataset": "dtm", "elevations": []float64{f.height, 545, 550}},
			},
		})
	})
	return mux
}

func TestParseScenario(t *testing.T) {
	Convey("Given scenario documents", t, func() {
		Convey("When the document is valid", func() {
			sc, err := ParseScenario([]byte(scenarioYAML))

			Convey("Then every case should be decoded", func() {
				So(err, ShouldBeNil)
				So(sc.Name, ShouldEqual, "smoke")
				So(sc.Tenant, ShouldEqual, "alpine")
				So(len(sc.Points), ShouldEqual, 2)
				So(*sc.Points[0].Expect, ShouldEqual, 541.2)
				So(sc.Points[1].Status, ShouldEqual, 400)
				So(sc.Profiles[0].Coordinates, ShouldResemble, [][]float64{{2600000, 1200000}, {2600100, 1200000}})
			})
		})

		Convey("When the document has unknown keys", func() {
			_, err := ParseScenario([]byte("points:\n  - pos: \"1,2\"\n    height: 3\n"))

			Convey("Then it should be rejected", func() {
				So(errors.Is(err, ErrScenario), ShouldBeTrue)
			})
		})

		Convey("When the document is empty of cases", func() {
			_, err := ParseScenario([]byte("name: nothing\n"))
			So(errors.Is(err, ErrScenario), ShouldBeTrue)
		})

		Convey("When a profile expects the wrong number of heights", func() {
			_, err := ParseScenario([]byte("profiles:\n  - samples: 3\n    expect: [1, 2]\n"))
			So(errors.Is(err, ErrScenario), ShouldBeTrue)
		})

		Convey("When the file is missing", func() {
			_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
			So(errors.Is(err, ErrScenario), ShouldBeTrue)
		})

		Convey("When the file exists", func() {
			path := filepath.Join(t.TempDir(), "scenario.yaml")
			So(os.WriteFile(path, []byte(scenarioYAML), 0o600), ShouldBeNil)
			sc, err := LoadScenario(path)
			So(err, ShouldBeNil)
			So(len(sc.Profiles), ShouldEqual, 1)
		})
	})
}

func TestRun(t *testing.T) {
	Convey("Given a running elevation server", t, func() {
		f := &fakeServer{healthy: true, height: 541.2}
		srv := httptest.NewServer(f.handler())
		defer srv.Close()

		sc, err := ParseScenario([]byte(scenarioYAML))
		So(err, ShouldBeNil)
		cfg := &Config{
			BaseURL:      srv.URL,
			TenantHeader: "X-Tenant",
			Workers:      4,
			Repeat:       2,
			Timeout:      5 * time.Second,
			Tolerance:    0.01,
		}
		ctx := context.Background()

		Convey("When every answer matches", func() {
			sum, err := Run(ctx, cfg, sc)

			Convey("Then the run should pass", func() {
				So(err, ShouldBeNil)
				So(sum.Total, ShouldEqual, 6)
				So(sum.Passed, ShouldEqual, 6)
				So(sum.Failures(), ShouldBeNil)
				So(f.requests.Load(), ShouldEqual, int64(6))
			})

			Convey("And every request should carry the tenant and a run-scoped id", func() {
				f.mu.Lock()
				defer f.mu.Unlock()
				prefix := sum.RunID[:8] + "-"
				for i := range f.ids {
					So(f.tenants[i], ShouldEqual, "alpine")
					So(f.ids[i], ShouldStartWith, prefix)
				}
			})

			Convey("And the summary should print every case", func() {
				var b bytes.Buffer
				sum.Print(&b)
				So(b.String(), ShouldContainSubstring, "6 passed, 0 failed, 6 total")
				So(b.String(), ShouldContainSubstring, "bern")
			})
		})

		Convey("When the heights drift past the tolerance", func() {
			f.height = 600
			sum, err := Run(ctx, cfg, sc)

			Convey("Then the mismatching cases should fail the run", func() {
				So(errors.Is(err, ErrFailed), ShouldBeTrue)
				So(sum.Failed, ShouldEqual, 4)
				So(sum.Passed, ShouldEqual, 2)
				So(errors.Is(sum.Failures(), ErrMismatch), ShouldBeTrue)
			})
		})

		Convey("When the service is unhealthy", func() {
			f.healthy = false
			_, err := Run(ctx, cfg, sc)

			Convey("Then no case should be sent", func() {
				So(errors.Is(err, ErrUnhealthy), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "Failed to open elevation_dataset")
				So(f.requests.Load(), ShouldEqual, int64(0))
			})

			Convey("And skipping the health check should still run the cases", func() {
				cfg.SkipHealth = true
				_, err := Run(ctx, cfg, sc)
				So(err, ShouldBeNil)
			})
		})
	})
}

func TestChecks(t *testing.T) {
	Convey("Given decoded answers", t, func() {
		decode := func(s string) answer {
			var a answer
			So(json.Unmarshal([]byte(s), &a.body), ShouldBeNil)
			return a
		}

		Convey("Then multi point answers should use the first non-null height", func() {
			a := decode(`{"elevation_list":[{"dataset":"a","elevation":null},{"dataset":"b","elevation":12.5}]}`)
			h, err := firstHeight(a)
			So(err, ShouldBeNil)
			So(h, ShouldEqual, 12.5)
		})

		Convey("Then an all-null point answer should be a mismatch", func() {
			a := decode(`{"elevation_list":[{"dataset":"a","elevation":null}]}`)
			_, err := firstHeight(a)
			So(errors.Is(err, ErrMismatch), ShouldBeTrue)
		})

		Convey("Then single profile answers should be read directly", func() {
			a := decode(`{"elevations":[1,2,3]}`)
			So(checkProfile(a, []float64{1, 2, 3.005}, 0.01), ShouldBeNil)
			So(errors.Is(checkProfile(a, []float64{1, 2}, 0.01), ErrMismatch), ShouldBeTrue)
		})

		Convey("Then a point without expectation should pass on any height", func() {
			So(checkPoint(decode(`{"elevation":0}`), nil, 0), ShouldBeNil)
		})
	})
}
