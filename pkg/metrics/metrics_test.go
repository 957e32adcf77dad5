package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	. "github.com/smartystreets/goconvey/convey"
)

// value reads the current value of a counter or gauge.
func value(c prometheus.Metric) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return -1
	}
	if m.Counter != nil {
		return m.GetCounter().GetValue()
	}
	return m.GetGauge().GetValue()
}

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with default options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then it should use the elevation namespace", func() {
				So(manager, ShouldNotBeNil)
				So(manager.namespace, ShouldEqual, "elevation")
				So(manager.subsystem, ShouldEqual, "service")
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test_namespace"),
				WithSubsystem("test_subsystem"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithCustomLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)
			manager.rasterCacheHits.Inc()

			Convey("Then the metrics should be registered with those names", func() {
				families, err := registry.Gather()
				So(err, ShouldBeNil)

				var found bool
				for _, f := range families {
					if f.GetName() == "test_namespace_test_subsystem_raster_cache_hits_total" {
						found = true
						So(f.GetMetric()[0].GetLabel()[0].GetName(), ShouldEqual, "env")
					}
				}
				So(found, ShouldBeTrue)
			})
		})

		Convey("When options are empty", func() {
			manager := NewManager(
				WithNamespace(""),
				WithSubsystem(""),
				WithHistogramBuckets(nil),
				WithCustomLabels(nil),
				WithPrometheusRegistry(prometheus.NewRegistry()),
			)

			Convey("Then the defaults should be kept", func() {
				So(manager.namespace, ShouldEqual, "elevation")
				So(manager.histogramBuckets, ShouldResemble, latencyBuckets)
				So(manager.customLabels, ShouldNotBeNil)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global metrics", t, func() {
		Convey("When recording samples", func() {
			before := value(globalManager.samplesTotal.WithLabelValues("point", "raster", OutcomeOK))
			RecordSample("point", "raster", OutcomeOK)
			RecordSample("point", "raster", OutcomeOK)

			Convey("Then the counter should advance", func() {
				after := value(globalManager.samplesTotal.WithLabelValues("point", "raster", OutcomeOK))
				So(after-before, ShouldEqual, 2.0)
			})
		})

		Convey("When updating raster handles", func() {
			UpdateRasterOpenHandles(3)

			Convey("Then the gauge should hold the value", func() {
				So(value(globalManager.rasterOpenHandles), ShouldEqual, 3.0)
			})
		})

		Convey("When recording the rest of the surface", func() {
			So(func() {
				RecordHTTPRequest("getelevation", "GET", "200")
				RecordHTTPRequestDuration("getelevation", "GET", "200", 1.5)
				RecordSourceLatency("profile", "remote", 12)
				RecordRemoteRequest("height", OutcomeError)
				RecordRasterOpen(OutcomeOK)
				RecordRasterCacheHit()
				RecordConfigReload(OutcomeOK)
				UpdateTenantsConfigured(2)
				RecordErrorByComponent("raster", "open")
			}, ShouldNotPanic)
		})
	})
}

func TestMetricsHandler(t *testing.T) {
	Convey("Given the metrics handler", t, func() {
		RecordRasterCacheHit()
		rec := httptest.NewRecorder()
		Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

		Convey("Then the exposition should include service metrics", func() {
			So(rec.Code, ShouldEqual, http.StatusOK)
			body, _ := io.ReadAll(rec.Body)
			So(strings.Contains(string(body), "elevation_service_raster_cache_hits_total"), ShouldBeTrue)
			So(GetRegistry(), ShouldNotBeNil)
		})
	})
}

func TestMetricsConcurrency(t *testing.T) {
	Convey("Given concurrent metrics recording", t, func() {
		before := value(globalManager.remoteRequests.WithLabelValues("profile", OutcomeOK))

		var wg sync.WaitGroup
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range 100 {
					RecordRemoteRequest("profile", OutcomeOK)
				}
			}()
		}
		wg.Wait()

		Convey("Then every increment should be counted", func() {
			after := value(globalManager.remoteRequests.WithLabelValues("profile", OutcomeOK))
			So(after-before, ShouldEqual, 1000.0)
		})
	})
}
