package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/okian/elevation/internal/adapters/raster"
	service "github.com/okian/elevation/internal/app"
	"github.com/okian/elevation/internal/config"
	"github.com/okian/elevation/internal/domain/elevation"
	"github.com/okian/elevation/internal/domain/geom"
	"github.com/okian/elevation/internal/domain/projection"
	. "github.com/smartystreets/goconvey/convey"
)

// writePlane writes a 10x10 LV95 ASCII grid of constant height with its
// lower left corner at 2600000/1200000 and 10 m cells.
func writePlane(t *testing.T, dir, name string, height string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("ncols 10\nnrows 10\nxllcorner 2600000\nyllcorner 1200000\ncellsize 10\nNODATA_value -9999\n")
	for range 10 {
		b.WriteString(strings.TrimSpace(strings.Repeat(height+" ", 10)))
		b.WriteString("\n")
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(strings.TrimSuffix(path, ".asc")+".prj", []byte("EPSG:2056"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func marshal(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return err.Error()
	}
	return string(b)
}

func TestServiceIntegration(t *testing.T) {
	Convey("Given a service over raster files and a remote API", t, func() {
		dir := t.TempDir()
		plane := writePlane(t, dir, "plane.asc", "500")
		lakes := writePlane(t, dir, "lakes.asc", "372")

		var calls atomic.Int64
		api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			_, _ = w.Write([]byte(`{"height":"431.5"}`))
		}))
		defer api.Close()

		cfg := config.New()
		cfg.ElevationDataset = plane
		cfg.Tenants = map[string]config.Tenant{
			"alpine": {
				ElevationMode: "multi",
				ElevationDatasets: []config.Dataset{
					{Name: "dtm", Type: "local", Path: plane},
					{Name: "swisstopo", Type: "swisstopo-api", Datasource: api.URL},
					{Name: "broken", Type: "local", Path: filepath.Join(dir, "missing.asc")},
				},
			},
			"lakes": {ElevationDataset: lakes},
		}

		reg := raster.NewRegistry()
		svc := service.New(cfg, service.WithRegistry(reg))
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("When querying a point on the default tenant", func() {
			resp, err := svc.Point(ctx, "default", point)

			Convey("Then the raster height should be returned bare", func() {
				So(err, ShouldBeNil)
				So(marshal(resp), ShouldEqual, `{"elevation":500}`)
			})
		})

		Convey("When querying a point in WGS84", func() {
			tr, err := projection.Build(projection.LV95, projection.WGS84)
			So(err, ShouldBeNil)
			wgs := tr.Transform(geom.Point{X: 2600050, Y: 1200050})
			resp, err := svc.Point(ctx, "default", elevation.PointQuery{Position: wgs, CRS: projection.WGS84})

			Convey("Then it should be projected into the raster", func() {
				So(err, ShouldBeNil)
				So(resp.Elevation, ShouldAlmostEqual, 500.0, 1e-6)
			})
		})

		Convey("When querying a point on the multi tenant", func() {
			resp, err := svc.Point(ctx, "alpine", point)

			Convey("Then every source should be listed with the broken one annotated", func() {
				So(err, ShouldBeNil)
				So(len(resp.List), ShouldEqual, 3)
				So(*resp.List[0].Elevation, ShouldEqual, 500.0)
				So(*resp.List[1].Elevation, ShouldEqual, 431.5)
				So(resp.List[2].Elevation, ShouldBeNil)
				So(resp.List[2].Error, ShouldContainSubstring, "missing.asc")
				So(calls.Load(), ShouldEqual, int64(1))
			})
		})

		Convey("When querying a profile", func() {
			resp, err := svc.Profile(ctx, "default", elevation.ProfileQuery{
				Vertices:  []geom.Point{{X: 2600030, Y: 1200050}, {X: 2600070, Y: 1200050}},
				Distances: []float64{40},
				CRS:       projection.LV95,
				Samples:   3,
			})

			Convey("Then every sample should hit the plane", func() {
				So(err, ShouldBeNil)
				So(len(resp.Elevations), ShouldEqual, 3)
				for _, h := range resp.Elevations {
					So(h, ShouldAlmostEqual, 500.0, 1e-9)
				}
			})
		})

		Convey("When querying a remote profile without a profile endpoint", func() {
			resp, err := svc.Profile(ctx, "alpine", elevation.ProfileQuery{
				Vertices:  []geom.Point{{X: 2600030, Y: 1200050}, {X: 2600070, Y: 1200050}},
				Distances: []float64{40},
				CRS:       projection.LV95,
				Samples:   4,
			})

			Convey("Then each sample should be queried remotely", func() {
				So(err, ShouldBeNil)
				So(len(resp.List[1].Elevations), ShouldEqual, 4)
				So(calls.Load(), ShouldEqual, int64(4))
			})
		})

		Convey("When many requests share the raster", func() {
			var wg sync.WaitGroup
			for range 20 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, _ = svc.Point(ctx, "default", point)
				}()
			}
			wg.Wait()

			Convey("Then the file should be opened once", func() {
				So(reg.Stats().Opens, ShouldEqual, uint64(1))
			})
		})

		Convey("When checking health", func() {
			Convey("Then tenants with readable rasters should be healthy", func() {
				So(svc.Health(ctx, "default"), ShouldBeNil)
				So(svc.Health(ctx, "lakes"), ShouldBeNil)
			})

			Convey("Then a missing raster should fail the tenant", func() {
				err := svc.Health(ctx, "alpine")
				So(errors.Is(err, raster.ErrSourceUnavailable), ShouldBeTrue)
			})
		})

		Convey("When a config without the lakes tenant is applied", func() {
			_, err := svc.Point(ctx, "lakes", point)
			So(err, ShouldBeNil)
			So(reg.Stats().Open, ShouldEqual, 1)

			next := config.New()
			next.ElevationDataset = plane
			So(svc.Apply(ctx, next), ShouldBeNil)

			Convey("Then its handles should be closed and the tenant gone", func() {
				So(svc.Tenants(), ShouldResemble, []string{"default"})
				_, err := svc.Point(ctx, "lakes", point)
				So(errors.Is(err, config.ErrUnknownTenant), ShouldBeTrue)
				So(reg.Stats().Open, ShouldEqual, 0)
			})
		})

		Convey("When the raster changes on disk and handles are refreshed", func() {
			_, err := svc.Point(ctx, "default", point)
			So(err, ShouldBeNil)

			writePlane(t, dir, "plane.asc", "510")
			svc.Refresh(ctx)
			resp, err := svc.Point(ctx, "default", point)

			Convey("Then the new heights should be served", func() {
				So(err, ShouldBeNil)
				So(resp.Elevation, ShouldEqual, 510.0)
				So(reg.Stats().Opens, ShouldEqual, uint64(2))
			})
		})
	})
}
