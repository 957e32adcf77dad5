package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	service "github.com/okian/elevation/internal/app"
	"github.com/okian/elevation/internal/config"
	"github.com/okian/elevation/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func writeGrid(t *testing.T, dir string, height string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("ncols 4\nnrows 4\nxllcorner 2600000\nyllcorner 1200000\ncellsize 25\n")
	for range 4 {
		b.WriteString(strings.Repeat(height+" ", 4) + "\n")
	}
	path := filepath.Join(dir, "grid.asc")
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "grid.prj"), []byte("EPSG:2056"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewMux(t *testing.T) {
	convey.Convey("Given a started service over one raster", t, func() {
		cfg := config.New()
		cfg.ElevationDataset = writeGrid(t, t.TempDir(), "742")
		svc := service.New(cfg)
		ctx := context.Background()
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer svc.Stop()

		srv := httptest.NewServer(newMux(ctx, svc, cfg))
		defer srv.Close()

		get := func(path string) (int, map[string]any) {
			resp, err := http.Get(srv.URL + path)
			convey.So(err, convey.ShouldBeNil)
			defer func() { _ = resp.Body.Close() }()
			var body map[string]any
			_ = json.NewDecoder(resp.Body).Decode(&body)
			return resp.StatusCode, body
		}

		convey.Convey("When querying an elevation", func() {
			status, body := get("/getelevation?pos=2600050,1200050&crs=epsg:2056")

			convey.Convey("Then the raster height should be served", func() {
				convey.So(status, convey.ShouldEqual, http.StatusOK)
				convey.So(body["elevation"], convey.ShouldEqual, 742.0)
			})
		})

		convey.Convey("When checking health", func() {
			status, body := get("/healthz")

			convey.Convey("Then the tenant should be healthy", func() {
				convey.So(status, convey.ShouldEqual, http.StatusOK)
				convey.So(body["status"], convey.ShouldEqual, "OK")
			})
		})

		convey.Convey("When fetching the docs and the OpenAPI document", func() {
			docs, err := http.Get(srv.URL + "/api-docs")
			convey.So(err, convey.ShouldBeNil)
			_ = docs.Body.Close()
			spec, err := http.Get(srv.URL + "/openapi.yaml")
			convey.So(err, convey.ShouldBeNil)
			_ = spec.Body.Close()

			convey.Convey("Then both should be mounted", func() {
				convey.So(docs.StatusCode, convey.ShouldEqual, http.StatusOK)
				convey.So(spec.StatusCode, convey.ShouldEqual, http.StatusOK)
			})
		})
	})
}

func TestNewMux_NaNGrid(t *testing.T) {
	convey.Convey("Given a raster whose cells and sentinel are NaN", t, func() {
		dir := t.TempDir()
		var b strings.Builder
		b.WriteString("ncols 4\nnrows 4\nxllcorner 2600000\nyllcorner 1200000\ncellsize 25\nNODATA_value nan\n")
		for range 4 {
			b.WriteString("nan nan nan nan\n")
		}
		path := filepath.Join(dir, "void.asc")
		convey.So(os.WriteFile(path, []byte(b.String()), 0o600), convey.ShouldBeNil)
		convey.So(os.WriteFile(filepath.Join(dir, "void.prj"), []byte("EPSG:2056"), 0o600), convey.ShouldBeNil)

		cfg := config.New()
		cfg.ElevationDataset = path
		svc := service.New(cfg)
		ctx := context.Background()
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer svc.Stop()

		srv := httptest.NewServer(newMux(ctx, svc, cfg))
		defer srv.Close()

		convey.Convey("When querying a cell", func() {
			resp, err := http.Get(srv.URL + "/getelevation?pos=2600050,1200050&crs=epsg:2056")
			convey.So(err, convey.ShouldBeNil)
			defer func() { _ = resp.Body.Close() }()
			raw, err := io.ReadAll(resp.Body)
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then no elevation should be answered as a JSON body", func() {
				convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)
				convey.So(strings.TrimSpace(string(raw)), convey.ShouldEqual, `{"elevation":0}`)
			})
		})
	})
}

func TestApplyConfig(t *testing.T) {
	convey.Convey("Given a started service", t, func() {
		svc := service.New(config.New())
		ctx := context.Background()
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer svc.Stop()
		apply := applyConfig(ctx, svc, logger.Get())

		convey.Convey("When a load error is reported", func() {
			apply(nil, errors.New("boom"))

			convey.Convey("Then the running tenants should stay", func() {
				convey.So(svc.Tenants(), convey.ShouldResemble, []string{"default"})
			})
		})

		convey.Convey("When a new config arrives", func() {
			cfg := config.New()
			cfg.Tenants = map[string]config.Tenant{"alpine": {}}
			apply(cfg, nil)

			convey.Convey("Then its tenants should be served", func() {
				convey.So(svc.Tenants(), convey.ShouldResemble, []string{"alpine", "default"})
			})
		})
	})
}

func TestReloadOnHangup(t *testing.T) {
	convey.Convey("Given a service reloading from a config file", t, func() {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.yaml")
		convey.So(os.WriteFile(path, []byte("tenants:\n  lakes: {}\n"), 0o600), convey.ShouldBeNil)

		// Keep a stray SIGHUP from terminating the test binary.
		guard := make(chan os.Signal, 1)
		signal.Notify(guard, syscall.SIGHUP)
		defer signal.Stop(guard)

		svc := service.New(config.New())
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer svc.Stop()

		done := make(chan struct{})
		go func() {
			reloadOnHangup(ctx, svc, path, logger.Get())
			close(done)
		}()

		convey.Convey("When SIGHUP is delivered", func() {
			// Give the handler time to subscribe.
			time.Sleep(50 * time.Millisecond)
			convey.So(syscall.Kill(os.Getpid(), syscall.SIGHUP), convey.ShouldBeNil)

			deadline := time.Now().Add(5 * time.Second)
			for len(svc.Tenants()) < 2 && time.Now().Before(deadline) {
				time.Sleep(10 * time.Millisecond)
			}

			convey.Convey("Then the file's tenants should be applied", func() {
				convey.So(svc.Tenants(), convey.ShouldResemble, []string{"default", "lakes"})
			})
		})

		convey.Convey("When the context is cancelled", func() {
			cancel()

			convey.Convey("Then the handler should return", func() {
				select {
				case <-done:
					convey.So(true, convey.ShouldBeTrue)
				case <-time.After(5 * time.Second):
					convey.So("reloadOnHangup did not return", convey.ShouldBeEmpty)
				}
			})
		})
	})
}
