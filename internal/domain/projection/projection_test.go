package projection_test

import (
	"errors"
	"testing"

	"github.com/okian/elevation/internal/domain/geom"
	"github.com/okian/elevation/internal/domain/projection"
	. "github.com/smartystreets/goconvey/convey"
)

func TestParseCRS(t *testing.T) {
	Convey("Given CRS identifiers", t, func() {
		Convey("When the identifier is well formed", func() {
			code, err := projection.ParseCRS("epsg:21781")

			Convey("Then the code should be extracted", func() {
				So(err, ShouldBeNil)
				So(code, ShouldEqual, projection.LV03)
				So(code.String(), ShouldEqual, "EPSG:21781")
			})
		})

		Convey("When the identifier is upper case", func() {
			code, err := projection.ParseCRS("EPSG:2056")

			Convey("Then matching should be case-insensitive", func() {
				So(err, ShouldBeNil)
				So(code, ShouldEqual, projection.LV95)
			})
		})

		Convey("When the identifier is nonsense", func() {
			_, err := projection.ParseCRS("nonsense")

			Convey("Then ErrInvalidProjection should be returned", func() {
				So(errors.Is(err, projection.ErrInvalidProjection), ShouldBeTrue)
			})
		})

		Convey("When the identifier has no digits", func() {
			_, err := projection.ParseCRS("epsg:")
			So(errors.Is(err, projection.ErrInvalidProjection), ShouldBeTrue)
		})

		Convey("When the identifier is zero", func() {
			_, err := projection.ParseCRS("epsg:0")
			So(errors.Is(err, projection.ErrInvalidProjection), ShouldBeTrue)
		})
	})
}

func TestLookup(t *testing.T) {
	Convey("Given EPSG codes", t, func() {
		Convey("Then the built-in systems should resolve", func() {
			for _, code := range []projection.Code{4326, 3857, 900913, 21781, 2056, 32632, 32733, 25832} {
				So(projection.Supported(code), ShouldBeTrue)
			}
		})

		Convey("Then unknown codes should be rejected", func() {
			_, err := projection.Lookup(999999)
			So(errors.Is(err, projection.ErrUnsupportedProjection), ShouldBeTrue)
			So(projection.Supported(0), ShouldBeFalse)
		})
	})
}

func TestSwissProjection(t *testing.T) {
	Convey("Given the swisstopo reference point", t, func() {
		lonlat := geom.Point{X: 8.730497222222223, Y: 46.044130555555554}

		Convey("When projecting to LV03", func() {
			tr, err := projection.Build(projection.WGS84, projection.LV03)
			So(err, ShouldBeNil)
			p := tr.Transform(lonlat)

			Convey("Then it should match the published coordinates", func() {
				So(p.X, ShouldAlmostEqual, 700000, 1)
				So(p.Y, ShouldAlmostEqual, 100000, 1)
			})
		})

		Convey("When projecting to LV95", func() {
			tr, err := projection.Build(projection.WGS84, projection.LV95)
			So(err, ShouldBeNil)
			p := tr.Transform(lonlat)

			Convey("Then the LV95 false origin should be applied", func() {
				So(p.X, ShouldAlmostEqual, 2700000, 1)
				So(p.Y, ShouldAlmostEqual, 1100000, 1)
			})
		})
	})

	Convey("Given a position in LV03", t, func() {
		tr, err := projection.Build(projection.LV03, projection.WGS84)
		So(err, ShouldBeNil)

		Convey("Then the inverse should land near Bern", func() {
			p := tr.Transform(geom.Point{X: 601000, Y: 197000})
			So(p.X, ShouldAlmostEqual, 7.4518, 1e-3)
			So(p.Y, ShouldAlmostEqual, 46.9241, 1e-3)
		})

		Convey("Then the grid origin should map to the old Bern observatory", func() {
			p := tr.Transform(geom.Point{X: 600000, Y: 200000})
			So(p.X, ShouldAlmostEqual, 7.43863, 1e-4)
			So(p.Y, ShouldAlmostEqual, 46.95108, 1e-4)
		})

		Convey("Then a round trip should recover the grid position", func() {
			back, err := projection.Build(projection.WGS84, projection.LV03)
			So(err, ShouldBeNil)
			src := geom.Point{X: 601000, Y: 197000}
			p := back.Transform(tr.Transform(src))
			So(p.X, ShouldAlmostEqual, src.X, 0.01)
			So(p.Y, ShouldAlmostEqual, src.Y, 0.01)
		})

		Convey("Then converting LV03 to LV95 should shift by the false origin", func() {
			toLV95, err := projection.Build(projection.LV03, projection.LV95)
			So(err, ShouldBeNil)
			p := toLV95.Transform(geom.Point{X: 601000, Y: 197000})
			So(p.X, ShouldAlmostEqual, 2601000, 3)
			So(p.Y, ShouldAlmostEqual, 1197000, 3)
		})
	})
}

func TestUTMProjection(t *testing.T) {
	Convey("Given UTM zone 32N", t, func() {
		fwd, err := projection.Build(projection.WGS84, 32632)
		So(err, ShouldBeNil)
		inv, err := projection.Build(32632, projection.WGS84)
		So(err, ShouldBeNil)

		Convey("When projecting a point on the central meridian at the equator", func() {
			p := fwd.Transform(geom.Point{X: 9, Y: 0})

			Convey("Then it should map to the false origin", func() {
				So(p.X, ShouldAlmostEqual, 500000, 1e-3)
				So(p.Y, ShouldAlmostEqual, 0, 1e-3)
			})
		})

		Convey("When round-tripping a mid-latitude point", func() {
			src := geom.Point{X: 8.5417, Y: 47.3769}
			back := inv.Transform(fwd.Transform(src))

			Convey("Then the original should be recovered", func() {
				So(back.X, ShouldAlmostEqual, src.X, 1e-6)
				So(back.Y, ShouldAlmostEqual, src.Y, 1e-6)
			})
		})
	})

	Convey("Given UTM zone 33S", t, func() {
		fwd, err := projection.Build(projection.WGS84, 32733)
		So(err, ShouldBeNil)

		Convey("Then southern positions should carry the false northing", func() {
			p := fwd.Transform(geom.Point{X: 15, Y: -10})
			So(p.X, ShouldAlmostEqual, 500000, 1e-3)
			So(p.Y, ShouldBeLessThan, 10000000)
			So(p.Y, ShouldBeGreaterThan, 8800000)
		})
	})
}

func TestWebMercator(t *testing.T) {
	Convey("Given a deprecated web mercator alias", t, func() {
		tr, err := projection.Build(900913, projection.WebMercator)
		So(err, ShouldBeNil)

		Convey("Then it should be treated as the same system", func() {
			p := geom.Point{X: 1000, Y: 2000}
			So(tr.Transform(p), ShouldResemble, p)
		})
	})

	Convey("Given web mercator", t, func() {
		fwd, err := projection.Build(projection.WGS84, projection.WebMercator)
		So(err, ShouldBeNil)

		Convey("Then the antimeridian should map to the half circumference", func() {
			p := fwd.Transform(geom.Point{X: 180, Y: 0})
			So(p.X, ShouldAlmostEqual, 20037508.342789244, 1e-3)
			So(p.Y, ShouldAlmostEqual, 0, 1e-3)
		})

		Convey("Then the inverse should round-trip", func() {
			inv, err := projection.Build(projection.WebMercator, projection.WGS84)
			So(err, ShouldBeNil)
			back := inv.Transform(fwd.Transform(geom.Point{X: 7.5, Y: 46.9}))
			So(back.X, ShouldAlmostEqual, 7.5, 1e-7)
			So(back.Y, ShouldAlmostEqual, 46.9, 1e-7)
		})
	})
}

func TestBuild(t *testing.T) {
	Convey("Given transformer construction", t, func() {
		Convey("When the input code is unknown", func() {
			_, err := projection.Build(123456, projection.LV95)

			Convey("Then ErrInvalidProjection should be returned", func() {
				So(errors.Is(err, projection.ErrInvalidProjection), ShouldBeTrue)
				So(errors.Is(err, projection.ErrUnsupportedProjection), ShouldBeTrue)
			})
		})

		Convey("When both codes are equal", func() {
			tr, err := projection.Build(projection.LV95, projection.LV95)
			So(err, ShouldBeNil)

			Convey("Then Transform should be the identity", func() {
				p := geom.Point{X: 2600123.5, Y: 1200456.25}
				So(tr.Transform(p), ShouldResemble, p)
				So(tr.From(), ShouldEqual, projection.LV95)
				So(tr.To(), ShouldEqual, projection.LV95)
			})
		})

		Convey("When transforming many points", func() {
			tr, err := projection.Build(projection.LV03, projection.LV95)
			So(err, ShouldBeNil)
			out := tr.TransformAll([]geom.Point{{X: 600000, Y: 200000}, {X: 601000, Y: 197000}})

			Convey("Then one output per input should be produced", func() {
				So(len(out), ShouldEqual, 2)
			})
		})
	})
}

func TestParseWKT(t *testing.T) {
	Convey("Given projection descriptions", t, func() {
		Convey("When the text is a bare identifier", func() {
			code, err := projection.ParseWKT("EPSG:2056\n")
			So(err, ShouldBeNil)
			So(code, ShouldEqual, projection.LV95)
		})

		Convey("When the text is WKT1 with nested authorities", func() {
			wkt := `PROJCS["CH1903 / LV03",GEOGCS["CH1903",DATUM["CH1903",AUTHORITY["EPSG","6149"]],AUTHORITY["EPSG","4149"]],PROJECTION["Hotine_Oblique_Mercator_Azimuth_Center"],UNIT["metre",1,AUTHORITY["EPSG","9001"]],AUTHORITY["EPSG","21781"]]`
			code, err := projection.ParseWKT(wkt)

			Convey("Then the outermost authority should win", func() {
				So(err, ShouldBeNil)
				So(code, ShouldEqual, projection.LV03)
			})
		})

		Convey("When the text is WKT2 with an ID node", func() {
			code, err := projection.ParseWKT(`PROJCRS["WGS 84 / UTM zone 32N",BASEGEOGCRS["WGS 84",ID["EPSG",4326]],ID["EPSG",32632]]`)
			So(err, ShouldBeNil)
			So(code, ShouldEqual, projection.Code(32632))
		})

		Convey("When the text is an ESRI projection without authority", func() {
			code, err := projection.ParseWKT(`PROJCS["CH1903+_LV95",GEOGCS["GCS_CH1903+"],PROJECTION["Hotine_Oblique_Mercator_Azimuth_Center"]]`)
			So(err, ShouldBeNil)
			So(code, ShouldEqual, projection.LV95)
		})

		Convey("When the text is empty", func() {
			_, err := projection.ParseWKT("  ")
			So(errors.Is(err, projection.ErrInvalidProjection), ShouldBeTrue)
		})

		Convey("When the text is garbage", func() {
			_, err := projection.ParseWKT("hello world")
			So(err, ShouldNotBeNil)
		})
	})
}
