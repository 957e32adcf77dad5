package raster

import (
	"archive/zip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/okian/elevation/internal/domain/geom"
	"github.com/okian/elevation/internal/domain/projection"
)

const hgtVoid = -32768

var tileName = regexp.MustCompile(`(?i)^([NS])(\d{2})([EW])(\d{3})`)

// readHGT decodes an SRTM tile. Tiles are square grids of big-endian int16
// covering one degree, named by their south-west corner, with one row and
// column shared with each neighbour.
func readHGT(path string) (decoded, error) {
	b, err := hgtBytes(path)
	if err != nil {
		return decoded{}, err
	}

	d := decoded{
		crs:       projection.WGS84,
		nodata:    hgtVoid,
		hasNoData: true,
	}
	d.gt, d.gtOK = hgtTransform(filepath.Base(path), len(b))

	n := int(math.Sqrt(float64(len(b) / 2)))
	if n < 2 || n*n*2 != len(b) {
		d.bandErr = fmt.Errorf("%w: %d bytes is not a square int16 tile", ErrBandUnavailable, len(b))
		return d, nil
	}
	d.width, d.height = n, n
	d.data = make([]float64, n*n)
	for i := range d.data {
		d.data[i] = float64(int16(binary.BigEndian.Uint16(b[2*i:])))
	}
	return d, nil
}

func hgtTransform(name string, size int) (geom.Affine, bool) {
	m := tileName.FindStringSubmatch(name)
	n := int(math.Sqrt(float64(size / 2)))
	if m == nil || n < 2 {
		return geom.Affine{}, false
	}
	lat, _ := strconv.Atoi(m[2])
	lon, _ := strconv.Atoi(m[4])
	if strings.EqualFold(m[1], "S") {
		lat = -lat
	}
	if strings.EqualFold(m[3], "W") {
		lon = -lon
	}

	res := 1 / float64(n-1)
	return geom.Affine{float64(lon) - res/2, res, 0, float64(lat+1) + res/2, 0, -res}, true
}

func hgtBytes(path string) ([]byte, error) {
	if !strings.HasSuffix(strings.ToLower(path), ".zip") {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
		}
		return b, nil
	}

	z, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	defer func() { _ = z.Close() }()

	for _, f := range z.File {
		name := filepath.Base(f.Name)
		if strings.HasPrefix(name, ".") || !strings.HasSuffix(strings.ToLower(name), ".hgt") {
			continue
		}
		r, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
		}
		b, err := io.ReadAll(r)
		_ = r.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
		}
		return b, nil
	}
	return nil, fmt.Errorf("%w: no .hgt entry in %s", ErrSourceUnavailable, path)
}
