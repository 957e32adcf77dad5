package raster

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/okian/elevation/internal/domain/geom"
)

// readASCII decodes an ESRI ASCII grid. Besides the standard header keys
// it accepts "units <name>" to declare the vertical unit.
func readASCII(path string) (decoded, error) {
	f, err := os.Open(path)
	if err != nil {
		return decoded{}, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	sc.Split(bufio.ScanWords)

	header := map[string]string{}
	var first string
	for sc.Scan() {
		tok := sc.Text()
		if _, err := strconv.ParseFloat(tok, 64); err == nil {
			first = tok
			break
		}
		if !sc.Scan() {
			break
		}
		header[strings.ToLower(tok)] = sc.Text()
	}
	if err := sc.Err(); err != nil {
		return decoded{}, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	var d decoded
	d.width, _ = strconv.Atoi(header["ncols"])
	d.height, _ = strconv.Atoi(header["nrows"])
	d.units = header["units"]
	d.gt, d.gtOK = asciiTransform(header, d.height)

	if v, ok := header["nodata_value"]; ok {
		if nd, err := strconv.ParseFloat(v, 64); err == nil {
			d.nodata, d.hasNoData = nd, true
		}
	}

	if d.width <= 0 || d.height <= 0 {
		d.bandErr = fmt.Errorf("%w: bad grid size %dx%d", ErrBandUnavailable, d.width, d.height)
		return d, nil
	}

	d.data = make([]float64, 0, d.width*d.height)
	tok := first
	for tok != "" && len(d.data) < d.width*d.height {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			d.bandErr = fmt.Errorf("%w: bad sample %q", ErrBandUnavailable, tok)
			return d, nil
		}
		d.data = append(d.data, v)
		tok = ""
		if sc.Scan() {
			tok = sc.Text()
		}
	}
	return d, nil
}

// asciiTransform builds the geotransform from xll/yll (corner or center)
// and cellsize. dx/dy may replace cellsize for non-square cells.
func asciiTransform(h map[string]string, rows int) (geom.Affine, bool) {
	num := func(key string) (float64, bool) {
		v, ok := h[key]
		if !ok {
			return 0, false
		}
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}

	dx, okX := num("cellsize")
	dy := dx
	okY := okX
	if !okX {
		dx, okX = num("dx")
		dy, okY = num("dy")
	}
	if !okX || !okY || rows <= 0 {
		return geom.Affine{}, false
	}

	x, okX := num("xllcorner")
	if !okX {
		if c, ok := num("xllcenter"); ok {
			x, okX = c-dx/2, true
		}
	}
	y, okY := num("yllcorner")
	if !okY {
		if c, ok := num("yllcenter"); ok {
			y, okY = c-dy/2, true
		}
	}
	if !okX || !okY {
		return geom.Affine{}, false
	}

	return geom.Affine{x, dx, 0, y + float64(rows)*dy, 0, -dy}, true
}
