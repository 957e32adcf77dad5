package raster

import (
	"bufio"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/google/tiff"
	"golang.org/x/image/tiff/lzw"

	"github.com/okian/elevation/internal/domain/geom"
	"github.com/okian/elevation/internal/domain/projection"
)

// Baseline and GeoTIFF tag numbers read by the driver.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagPredictor       = 317
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagSampleFormat    = 339
	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
	tagModelTransform  = 34264
	tagGeoKeyDirectory = 34735
	tagGDALNoData      = 42113
)

// TIFF field types.
const (
	typeByte      = 1
	typeASCII     = 2
	typeShort     = 3
	typeLong      = 4
	typeUndefined = 7
	typeFloat     = 11
	typeDouble    = 12
)

const (
	compressionNone     = 1
	compressionLZW      = 5
	compressionDeflate  = 8
	compressionDeflateP = 32946

	predictorHorizontal = 2
	predictorFloat      = 3

	formatUint  = 1
	formatInt   = 2
	formatFloat = 3

	planarSeparate = 2
)

// GeoTIFF keys and values.
const (
	keyModelType      = 1024
	keyRasterType     = 1025
	keyGeographicType = 2048
	keyProjectedType  = 3072
	keyVerticalUnits  = 4099

	modelGeographic    = 2
	rasterPixelIsPoint = 2
	userDefined        = 32767
	unitFoot           = 9002
	unitUSSurveyFoot   = 9003
)

// readTIFF decodes the first band of a GeoTIFF. Georeferencing comes from
// the ModelTransformation or ModelPixelScale/ModelTiepoint tags, falling
// back to a world file (.tfw, or .wld). The CRS comes from the GeoKey
// directory and no-data from the GDAL_NODATA tag.
func readTIFF(path string) (decoded, error) {
	f, err := os.Open(path)
	if err != nil {
		return decoded{}, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	defer func() { _ = f.Close() }()

	t, err := tiff.Parse(f, nil, nil)
	if err != nil {
		return decoded{}, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	ifds := t.IFDs()
	if len(ifds) == 0 || !ifds[0].HasField(tagImageWidth) || !ifds[0].HasField(tagImageLength) {
		return decoded{}, fmt.Errorf("%w: %s has no image directory", ErrSourceUnavailable, path)
	}
	r := fields{ifd: ifds[0]}
	keys := r.geoKeys()

	var d decoded
	d.width = int(r.uint(tagImageWidth, 0))
	d.height = int(r.uint(tagImageLength, 0))
	d.gt, d.gtOK = r.geoTransform(keys)
	if !d.gtOK {
		d.gt, d.gtOK = readWorldFile(path)
	}
	d.crs = keys.crs()
	if u := keys[keyVerticalUnits]; u == unitFoot || u == unitUSSurveyFoot {
		d.units = "ft"
	}
	if nd, ok := r.noData(); ok {
		if r.uint(tagSampleFormat, formatUint) == formatFloat && r.uint(tagBitsPerSample, 1) == 32 {
			// Samples are float32; the textual sentinel must round the same way.
			nd = float64(float32(nd))
		}
		d.nodata, d.hasNoData = nd, true
	}
	d.data, d.bandErr = r.band(f, d.width, d.height)
	return d, nil
}

// fields reads typed values out of an image file directory.
type fields struct {
	ifd tiff.IFD
}

func (r fields) order() binary.ByteOrder {
	return r.ifd.GetField(tagImageWidth).Value().Order()
}

func (r fields) uints(tag uint16) []uint64 {
	if !r.ifd.HasField(tag) {
		return nil
	}
	f := r.ifd.GetField(tag)
	v := f.Value()
	b, order := v.Bytes(), v.Order()
	n := int(f.Count())
	out := make([]uint64, 0, n)
	switch f.Type().ID() {
	case typeByte, typeUndefined:
		for i := 0; i < n && i < len(b); i++ {
			out = append(out, uint64(b[i]))
		}
	case typeShort:
		for i := 0; i < n && 2*i+2 <= len(b); i++ {
			out = append(out, uint64(order.Uint16(b[2*i:])))
		}
	case typeLong:
		for i := 0; i < n && 4*i+4 <= len(b); i++ {
			out = append(out, uint64(order.Uint32(b[4*i:])))
		}
	}
	return out
}

func (r fields) uint(tag uint16, def uint64) uint64 {
	if v := r.uints(tag); len(v) > 0 {
		return v[0]
	}
	return def
}

func (r fields) doubles(tag uint16) []float64 {
	if !r.ifd.HasField(tag) {
		return nil
	}
	f := r.ifd.GetField(tag)
	v := f.Value()
	b, order := v.Bytes(), v.Order()
	n := int(f.Count())
	out := make([]float64, 0, n)
	switch f.Type().ID() {
	case typeDouble:
		for i := 0; i < n && 8*i+8 <= len(b); i++ {
			out = append(out, math.Float64frombits(order.Uint64(b[8*i:])))
		}
	case typeFloat:
		for i := 0; i < n && 4*i+4 <= len(b); i++ {
			out = append(out, float64(math.Float32frombits(order.Uint32(b[4*i:]))))
		}
	}
	return out
}

func (r fields) ascii(tag uint16) string {
	if !r.ifd.HasField(tag) {
		return ""
	}
	f := r.ifd.GetField(tag)
	if f.Type().ID() != typeASCII {
		return ""
	}
	return strings.TrimRight(string(f.Value().Bytes()), "\x00")
}

// noData parses GDAL_NODATA, e.g. "-9999", "nan" or "-3.4028234663852886e+38".
func (r fields) noData() (float64, bool) {
	s := strings.TrimSpace(r.ascii(tagGDALNoData))
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// geoKeys holds the GeoKey directory entries stored inline as SHORTs.
type geoKeys map[uint16]uint64

func (r fields) geoKeys() geoKeys {
	v := r.uints(tagGeoKeyDirectory)
	if len(v) < 4 {
		return nil
	}
	keys := geoKeys{}
	for i := range int(v[3]) {
		at := 4 + 4*i
		if at+4 > len(v) {
			break
		}
		if v[at+1] == 0 {
			keys[uint16(v[at])] = v[at+3]
		}
	}
	return keys
}

func (k geoKeys) crs() projection.Code {
	code := k[keyProjectedType]
	if k[keyModelType] == modelGeographic || code == 0 {
		code = k[keyGeographicType]
	}
	if code == 0 || code == userDefined {
		return 0
	}
	return projection.Code(code)
}

func (r fields) geoTransform(keys geoKeys) (geom.Affine, bool) {
	var gt geom.Affine
	if m := r.doubles(tagModelTransform); len(m) >= 8 {
		gt = geom.Affine{m[3], m[0], m[1], m[7], m[4], m[5]}
	} else {
		scale, tie := r.doubles(tagModelPixelScale), r.doubles(tagModelTiepoint)
		if len(scale) < 2 || len(tie) < 6 {
			return geom.Affine{}, false
		}
		gt = geom.Affine{tie[3] - tie[0]*scale[0], scale[0], 0, tie[4] + tie[1]*scale[1], 0, -scale[1]}
	}
	if keys[keyRasterType] == rasterPixelIsPoint {
		gt[0] -= (gt[1] + gt[2]) / 2
		gt[3] -= (gt[4] + gt[5]) / 2
	}
	return gt, true
}

// band decodes the first sample of every pixel, reading strips or tiles.
func (r fields) band(ra io.ReaderAt, width, height int) ([]float64, error) {
	if p := r.uint(tagPhotometric, 1); p > 1 {
		return nil, fmt.Errorf("%w: photometric interpretation %d is not a height band", ErrBandUnavailable, p)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: empty image", ErrBandUnavailable)
	}
	order := r.order()
	bits := int(r.uint(tagBitsPerSample, 1))
	decode, err := sampleDecoder(bits, r.uint(tagSampleFormat, formatUint), order)
	if err != nil {
		return nil, err
	}
	spp := max(int(r.uint(tagSamplesPerPixel, 1)), 1)
	if r.uint(tagPlanarConfig, 1) == planarSeparate {
		// The first plane holds band 1 alone.
		spp = 1
	}
	compression := r.uint(tagCompression, compressionNone)
	predictor := r.uint(tagPredictor, 1)

	tiled := r.ifd.HasField(tagTileOffsets)
	var (
		chunkW, chunkH  int
		offsets, counts []uint64
	)
	if tiled {
		chunkW, chunkH = int(r.uint(tagTileWidth, 0)), int(r.uint(tagTileLength, 0))
		offsets, counts = r.uints(tagTileOffsets), r.uints(tagTileByteCounts)
	} else {
		chunkW, chunkH = width, min(int(r.uint(tagRowsPerStrip, uint64(height))), height)
		offsets, counts = r.uints(tagStripOffsets), r.uints(tagStripByteCounts)
	}
	if chunkW <= 0 || chunkH <= 0 {
		return nil, fmt.Errorf("%w: invalid block size %dx%d", ErrBandUnavailable, chunkW, chunkH)
	}
	across := (width + chunkW - 1) / chunkW
	down := (height + chunkH - 1) / chunkH
	if len(offsets) < across*down || len(counts) < across*down {
		return nil, fmt.Errorf("%w: %d blocks declared, %d needed", ErrBandUnavailable, min(len(offsets), len(counts)), across*down)
	}

	size := bits / 8
	pixel := spp * size
	rowBytes := chunkW * pixel
	data := make([]float64, width*height)
	for i := range across * down {
		x0, y0 := (i%across)*chunkW, (i/across)*chunkH
		rows := chunkH
		if !tiled {
			rows = min(chunkH, height-y0)
		}
		buf, err := readBlock(ra, offsets[i], counts[i], compression)
		if err != nil {
			return nil, err
		}
		if len(buf) < rows*rowBytes {
			return nil, fmt.Errorf("%w: block %d holds %d bytes, want %d", ErrBandUnavailable, i, len(buf), rows*rowBytes)
		}
		for y := range rows {
			row := buf[y*rowBytes : (y+1)*rowBytes]
			switch predictor {
			case predictorHorizontal:
				undoHorizontal(row, spp, size, order)
			case predictorFloat:
				undoFloat(row, spp, size, order)
			}
			if y0+y >= height {
				break
			}
			for x := range chunkW {
				if x0+x >= width {
					break
				}
				data[(y0+y)*width+x0+x] = decode(row[x*pixel:])
			}
		}
	}
	return data, nil
}

func readBlock(ra io.ReaderAt, off, n, compression uint64) ([]byte, error) {
	sec := io.NewSectionReader(ra, int64(off), int64(n))
	var (
		b   []byte
		err error
	)
	switch compression {
	case compressionNone:
		b = make([]byte, n)
		_, err = io.ReadFull(sec, b)
	case compressionLZW:
		rc := lzw.NewReader(sec, lzw.MSB, 8)
		b, err = io.ReadAll(rc)
		_ = rc.Close()
	case compressionDeflate, compressionDeflateP:
		var zr io.ReadCloser
		if zr, err = zlib.NewReader(sec); err == nil {
			b, err = io.ReadAll(zr)
			_ = zr.Close()
		}
	default:
		return nil, fmt.Errorf("%w: compression %d is not supported", ErrBandUnavailable, compression)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBandUnavailable, err)
	}
	return b, nil
}

func sampleDecoder(bits int, format uint64, order binary.ByteOrder) (func([]byte) float64, error) {
	switch {
	case format == formatFloat && bits == 32:
		return func(b []byte) float64 { return float64(math.Float32frombits(order.Uint32(b))) }, nil
	case format == formatFloat && bits == 64:
		return func(b []byte) float64 { return math.Float64frombits(order.Uint64(b)) }, nil
	case format == formatInt && bits == 8:
		return func(b []byte) float64 { return float64(int8(b[0])) }, nil
	case format == formatInt && bits == 16:
		return func(b []byte) float64 { return float64(int16(order.Uint16(b))) }, nil
	case format == formatInt && bits == 32:
		return func(b []byte) float64 { return float64(int32(order.Uint32(b))) }, nil
	case format != formatFloat && format != formatInt && bits == 8:
		return func(b []byte) float64 { return float64(b[0]) }, nil
	case format != formatFloat && format != formatInt && bits == 16:
		return func(b []byte) float64 { return float64(order.Uint16(b)) }, nil
	case format != formatFloat && format != formatInt && bits == 32:
		return func(b []byte) float64 { return float64(order.Uint32(b)) }, nil
	}
	return nil, fmt.Errorf("%w: %d bit samples of format %d are not supported", ErrBandUnavailable, bits, format)
}

// undoHorizontal reverses predictor 2: every sample is stored as the
// difference to the same sample of the previous pixel.
func undoHorizontal(row []byte, spp, size int, order binary.ByteOrder) {
	n := len(row) / size
	switch size {
	case 1:
		for i := spp; i < n; i++ {
			row[i] += row[i-spp]
		}
	case 2:
		for i := spp; i < n; i++ {
			order.PutUint16(row[2*i:], order.Uint16(row[2*i:])+order.Uint16(row[2*(i-spp):]))
		}
	case 4:
		for i := spp; i < n; i++ {
			order.PutUint32(row[4*i:], order.Uint32(row[4*i:])+order.Uint32(row[4*(i-spp):]))
		}
	case 8:
		for i := spp; i < n; i++ {
			order.PutUint64(row[8*i:], order.Uint64(row[8*i:])+order.Uint64(row[8*(i-spp):]))
		}
	}
}

// undoFloat reverses predictor 3: bytes are differenced, then split into
// planes holding the most significant byte of every sample first.
func undoFloat(row []byte, spp, size int, order binary.ByteOrder) {
	for i := spp; i < len(row); i++ {
		row[i] += row[i-spp]
	}
	n := len(row) / size
	planes := make([]byte, len(row))
	copy(planes, row)
	for i := range n {
		for b := range size {
			src := planes[b*n+i]
			if order == binary.LittleEndian {
				row[size*i+size-1-b] = src
			} else {
				row[size*i+b] = src
			}
		}
	}
}

// readWorldFile parses the six world-file lines (A, D, B, E, C, F). C and F
// locate the center of the top-left pixel; the geotransform wants its corner.
func readWorldFile(path string) (geom.Affine, bool) {
	for _, ext := range []string{".tfw", ".wld"} {
		f, err := os.Open(sidecar(path, ext))
		if err != nil {
			continue
		}
		var v []float64
		sc := bufio.NewScanner(f)
		for sc.Scan() && len(v) < 6 {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			n, err := strconv.ParseFloat(line, 64)
			if err != nil {
				break
			}
			v = append(v, n)
		}
		_ = f.Close()
		if len(v) != 6 {
			return geom.Affine{}, false
		}
		a, dd, b, e, c, ff := v[0], v[1], v[2], v[3], v[4], v[5]
		return geom.Affine{c - a/2 - b/2, a, b, ff - dd/2 - e/2, dd, e}, true
	}
	return geom.Affine{}, false
}
