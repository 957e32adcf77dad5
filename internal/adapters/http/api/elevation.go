package api

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/okian/elevation/internal/domain/elevation"
	"github.com/okian/elevation/internal/domain/geom"
	"github.com/okian/elevation/internal/domain/projection"
	"github.com/okian/elevation/pkg/logger"
)

// ElevationHandler handles point elevation requests.
type ElevationHandler struct {
	deps   Dependencies
	logger logger.Logger
}

// NewElevationHandler creates a new elevation handler.
func NewElevationHandler(deps Dependencies, l logger.Logger) *ElevationHandler {
	return &ElevationHandler{deps: deps, logger: l}
}

// HandleGetElevation handles GET /getelevation?pos=x,y&crs=epsg:n requests.
func (h *ElevationHandler) HandleGetElevation(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_elevation"
	ctx := r.Context()
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(ctx, w, h.logger, NewKind(op, ErrMethodNotAllowed))
		return
	}

	q, err := parsePointQuery(r.URL.Query())
	if err != nil {
		writeError(ctx, w, h.logger, WrapKind(op, ErrBadRequest, err))
		return
	}

	resp, err := h.deps.Point(ctx, Tenant(ctx), q)
	if err != nil {
		writeError(ctx, w, h.logger, Wrap(op, err))
		return
	}
	respond(ctx, w, h.logger, resp)
}

func parsePointQuery(v url.Values) (elevation.PointQuery, error) {
	pos, err := parsePosition(v.Get("pos"))
	if err != nil {
		return elevation.PointQuery{}, err
	}
	crs, err := parseCRS(v.Get("crs"))
	if err != nil {
		return elevation.PointQuery{}, err
	}
	return elevation.PointQuery{Position: pos, CRS: crs}, nil
}

// parsePosition reads "x,y". Components past the second are ignored.
func parsePosition(s string) (geom.Point, error) {
	parts := strings.Split(s, ",")
	if len(parts) < 2 {
		return geom.Point{}, ErrInvalidPosition
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return geom.Point{}, ErrInvalidPosition
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return geom.Point{}, ErrInvalidPosition
	}
	return geom.Point{X: x, Y: y}, nil
}

func parseCRS(s string) (projection.Code, error) {
	code, err := projection.ParseCRS(s)
	if err != nil {
		return 0, ErrInvalidCRS
	}
	return code, nil
}
