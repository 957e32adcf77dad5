package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/okian/elevation/internal/domain/elevation"
	"github.com/okian/elevation/internal/domain/geom"
	"github.com/okian/elevation/internal/domain/sampling"
	"github.com/okian/elevation/pkg/logger"
)

const (
	maxProfileBody = 4 << 20
	maxSamples     = 100_000
)

// ProfileHandler handles height profile requests.
type ProfileHandler struct {
	deps   Dependencies
	logger logger.Logger
}

// NewProfileHandler creates a new profile handler.
func NewProfileHandler(deps Dependencies, l logger.Logger) *ProfileHandler {
	return &ProfileHandler{deps: deps, logger: l}
}

// profileRequest mirrors the OpenAPI schema for POST /getheightprofile.
// Every field is required; pointers tell a missing key from a zero value.
type profileRequest struct {
	Coordinates *[][]float64    `json:"coordinates"`
	Distances   *[]float64      `json:"distances"`
	Projection  *string         `json:"projection"`
	Samples     json.RawMessage `json:"samples"`
}

// HandleGetHeightProfile handles POST /getheightprofile requests.
func (h *ProfileHandler) HandleGetHeightProfile(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_height_profile"
	ctx := r.Context()
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(ctx, w, h.logger, NewKind(op, ErrMethodNotAllowed))
		return
	}

	var req profileRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxProfileBody)).Decode(&req); err != nil {
		writeError(ctx, w, h.logger, WrapKind(op, ErrBadRequest, errors.Join(ErrBadQuery, err)))
		return
	}

	q, err := req.query()
	if err != nil {
		writeError(ctx, w, h.logger, WrapKind(op, ErrBadRequest, err))
		return
	}

	resp, err := h.deps.Profile(ctx, Tenant(ctx), q)
	if err != nil {
		writeError(ctx, w, h.logger, Wrap(op, err))
		return
	}
	respond(ctx, w, h.logger, resp)
}

// query checks the request in the order the historical service did and
// converts it to a domain query.
func (p profileRequest) query() (elevation.ProfileQuery, error) {
	if p.Coordinates == nil || p.Distances == nil || p.Projection == nil || len(p.Samples) == 0 {
		return elevation.ProfileQuery{}, ErrBadQuery
	}

	coords := *p.Coordinates
	if len(coords) < 2 {
		return elevation.ProfileQuery{}, sampling.ErrInsufficientCoordinates
	}
	vertices := make([]geom.Point, len(coords))
	for i, c := range coords {
		if len(c) < 2 {
			return elevation.ProfileQuery{}, ErrBadQuery
		}
		vertices[i] = geom.Point{X: c[0], Y: c[1]}
	}

	if len(*p.Distances) != len(coords)-1 {
		return elevation.ProfileQuery{}, sampling.ErrInvalidDistances
	}

	crs, err := parseCRS(*p.Projection)
	if err != nil {
		return elevation.ProfileQuery{}, err
	}

	samples, err := parseSamples(p.Samples)
	if err != nil {
		return elevation.ProfileQuery{}, err
	}

	return elevation.ProfileQuery{
		Vertices:  vertices,
		Distances: *p.Distances,
		CRS:       crs,
		Samples:   samples,
	}, nil
}

// parseSamples accepts a JSON number, truncated toward zero, or a string
// holding an integer. Counts above maxSamples are rejected.
func parseSamples(raw json.RawMessage) (int, error) {
	n, err := decodeSamples(bytes.TrimSpace(raw))
	if err != nil || n > maxSamples {
		return 0, ErrInvalidSamples
	}
	return n, nil
}

func decodeSamples(raw json.RawMessage) (int, error) {
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, ErrInvalidSamples
		}
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return 0, ErrInvalidSamples
		}
		return n, nil
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err != nil || math.Abs(f) > math.MaxInt32 {
		return 0, ErrInvalidSamples
	}
	return int(f), nil
}
