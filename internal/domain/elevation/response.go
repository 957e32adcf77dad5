package elevation

import (
	"encoding/json"
	"fmt"

	"github.com/okian/elevation/internal/domain/sampling"
)

// PointEntry is one source's slot in a multi response. Elevation is null
// when the source has no height there or failed.
type PointEntry struct {
	Dataset   *string  `json:"dataset"`
	Elevation *float64 `json:"elevation"`
	Error     string   `json:"error,omitempty"`
}

// PointResponse renders as {"elevation": h} or {"elevation_list": [...]}.
type PointResponse struct {
	Multi     bool
	Elevation float64
	List      []PointEntry
}

// MarshalJSON picks the shape from Multi.
func (r PointResponse) MarshalJSON() ([]byte, error) {
	if r.Multi {
		return json.Marshal(struct {
			List []PointEntry `json:"elevation_list"`
		}{List: nonNil(r.List)})
	}
	return json.Marshal(struct {
		Elevation float64 `json:"elevation"`
	}{Elevation: r.Elevation})
}

// ProfileEntry is one source's slot in a multi profile response.
type ProfileEntry struct {
	Dataset    *string    `json:"dataset"`
	Elevations []*float64 `json:"elevations"`
	Error      string     `json:"error,omitempty"`
}

// ProfileResponse renders as {"elevations": [...]} or {"elevations_list": [...]}.
type ProfileResponse struct {
	Multi      bool
	Elevations []float64
	List       []ProfileEntry
}

// MarshalJSON picks the shape from Multi.
func (r ProfileResponse) MarshalJSON() ([]byte, error) {
	if r.Multi {
		return json.Marshal(struct {
			List []ProfileEntry `json:"elevations_list"`
		}{List: nonNil(r.List)})
	}
	return json.Marshal(struct {
		Elevations []float64 `json:"elevations"`
	}{Elevations: nonNil(r.Elevations)})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func datasetName(name string) *string {
	if name == "" {
		return nil
	}
	return &name
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func allFailed[T any](results []T, errOf func(T) error, nameOf func(T) string) error {
	for _, r := range results {
		if errOf(r) == nil {
			return nil
		}
	}
	first := results[0]
	return fmt.Errorf("%w: %s: %w", ErrAllSourcesFailed, nameOr(nameOf(first)), errOf(first))
}

func nameOr(name string) string {
	if name == "" {
		return "elevation_dataset"
	}
	return name
}

func shapePoint(mode Mode, results []PointResult) (PointResponse, error) {
	if err := allFailed(results,
		func(r PointResult) error { return r.Err },
		func(r PointResult) string { return r.Dataset },
	); err != nil {
		return PointResponse{}, err
	}

	if mode == ModeMulti {
		list := make([]PointEntry, len(results))
		for i, r := range results {
			list[i] = PointEntry{Dataset: datasetName(r.Dataset), Elevation: r.Value.Ptr(), Error: errorText(r.Err)}
		}
		return PointResponse{Multi: true, List: list}, nil
	}

	// First strictly positive height wins; otherwise the first source that answered.
	var chosen *PointResult
	for i := range results {
		r := &results[i]
		if r.Err != nil {
			continue
		}
		if r.Value.Valid && r.Value.Meters > 0 {
			chosen = r
			break
		}
		if chosen == nil {
			chosen = r
		}
	}
	return PointResponse{Elevation: chosen.Value.OrZero()}, nil
}

func shapeProfile(mode Mode, results []ProfileResult) (ProfileResponse, error) {
	if err := allFailed(results,
		func(r ProfileResult) error { return r.Err },
		func(r ProfileResult) string { return r.Dataset },
	); err != nil {
		return ProfileResponse{}, err
	}

	if mode == ModeMulti {
		list := make([]ProfileEntry, len(results))
		for i, r := range results {
			e := ProfileEntry{Dataset: datasetName(r.Dataset), Elevations: []*float64{}, Error: errorText(r.Err)}
			for _, v := range r.Values {
				e.Elevations = append(e.Elevations, v.Ptr())
			}
			list[i] = e
		}
		return ProfileResponse{Multi: true, List: list}, nil
	}

	var chosen *ProfileResult
	for i := range results {
		r := &results[i]
		if r.Err != nil {
			continue
		}
		if anyPositive(r.Values) {
			chosen = r
			break
		}
		if chosen == nil {
			chosen = r
		}
	}
	out := make([]float64, len(chosen.Values))
	for i, v := range chosen.Values {
		out[i] = v.OrZero()
	}
	return ProfileResponse{Elevations: out}, nil
}

func anyPositive(vs []sampling.Value) bool {
	for _, v := range vs {
		if v.Valid && v.Meters > 0 {
			return true
		}
	}
	return false
}
