// Package projection resolves EPSG coordinate reference systems and converts
// positions between them, using WGS84 geographic coordinates as the pivot.
package projection

import (
	"fmt"
	"regexp"
	"strconv"
)

// Code is a numeric EPSG identifier.
type Code int

// Well-known codes.
const (
	WGS84       Code = 4326
	WebMercator Code = 3857
	LV03        Code = 21781
	LV95        Code = 2056
)

var crsPattern = regexp.MustCompile(`(?i)^epsg:(\d+)`)

// String renders the code the way clients send it.
func (c Code) String() string {
	return "EPSG:" + strconv.Itoa(int(c))
}

// ParseCRS extracts the EPSG code from an identifier of the form epsg:<digits>.
// Matching is case-insensitive and anchored at the start only.
func ParseCRS(s string) (Code, error) {
	m := crsPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidProjection, s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidProjection, s)
	}
	return Code(n), nil
}
