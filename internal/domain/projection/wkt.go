package projection

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	authorityPattern = regexp.MustCompile(`(?i)AUTHORITY\[\s*"EPSG"\s*,\s*"?(\d+)"?\s*\]`)
	idPattern        = regexp.MustCompile(`(?i)\bID\[\s*"EPSG"\s*,\s*(\d+)\s*\]`)
	projcsPattern    = regexp.MustCompile(`(?i)^\s*(PROJCS|GEOGCS|PROJCRS|GEOGCRS)\[\s*"([^"]+)"`)
)

// esriName maps PROJCS/GEOGCS names written by ESRI tools, which carry no
// AUTHORITY node, onto EPSG codes.
func esriName(name string) (Code, bool) {
	switch strings.ToLower(name) {
	case "ch1903_lv03", "ch1903 / lv03":
		return LV03, true
	case "ch1903+_lv95", "ch1903+ / lv95":
		return LV95, true
	case "gcs_wgs_1984", "wgs 84":
		return WGS84, true
	case "wgs_1984_web_mercator_auxiliary_sphere", "wgs 84 / pseudo-mercator":
		return WebMercator, true
	}
	return 0, false
}

// ParseWKT resolves the EPSG code of a projection description. It accepts a
// bare identifier (epsg:2056), WKT1 with AUTHORITY nodes, WKT2 with ID nodes,
// or a PROJCS name known from ESRI .prj files. For WKT the outermost
// authority, which is written last, wins.
func ParseWKT(s string) (Code, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty projection", ErrInvalidProjection)
	}
	if code, err := ParseCRS(s); err == nil {
		return code, nil
	}

	if m := authorityPattern.FindAllStringSubmatch(s, -1); len(m) > 0 {
		return atoiCode(m[len(m)-1][1], s)
	}
	if m := idPattern.FindAllStringSubmatch(s, -1); len(m) > 0 {
		return atoiCode(m[len(m)-1][1], s)
	}
	if m := projcsPattern.FindStringSubmatch(s); m != nil {
		if code, ok := esriName(m[2]); ok {
			return code, nil
		}
		return 0, fmt.Errorf("%w: unknown coordinate system %q", ErrUnsupportedProjection, m[2])
	}
	return 0, fmt.Errorf("%w: unreadable projection", ErrInvalidProjection)
}

func atoiCode(digits, src string) (Code, error) {
	n, err := strconv.Atoi(digits)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: bad authority in %q", ErrInvalidProjection, src)
	}
	return Code(n), nil
}
