// Package remote queries externally hosted elevation APIs over HTTP.
//
// The bare URL forms follow the swisstopo REST height and profile services;
// any other API can be reached with a text/template URL.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/tidwall/gjson"

	"github.com/okian/elevation/internal/domain/geom"
	"github.com/okian/elevation/internal/domain/projection"
	"github.com/okian/elevation/internal/domain/sampling"
	"github.com/okian/elevation/pkg/logger"
	"github.com/okian/elevation/pkg/metrics"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultProfileField = "alts.COMB"
	maxErrorBody        = 512
	maxResponseBody     = 8 << 20
)

var firstNumber = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// URLData is what point and profile URL templates can reference.
type URLData struct {
	X, Y    float64
	EPSG    int
	Geom    string // GeoJSON LineString, for profiles
	Samples int
}

// endpoint is either a template or a bare base URL.
type endpoint struct {
	raw  string
	tmpl *template.Template
}

func parseEndpoint(name, raw string) (*endpoint, error) {
	if raw == "" {
		return nil, nil
	}
	e := &endpoint{raw: raw}
	if strings.Contains(raw, "{{") {
		t, err := template.New(name).Funcs(template.FuncMap{"query": url.QueryEscape}).Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
		}
		e.tmpl = t
		return e, nil
	}
	if _, err := url.Parse(raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	return e, nil
}

// render builds the request URL, appending params to a bare base URL.
func (e *endpoint) render(data URLData, params url.Values) (string, error) {
	if e.tmpl != nil {
		var b bytes.Buffer
		if err := e.tmpl.Execute(&b, data); err != nil {
			return "", fmt.Errorf("%w: %w", ErrInvalidURL, err)
		}
		return b.String(), nil
	}
	sep := "?"
	if strings.Contains(e.raw, "?") {
		sep = "&"
	}
	return e.raw + sep + params.Encode(), nil
}

// Client talks to one remote elevation API.
type Client struct {
	point        *endpoint
	profile      *endpoint
	profileField string
	timeout      time.Duration
	http         *http.Client
	logger       logger.Logger
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	profileURL   string
	profileField string
	timeout      time.Duration
	httpClient   *http.Client
	logger       logger.Logger
}

// WithProfileURL sets the profile endpoint (template or bare base URL).
func WithProfileURL(u string) Option {
	return func(o *clientOptions) { o.profileURL = u }
}

// WithProfileField sets the dotted path of the height inside each profile element.
func WithProfileField(path string) Option {
	return func(o *clientOptions) {
		if path != "" {
			o.profileField = path
		}
	}
}

// WithTimeout bounds every request.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l logger.Logger) Option {
	return func(o *clientOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewClient returns a client for the point endpoint pointURL.
func NewClient(pointURL string, opts ...Option) (*Client, error) {
	o := clientOptions{
		profileField: defaultProfileField,
		timeout:      defaultTimeout,
		httpClient:   http.DefaultClient,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if pointURL == "" {
		return nil, fmt.Errorf("%w: empty point URL", ErrInvalidURL)
	}

	point, err := parseEndpoint("point", pointURL)
	if err != nil {
		return nil, err
	}
	profile, err := parseEndpoint("profile", o.profileURL)
	if err != nil {
		return nil, err
	}
	if o.logger == nil {
		o.logger = logger.Get().Named("remote")
	}

	return &Client{
		point:        point,
		profile:      profile,
		profileField: o.profileField,
		timeout:      o.timeout,
		http:         o.httpClient,
		logger:       o.logger,
	}, nil
}

// SupportsProfile reports whether a profile endpoint is configured.
func (c *Client) SupportsProfile() bool { return c.profile != nil }

// QueryHeight asks the API for the height at p, given in crs. The first
// decimal number in the body is the answer.
func (c *Client) QueryHeight(ctx context.Context, p geom.Point, crs projection.Code) (float64, error) {
	data := URLData{X: p.X, Y: p.Y, EPSG: int(crs)}
	u, err := c.point.render(data, url.Values{
		"easting":  {formatFloat(p.X)},
		"northing": {formatFloat(p.Y)},
		"sr":       {strconv.Itoa(int(crs))},
	})
	if err != nil {
		return 0, err
	}

	body, err := c.get(ctx, "height", u)
	if err != nil {
		return 0, err
	}

	m := firstNumber.Find(body)
	if m == nil {
		metrics.RecordRemoteRequest("height", metrics.OutcomeError)
		return 0, fmt.Errorf("%w: no number in %q", ErrRemoteResponseMalformed, truncate(body))
	}
	h, err := strconv.ParseFloat(string(m), 64)
	if err != nil {
		metrics.RecordRemoteRequest("height", metrics.OutcomeError)
		return 0, fmt.Errorf("%w: %w", ErrRemoteResponseMalformed, err)
	}
	metrics.RecordRemoteRequest("height", metrics.OutcomeOK)
	return h, nil
}

// QueryProfile asks the API for a height profile along vertices. The body
// must be a JSON array; each element's profile field is one height, and a
// null field is no elevation.
func (c *Client) QueryProfile(ctx context.Context, vertices []geom.Point, crs projection.Code, samples int) ([]sampling.Value, error) {
	if c.profile == nil {
		return nil, ErrProfileUnsupported
	}

	geomJSON, err := lineString(vertices)
	if err != nil {
		return nil, err
	}
	data := URLData{EPSG: int(crs), Geom: geomJSON, Samples: samples}
	if len(vertices) > 0 {
		data.X, data.Y = vertices[0].X, vertices[0].Y
	}
	u, err := c.profile.render(data, url.Values{
		"geom":      {geomJSON},
		"sr":        {strconv.Itoa(int(crs))},
		"nb_points": {strconv.Itoa(samples)},
	})
	if err != nil {
		return nil, err
	}

	body, err := c.get(ctx, "profile", u)
	if err != nil {
		return nil, err
	}

	values, err := c.decodeProfile(body)
	if err != nil {
		metrics.RecordRemoteRequest("profile", metrics.OutcomeError)
		return nil, err
	}
	metrics.RecordRemoteRequest("profile", metrics.OutcomeOK)
	return values, nil
}

// decodeProfile reads one height per array element at the profile field,
// a gjson path such as "alts.COMB" or "alts.0".
func (c *Client) decodeProfile(body []byte) ([]sampling.Value, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: invalid JSON: %q", ErrRemoteResponseMalformed, truncate(body))
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsArray() {
		return nil, fmt.Errorf("%w: profile is not an array", ErrRemoteResponseMalformed)
	}
	points := doc.Array()
	out := make([]sampling.Value, len(points))
	for i, p := range points {
		v := p.Get(c.profileField)
		switch {
		case !v.Exists():
			return nil, fmt.Errorf("%w: element %d has no %s", ErrRemoteResponseMalformed, i, c.profileField)
		case v.Type == gjson.Null:
			out[i] = sampling.NoElevation
		case v.Type == gjson.Number:
			out[i] = sampling.Of(v.Float())
		case v.Type == gjson.String:
			f, err := strconv.ParseFloat(v.Str, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: element %d: %w", ErrRemoteResponseMalformed, i, err)
			}
			out[i] = sampling.Of(f)
		default:
			return nil, fmt.Errorf("%w: element %d is %s", ErrRemoteResponseMalformed, i, v.Type)
		}
	}
	return out, nil
}

// get performs one bounded GET and returns the body of a 2xx response.
func (c *Client) get(ctx context.Context, op, u string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordRemoteRequest(op, metrics.OutcomeError)
		metrics.RecordErrorByComponent("remote", "transport")
		return nil, fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		metrics.RecordRemoteRequest(op, metrics.OutcomeError)
		return nil, fmt.Errorf("%w: reading body: %w", ErrRemoteUnavailable, err)
	}

	c.logger.Debug(ctx, "remote request",
		logger.String("op", op),
		logger.Int("status", resp.StatusCode),
		logger.Duration("took", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.RecordRemoteRequest(op, metrics.OutcomeError)
		metrics.RecordErrorByComponent("remote", "rejected")
		return nil, fmt.Errorf("%w: %s: %s", ErrRemoteRejected, resp.Status, truncate(body))
	}
	return body, nil
}

func lineString(vertices []geom.Point) (string, error) {
	coords := make([][2]float64, len(vertices))
	for i, v := range vertices {
		coords[i] = [2]float64{v.X, v.Y}
	}
	b, err := json.Marshal(struct {
		Type        string       `json:"type"`
		Coordinates [][2]float64 `json:"coordinates"`
	}{Type: "LineString", Coordinates: coords})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	return string(b), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func truncate(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}
