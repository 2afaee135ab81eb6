// Package analysis calls the external ML service for face, audio and object
// analysis. Every failure mode (not configured, breaker open, timeout,
// transport, bad status, bad body) yields a degraded Result rather than an
// error.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zaqqye/proctoring_backend/internal/clock"
	"github.com/zaqqye/proctoring_backend/internal/logging"
	"github.com/zaqqye/proctoring_backend/internal/traces"
)

// Kind names an ML endpoint.
type Kind string

const (
	KindFace   Kind = "face"
	KindAudio  Kind = "audio"
	KindObject Kind = "object"
)

func (k Kind) field() string {
	if k == KindAudio {
		return "audio"
	}
	return "image"
}

var analysesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "proctoring",
	Subsystem: "ml",
	Name:      "analyses_total",
	Help:      "ML analysis calls by kind and outcome.",
}, []string{"kind", "outcome"}) // "ok", "degraded", "breaker_open", "disabled"

func init() {
	prometheus.MustRegister(analysesTotal)
}

// Violation is one detection reported by the ML service.
type Violation struct {
	Type        string  `json:"type"`
	Confidence  float64 `json:"confidence"`
	Description string  `json:"description"`
}

// Result mirrors the ML service response plus the degraded flag.
type Result struct {
	Success        bool           `json:"success"`
	SessionID      string         `json:"session_id,omitempty"`
	Timestamp      string         `json:"timestamp,omitempty"`
	AnalysisType   string         `json:"analysis_type"`
	Results        map[string]any `json:"results"`
	Violations     []Violation    `json:"violations"`
	ViolationCount int            `json:"violation_count"`
	Degraded       bool           `json:"degraded"`
	DegradedReason string         `json:"degraded_reason,omitempty"`
}

// FaceCount reads results.face_count when present.
func (r *Result) FaceCount() *int {
	if r == nil || r.Results == nil {
		return nil
	}
	switch v := r.Results["face_count"].(type) {
	case float64:
		n := int(v)
		return &n
	case int:
		return &v
	}
	return nil
}

// Degraded builds the "analysis unavailable" result.
func Degraded(kind Kind, sessionID, reason string) *Result {
	return &Result{
		Success:        false,
		SessionID:      sessionID,
		AnalysisType:   string(kind),
		Results:        map[string]any{"status": "unavailable"},
		Violations:     []Violation{},
		Degraded:       true,
		DegradedReason: reason,
	}
}

// Request is one payload to analyze.
type Request struct {
	SessionID  string
	Timestamp  time.Time
	DurationMS int64
	Data       []byte
	MimeType   string
}

// Analyzer is what controllers depend on.
type Analyzer interface {
	Analyze(ctx context.Context, kind Kind, req Request) *Result
}

// Client talks to ML_SERVICE_URL.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	breaker *Breaker
	clock   clock.Clock
	logger  *slog.Logger
}

// NewClient returns a client bounded by timeout per call. An empty baseURL
// makes every call degraded.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		timeout: timeout,
		breaker: NewBreaker(5, 30*time.Second, nil),
		clock:   clock.Real{},
		logger:  logger,
	}
}

func (c *Client) WithBreaker(b *Breaker) *Client {
	c.breaker = b
	return c
}

func (c *Client) WithClock(clk clock.Clock) *Client {
	c.clock = clk
	return c
}

func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

// Enabled reports whether an ML service is configured.
func (c *Client) Enabled() bool { return c.baseURL != "" }

// Analyze posts req to /api/analyze/{kind}.
func (c *Client) Analyze(ctx context.Context, kind Kind, req Request) *Result {
	ctx, span := traces.StartSpan(ctx, "analysis.Analyze", traces.SessionID(req.SessionID))
	defer span.End()

	if !c.Enabled() {
		analysesTotal.WithLabelValues(string(kind), "disabled").Inc()
		return Degraded(kind, req.SessionID, "ml service not configured")
	}
	key := string(kind)
	if !c.breaker.Allow(key) {
		analysesTotal.WithLabelValues(key, "breaker_open").Inc()
		return Degraded(kind, req.SessionID, "ml service temporarily unavailable")
	}

	res, err := c.call(ctx, kind, req)
	if err != nil {
		c.breaker.RecordFailure(key)
		analysesTotal.WithLabelValues(key, "degraded").Inc()
		logging.L(ctx).Warn("ml analysis unavailable", "kind", key, "session_id", req.SessionID, "error", err)
		return Degraded(kind, req.SessionID, "analysis unavailable")
	}
	c.breaker.RecordSuccess(key)
	analysesTotal.WithLabelValues(key, "ok").Inc()
	return res
}

func (c *Client) call(ctx context.Context, kind Kind, req Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ts := req.Timestamp
	if ts.IsZero() {
		ts = c.clock.Now()
	}
	q := url.Values{}
	q.Set("session_id", req.SessionID)
	q.Set("timestamp", ts.UTC().Format(time.RFC3339))
	q.Set("analysis_type", string(kind))
	if kind == KindAudio {
		q.Set("duration_ms", strconv.FormatInt(req.DurationMS, 10))
	}
	endpoint := fmt.Sprintf("%s/api/analyze/%s?%s", c.baseURL, kind, q.Encode())

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(kind.field(), filename(kind, req.MimeType))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(req.Data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	if id := logging.CorrelationID(ctx); id != "" {
		httpReq.Header.Set("X-Request-ID", id)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("ml service returned %d", resp.StatusCode)
	}

	var out Result
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode ml response: %w", err)
	}
	if !out.Success {
		return nil, fmt.Errorf("ml service reported failure")
	}
	if out.Violations == nil {
		out.Violations = []Violation{}
	}
	out.ViolationCount = len(out.Violations)
	out.Degraded = false
	return &out, nil
}

// Health asks the ML service for its status, bounded by the client timeout.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ml service not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ml health returned %d", resp.StatusCode)
	}
	var out map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func filename(kind Kind, mime string) string {
	ext := map[string]string{
		"image/jpeg": ".jpg",
		"image/png":  ".png",
		"audio/webm": ".webm",
		"audio/wav":  ".wav",
		"audio/ogg":  ".ogg",
		"audio/mpeg": ".mp3",
		"audio/mp4":  ".m4a",
	}[mime]
	if ext == "" {
		ext = ".bin"
	}
	return string(kind) + ext
}
