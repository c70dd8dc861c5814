// SPDX-License-Identifier: MIT

// Package classify submits recorded clips to the heart-sound classification
// service.
//
// A clip is posted as multipart/form-data to the prediction endpoint. When
// that call fails or returns an error payload, the client retries once
// against the diagnostic endpoint, whose results are flagged as degraded.
//
//	c, err := classify.New("http://localhost:8000")
//	res, err := c.Classify(ctx, wavBytes)
//	if errors.Is(err, classify.ErrClassificationService) { ... }
package classify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	applog "cardio/internal/log"
	"cardio/internal/observe"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultBaseURL      = "http://localhost:8000"
	DefaultPredictPath  = "/predict"
	DefaultFallbackPath = "/predict_dummy"
	DefaultTimeout      = 30 * time.Second

	formField    = "file"
	formFilename = "recording.wav"

	// maxResponseSize bounds the JSON body; two PNG renderings fit easily.
	maxResponseSize = 32 << 20
)

// Result is one classification.
type Result struct {
	Label       Label
	Info        LabelInfo
	Waveform    []byte // PNG
	Spectrogram []byte // PNG
	Degraded    bool   // Served by the diagnostic endpoint.
	Endpoint    string
	Elapsed     time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client with a 30s timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout of the default client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithPaths overrides the endpoint paths. An empty fallback disables the
// retry.
func WithPaths(predict, fallback string) Option {
	return func(c *Client) {
		c.predictPath = predict
		c.fallbackPath = fallback
	}
}

// WithDummy sends every request straight to the diagnostic endpoint.
func WithDummy(dummy bool) Option {
	return func(c *Client) { c.dummy = dummy }
}

// WithMetrics records request counts and latency on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// Client talks to the classification service.
type Client struct {
	baseURL      string
	predictPath  string
	fallbackPath string
	dummy        bool
	httpClient   *http.Client
	metrics      *observe.Metrics
}

// New creates a client for baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("classify: base URL must not be empty")
	}
	c := &Client{
		baseURL:      baseURL,
		predictPath:  DefaultPredictPath,
		fallbackPath: DefaultFallbackPath,
		httpClient:   &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.predictPath == "" {
		return nil, errors.New("classify: predict path must not be empty")
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c, nil
}

// Classify submits one WAV payload. It tries the prediction endpoint, then
// the diagnostic endpoint once. When both fail the error is a *ServiceError
// matching ErrClassificationService.
func (c *Client) Classify(ctx context.Context, wav []byte) (*Result, error) {
	if len(wav) == 0 {
		return nil, fmt.Errorf("%w: empty clip", ErrInvalidUpload)
	}

	if c.dummy {
		res, err := c.post(ctx, c.fallbackPathOrPredict(), wav)
		if err != nil {
			return nil, &ServiceError{Primary: err}
		}
		res.Degraded = true
		return res, nil
	}

	res, primaryErr := c.post(ctx, c.predictPath, wav)
	if primaryErr == nil {
		return res, nil
	}
	if ctx.Err() != nil || c.fallbackPath == "" {
		return nil, &ServiceError{Primary: primaryErr}
	}

	applog.Warnf("Classify: %v, retrying against %s", primaryErr, c.fallbackPath)
	res, fallbackErr := c.post(ctx, c.fallbackPath, wav)
	if fallbackErr != nil {
		return nil, &ServiceError{Primary: primaryErr, Fallback: fallbackErr}
	}
	res.Degraded = true
	return res, nil
}

func (c *Client) fallbackPathOrPredict() string {
	if c.fallbackPath != "" {
		return c.fallbackPath
	}
	return c.predictPath
}

// prediction is the service response body. Error payloads use "error" or
// FastAPI's "detail".
type prediction struct {
	Prediction  string          `json:"prediction"`
	Waveform    string          `json:"waveform"`
	Spectrogram string          `json:"spectrogram"`
	Error       string          `json:"error"`
	Detail      json.RawMessage `json:"detail"`
}

func (c *Client) post(ctx context.Context, path string, wav []byte) (res *Result, err error) {
	ctx, span := observe.StartSpan(ctx, "classify.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("endpoint", path)),
	)
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		c.metrics.RecordClassifyRequest(ctx, path, status, time.Since(start))
		span.End()
	}()

	body, contentType, err := multipartBody(wav)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", path, err)
	}

	var p prediction
	jsonErr := json.Unmarshal(raw, &p)

	if resp.StatusCode != http.StatusOK {
		detail := strings.TrimSpace(string(raw))
		if jsonErr == nil {
			if d := p.errorDetail(); d != "" {
				detail = d
			}
		}
		return nil, &responseError{Endpoint: path, Status: resp.StatusCode, Detail: detail}
	}
	if jsonErr != nil {
		return nil, fmt.Errorf("%s: parse response: %w", path, jsonErr)
	}
	if d := p.errorDetail(); d != "" {
		return nil, &responseError{Endpoint: path, Detail: d}
	}

	info, ok := Lookup(p.Prediction)
	if !ok {
		return nil, &responseError{Endpoint: path, Detail: fmt.Sprintf("unknown label %q", p.Prediction)}
	}
	waveform, err := decodeImage(p.Waveform)
	if err != nil {
		return nil, fmt.Errorf("%s: waveform image: %w", path, err)
	}
	spectrogram, err := decodeImage(p.Spectrogram)
	if err != nil {
		return nil, fmt.Errorf("%s: spectrogram image: %w", path, err)
	}

	return &Result{
		Label:       info.Label,
		Info:        info,
		Waveform:    waveform,
		Spectrogram: spectrogram,
		Endpoint:    path,
		Elapsed:     time.Since(start),
	}, nil
}

func (p *prediction) errorDetail() string {
	if p.Error != "" {
		return p.Error
	}
	if len(p.Detail) == 0 || string(p.Detail) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(p.Detail, &s) == nil {
		return s
	}
	return string(p.Detail)
}

func multipartBody(wav []byte) (io.Reader, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, formField, formFilename))
	h.Set("Content-Type", "audio/wav")
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return nil, "", fmt.Errorf("write wav data: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &body, mw.FormDataContentType(), nil
}

// decodeImage decodes a base64 image, with or without a data URL prefix.
func decodeImage(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(s))
}
