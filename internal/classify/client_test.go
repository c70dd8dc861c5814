// SPDX-License-Identifier: MIT
package classify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"cardio/internal/clip"
	"cardio/internal/observe"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

var pngStub = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func testClip(t *testing.T) []byte {
	t.Helper()
	data, err := clip.EncodeWAV(make([]float32, 1600), 1, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	return data
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

type endpoint struct {
	status int
	body   any
	hits   atomic.Int32
}

// newService serves /predict and /predict_dummy from the given endpoints and
// checks the upload shape on every request.
func newService(t *testing.T, predict, dummy *endpoint) *httptest.Server {
	t.Helper()
	handler := func(ep *endpoint) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			ep.hits.Add(1)
			if r.Method != http.MethodPost {
				t.Errorf("method = %s, want POST", r.Method)
			}
			f, hdr, err := r.FormFile("file")
			if err != nil {
				t.Errorf("FormFile: %v", err)
				http.Error(w, "no file", http.StatusBadRequest)
				return
			}
			data, _ := io.ReadAll(f)
			if hdr.Filename != "recording.wav" || string(data[:4]) != "RIFF" {
				t.Errorf("upload = %q, %q", hdr.Filename, data[:4])
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(ep.status)
			json.NewEncoder(w).Encode(ep.body)
		}
	}
	mux := http.NewServeMux()
	mux.Handle("/predict", handler(predict))
	mux.Handle("/predict_dummy", handler(dummy))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func okBody(label string) map[string]string {
	return map[string]string{
		"prediction":  label,
		"waveform":    base64.StdEncoding.EncodeToString(pngStub),
		"spectrogram": "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngStub),
	}
}

func newTestClient(t *testing.T, url string, opts ...Option) *Client {
	t.Helper()
	c, err := New(url, append([]Option{WithMetrics(testMetrics(t))}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestClassifyPrimary(t *testing.T) {
	predict := &endpoint{status: http.StatusOK, body: okBody("MR")}
	dummy := &endpoint{status: http.StatusOK, body: okBody("N")}
	srv := newService(t, predict, dummy)

	res, err := newTestClient(t, srv.URL).Classify(context.Background(), testClip(t))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Label != MitralRegurgitation || res.Degraded || res.Endpoint != "/predict" {
		t.Errorf("result = %+v", res)
	}
	if res.Info.Name != "Mitral Regurgitation" {
		t.Errorf("info = %+v", res.Info)
	}
	if string(res.Waveform) != string(pngStub) || string(res.Spectrogram) != string(pngStub) {
		t.Error("images not decoded")
	}
	if dummy.hits.Load() != 0 {
		t.Error("fallback called after primary success")
	}
}

func TestClassifyFallsBackOnce(t *testing.T) {
	predict := &endpoint{status: http.StatusInternalServerError, body: map[string]string{"detail": "model not loaded"}}
	dummy := &endpoint{status: http.StatusOK, body: okBody("N")}
	srv := newService(t, predict, dummy)

	res, err := newTestClient(t, srv.URL).Classify(context.Background(), testClip(t))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !res.Degraded || res.Label != Normal || res.Endpoint != "/predict_dummy" {
		t.Errorf("result = %+v, want degraded N from dummy", res)
	}
	if predict.hits.Load() != 1 || dummy.hits.Load() != 1 {
		t.Errorf("hits = %d/%d, want 1/1", predict.hits.Load(), dummy.hits.Load())
	}
}

func TestClassifyBothFail(t *testing.T) {
	predict := &endpoint{status: http.StatusInternalServerError, body: map[string]string{"detail": "model not loaded"}}
	dummy := &endpoint{status: http.StatusServiceUnavailable, body: map[string]string{"detail": "maintenance"}}
	srv := newService(t, predict, dummy)

	_, err := newTestClient(t, srv.URL).Classify(context.Background(), testClip(t))
	if !errors.Is(err, ErrClassificationService) {
		t.Fatalf("err = %v, want ErrClassificationService", err)
	}
	var se *ServiceError
	if !errors.As(err, &se) || se.Fallback == nil {
		t.Fatalf("err = %#v, want *ServiceError with both causes", err)
	}
	if !strings.Contains(err.Error(), "model not loaded") {
		t.Errorf("error %q lost the primary detail", err)
	}
	if dummy.hits.Load() != 1 {
		t.Errorf("fallback hits = %d, want exactly 1", dummy.hits.Load())
	}
}

func TestClassifyErrorPayloads(t *testing.T) {
	tests := []struct {
		name string
		body any
		want string
	}{
		{"error field", map[string]string{"error": "audio too short"}, "audio too short"},
		{"detail list", map[string]any{"detail": []map[string]string{{"msg": "field required"}}}, "field required"},
		{"unknown label", okBody("XYZ"), `unknown label "XYZ"`},
		{"bad image", map[string]string{"prediction": "N", "waveform": "!!!"}, "waveform image"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			predict := &endpoint{status: http.StatusOK, body: tt.body}
			dummy := &endpoint{status: http.StatusOK, body: okBody("N")}
			srv := newService(t, predict, dummy)

			c := newTestClient(t, srv.URL, WithPaths("/predict", ""))
			_, err := c.Classify(context.Background(), testClip(t))
			if !errors.Is(err, ErrClassificationService) || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want service error containing %q", err, tt.want)
			}
			if dummy.hits.Load() != 0 {
				t.Error("fallback used with fallback disabled")
			}
		})
	}
}

func TestClassifyDummyMode(t *testing.T) {
	predict := &endpoint{status: http.StatusOK, body: okBody("AS")}
	dummy := &endpoint{status: http.StatusOK, body: okBody("MVP")}
	srv := newService(t, predict, dummy)

	res, err := newTestClient(t, srv.URL, WithDummy(true)).Classify(context.Background(), testClip(t))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !res.Degraded || res.Label != MitralValveProlapse || predict.hits.Load() != 0 {
		t.Errorf("result = %+v, primary hits = %d", res, predict.hits.Load())
	}
}

func TestClassifyUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := newTestClient(t, url, WithTimeout(2*time.Second))
	_, err := c.Classify(context.Background(), testClip(t))
	var se *ServiceError
	if !errors.As(err, &se) || se.Primary == nil || se.Fallback == nil {
		t.Fatalf("err = %v, want *ServiceError with both causes", err)
	}
}

func TestClassifyEmptyClip(t *testing.T) {
	c := newTestClient(t, "http://localhost:1")
	if _, err := c.Classify(context.Background(), nil); !errors.Is(err, ErrInvalidUpload) {
		t.Errorf("err = %v, want ErrInvalidUpload", err)
	}
}

func TestNewRejectsEmptyURL(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Error("empty base URL accepted")
	}
}

func TestReadUpload(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, data []byte) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, data, 0o644); err != nil {
			t.Fatal(err)
		}
		return p
	}

	good := write("ok.WAV", testClip(t))
	if _, c, err := ReadUpload(good); err != nil || c.SampleRate != 16000 {
		t.Errorf("ReadUpload(good) = %v, %v", c, err)
	}

	bad := []struct {
		name string
		path string
	}{
		{"extension", write("clip.mp3", testClip(t))},
		{"garbage", write("noise.wav", []byte("not riff data at all"))},
		{"missing", filepath.Join(dir, "absent.wav")},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ReadUpload(tt.path); !errors.Is(err, ErrInvalidUpload) {
				t.Errorf("err = %v, want ErrInvalidUpload", err)
			}
		})
	}
}

func TestSaveImages(t *testing.T) {
	res := &Result{Waveform: pngStub}
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	paths, err := res.SaveImages(t.TempDir(), at)
	if err != nil {
		t.Fatalf("SaveImages: %v", err)
	}
	if len(paths) != 1 || !strings.HasSuffix(paths[0], "waveform_20240102_030405.png") {
		t.Errorf("paths = %v", paths)
	}
}

func TestLookup(t *testing.T) {
	for _, code := range []string{"AS", "MR", "MS", "MVP", "N"} {
		if _, ok := Lookup(code); !ok {
			t.Errorf("Lookup(%q) failed", code)
		}
	}
	if _, ok := Lookup("n"); ok {
		t.Error("lookup is case sensitive")
	}
	if len(Labels()) != 5 {
		t.Errorf("catalog size = %d", len(Labels()))
	}
}
