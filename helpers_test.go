package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"image/color"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/shelfsense/shelf-monitor/config"
	"github.com/shelfsense/shelf-monitor/detections"
	"github.com/shelfsense/shelf-monitor/inference"
	"github.com/shelfsense/shelf-monitor/models"
)

// stubDetector records calls instead of contacting the inference service.
type stubDetector struct {
	mu      sync.Mutex
	calls   int
	lastReq inference.Request
	result  *inference.Result
	err     error
}

func (s *stubDetector) Detect(_ context.Context, req inference.Request) (*inference.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	if s.result == nil {
		return &inference.Result{Predictions: []models.Prediction{}}, nil
	}
	return s.result, nil
}

func (s *stubDetector) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func createTestSettings(t *testing.T, opts ...func(*config.Settings)) *config.Settings {
	t.Helper()

	s := &config.Settings{
		Server: config.ServerSettings{
			Host:        "127.0.0.1",
			Port:        8000,
			IndexPath:   t.TempDir() + "/index.html",
			ImagesDir:   t.TempDir(),
			MaxUploadMB: 5,
		},
		Inference: config.InferenceSettings{
			APIKey:            "test-api-key",
			BaseURL:           "https://detect.example.com",
			ModelEndpoint:     "retail-shelf/4",
			ConfidenceDefault: 0.4,
			OverlapDefault:    0.3,
			TimeoutSeconds:    2,
			UploadMode:        inference.UploadBase64,
			MaxConcurrent:     4,
			AcquireSeconds:    1,
		},
		Report: config.ReportSettings{
			SeverityPolicy:  detections.PolicyGraded,
			AbsenceKeywords: detections.DefaultAbsenceKeywords,
			VerifyImage:     true,
		},
	}

	for _, opt := range opts {
		opt(s)
	}
	require.NoError(t, s.Validate())
	return s
}

func newTestState(t *testing.T, detector Detector, opts ...func(*config.Settings)) *AppState {
	t.Helper()

	settings := createTestSettings(t, opts...)
	state, err := newAppState(settings, slog.New(slog.NewTextHandler(io.Discard, nil)), prometheus.NewRegistry(), detector)
	require.NoError(t, err)
	t.Cleanup(state.Pool.Close)
	return state
}

func newTestRouter(t *testing.T, state *AppState) http.Handler {
	t.Helper()
	return newRouter(state.routes(), state.Logger)
}

func testImage(t *testing.T, format imaging.Format) []byte {
	t.Helper()

	img := imaging.New(8, 6, color.NRGBA{R: 200, G: 120, B: 40, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, format))
	return buf.Bytes()
}

// forgedPNG returns a valid small PNG whose IHDR claims width x height.
func forgedPNG(t *testing.T, width, height uint32) []byte {
	t.Helper()

	data := testImage(t, imaging.PNG)
	// signature(8) length(4) "IHDR"(4) width(4) height(4) ... crc at 29
	binary.BigEndian.PutUint32(data[16:20], width)
	binary.BigEndian.PutUint32(data[20:24], height)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}

// uploadRequest builds a multipart POST with an explicit part content type.
func uploadRequest(t *testing.T, target, contentType string, data []byte, fields map[string]string) *http.Request {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if data != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="shelf"`)
		h.Set("Content-Type", contentType)
		part, err := writer.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}

	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, target, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func serve(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func predictions(labels ...string) []models.Prediction {
	out := make([]models.Prediction, len(labels))
	for i, l := range labels {
		out[i] = models.Prediction{Label: l, Confidence: 0.5 + float64(i)/100, X: float64(i * 10)}
	}
	return out
}

func mustContain(t *testing.T, body, substr string) {
	t.Helper()
	require.Contains(t, body, substr, fmt.Sprintf("body: %s", body))
}

// testContext stands in for t.Context (Go 1.24+): a context canceled when
// the test finishes.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
