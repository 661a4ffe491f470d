package inference

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testBaseURL  = "https://detect.example.com"
	testModel    = "retail-shelf/4"
	testEndpoint = testBaseURL + "/" + testModel
	testAPIKey   = "test-api-key"
)

func newTestClient(t *testing.T, opts ...func(*Options)) *Client {
	t.Helper()

	o := Options{
		APIKey:        testAPIKey,
		BaseURL:       testBaseURL,
		ModelEndpoint: testModel,
		Overlap:       0.3,
		Timeout:       2 * time.Second,
		UploadMode:    UploadBase64,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return NewClient(o)
}

func activateMock(t *testing.T, c *Client) {
	t.Helper()
	httpmock.ActivateNonDefault(c.HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)
}

const successBody = `{
  "inference_id": "abc-123",
  "time": 0.12,
  "image": {"width": "640", "height": 480, "url": "https://cdn.example.com/annotated.jpg"},
  "predictions": [
    {"x": 100, "y": 120, "width": 40, "height": 80, "confidence": 0.9, "class": "product_gap", "class_id": 1},
    {"x": 200, "y": 120, "width": 40, "height": 80, "confidence": 0.8, "class": "bottle", "class_id": 0}
  ]
}`

func TestDetect_Base64Success(t *testing.T) {
	c := newTestClient(t, func(o *Options) { o.Visualize = true })
	activateMock(t, c)

	image := []byte("fake-jpeg-bytes")
	httpmock.RegisterResponder(http.MethodPost, testEndpoint,
		func(req *http.Request) (*http.Response, error) {
			q := req.URL.Query()
			assert.Equal(t, testAPIKey, q.Get("api_key"))
			assert.Equal(t, "0.45", q.Get("confidence"))
			assert.Equal(t, "0.3", q.Get("overlap"))
			assert.Equal(t, "true", q.Get("visualize"))
			assert.Equal(t, "application/x-www-form-urlencoded", req.Header.Get("Content-Type"))

			body, err := io.ReadAll(req.Body)
			require.NoError(t, err)
			assert.Equal(t, base64.StdEncoding.EncodeToString(image), string(body))

			return httpmock.NewStringResponse(http.StatusOK, successBody), nil
		})

	res, err := c.Detect(testContext(t), Request{Image: image, Filename: "shelf.jpg", Confidence: 0.45})

	require.NoError(t, err)
	require.Len(t, res.Predictions, 2)
	assert.Equal(t, "product_gap", res.Predictions[0].Label)
	assert.Equal(t, "bottle", res.Predictions[1].Label)
	assert.InDelta(t, 0.9, res.Predictions[0].Confidence, 0.001)
	assert.Equal(t, "https://cdn.example.com/annotated.jpg", res.AnnotatedImage)
	assert.Equal(t, 640, res.ImageWidth)
	assert.Equal(t, 480, res.ImageHeight)
	assert.Equal(t, "abc-123", res.InferenceID)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestDetect_MultipartUpload(t *testing.T) {
	c := newTestClient(t, func(o *Options) { o.UploadMode = UploadMultipart })
	activateMock(t, c)

	httpmock.RegisterResponder(http.MethodPost, testEndpoint,
		func(req *http.Request) (*http.Response, error) {
			assert.Empty(t, req.URL.Query().Get("visualize"))

			file, header, err := req.FormFile("file")
			require.NoError(t, err)
			defer file.Close()

			data, err := io.ReadAll(file)
			require.NoError(t, err)
			assert.Equal(t, "png-bytes", string(data))
			assert.Equal(t, "shelf.png", header.Filename)

			return httpmock.NewStringResponse(http.StatusOK, `{"predictions": []}`), nil
		})

	res, err := c.Detect(testContext(t), Request{Image: []byte("png-bytes"), Filename: "shelf.png", Confidence: 0.5})

	require.NoError(t, err)
	assert.NotNil(t, res.Predictions)
	assert.Empty(t, res.Predictions)
	assert.Empty(t, res.AnnotatedImage)
}

func TestDetect_MissingPredictionsField(t *testing.T) {
	c := newTestClient(t)
	activateMock(t, c)

	httpmock.RegisterResponder(http.MethodPost, testEndpoint,
		httpmock.NewStringResponder(http.StatusOK, `{"time": 0.1}`))

	res, err := c.Detect(testContext(t), Request{Image: []byte("x"), Confidence: 0.4})

	require.NoError(t, err)
	assert.NotNil(t, res.Predictions)
	assert.Empty(t, res.Predictions)
}

func TestDetect_HTTPError(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
	}{
		{"bad_request", http.StatusBadRequest},
		{"unauthorized", http.StatusUnauthorized},
		{"forbidden", http.StatusForbidden},
		{"not_found", http.StatusNotFound},
		{"internal_server_error", http.StatusInternalServerError},
		{"service_unavailable", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t)
			activateMock(t, c)

			httpmock.RegisterResponder(http.MethodPost, testEndpoint,
				httpmock.NewStringResponder(tt.statusCode, `{"message": "Invalid API key"}`))

			res, err := c.Detect(testContext(t), Request{Image: []byte("x"), Confidence: 0.4})

			require.Error(t, err)
			assert.Nil(t, res)

			var upErr *UpstreamError
			require.ErrorAs(t, err, &upErr)
			assert.Equal(t, tt.statusCode, upErr.StatusCode)
			assert.Contains(t, upErr.Message, "Invalid API key")
			assert.False(t, upErr.Timeout)
		})
	}
}

func TestDetect_InvalidJSON(t *testing.T) {
	c := newTestClient(t)
	activateMock(t, c)

	httpmock.RegisterResponder(http.MethodPost, testEndpoint,
		httpmock.NewStringResponder(http.StatusOK, `{invalid json`))

	res, err := c.Detect(testContext(t), Request{Image: []byte("x"), Confidence: 0.4})

	require.Error(t, err)
	assert.Nil(t, res)
	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Zero(t, upErr.StatusCode)
}

func TestDetect_Unreachable(t *testing.T) {
	c := newTestClient(t)
	activateMock(t, c)

	httpmock.RegisterResponder(http.MethodPost, testEndpoint,
		httpmock.NewErrorResponder(errors.New("dial tcp: connection refused")))

	_, err := c.Detect(testContext(t), Request{Image: []byte("x"), Confidence: 0.4})

	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Zero(t, upErr.StatusCode)
	assert.Contains(t, err.Error(), "connection refused")
	assert.NotContains(t, err.Error(), testAPIKey)
}

func TestDetect_NoAPIKey(t *testing.T) {
	c := newTestClient(t, func(o *Options) { o.APIKey = "" })
	activateMock(t, c)

	res, err := c.Detect(testContext(t), Request{Image: []byte("x"), Confidence: 0.4})

	require.ErrorIs(t, err, ErrNoAPIKey)
	assert.Nil(t, res)
	assert.Zero(t, httpmock.GetTotalCallCount())
}

func TestDetect_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c := newTestClient(t, func(o *Options) {
		o.BaseURL = srv.URL
		o.Timeout = 100 * time.Millisecond
	})

	start := time.Now()
	_, err := c.Detect(testContext(t), Request{Image: []byte("x"), Confidence: 0.4})
	elapsed := time.Since(start)

	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.True(t, upErr.Timeout)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(Options{BaseURL: "https://detect.example.com/", ModelEndpoint: "/model/2/"})

	assert.Equal(t, DefaultTimeout, c.HTTPClient().Timeout)
	assert.Equal(t, "model/2", c.Model())
	assert.Equal(t, UploadBase64, c.opts.UploadMode)
	assert.Contains(t, c.endpoint(0.4), "https://detect.example.com/model/2?")
}

// testContext stands in for t.Context (Go 1.24+): a context canceled when
// the test finishes.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
