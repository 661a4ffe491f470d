// Package inference talks to the hosted object-detection API.
package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shelfsense/shelf-monitor/models"
)

const (
	UploadBase64    = "base64"
	UploadMultipart = "multipart"

	DefaultTimeout = 20 * time.Second
	UserAgent      = "shelfsense/1.0"

	maxErrorBody = 512
)

var ErrNoAPIKey = errors.New("inference API key not configured")

type Options struct {
	APIKey        string
	BaseURL       string
	ModelEndpoint string
	Overlap       float64
	Timeout       time.Duration
	UploadMode    string
	Visualize     bool
}

type Request struct {
	Image       []byte
	Filename    string
	ContentType string
	Confidence  float64
}

type Result struct {
	Predictions    []models.Prediction
	AnnotatedImage string
	ImageWidth     int
	ImageHeight    int
	InferenceID    string
	Time           float64
}

// UpstreamError reports a failed call to the inference service. StatusCode
// is zero when no response was received.
type UpstreamError struct {
	StatusCode int
	Message    string
	Timeout    bool
	Cause      error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("inference service returned %d: %s", e.StatusCode, e.Message)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	default:
		return e.Message
	}
}

func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

type Client struct {
	opts       Options
	httpClient *http.Client
}

func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UploadMode == "" {
		opts.UploadMode = UploadBase64
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	opts.ModelEndpoint = strings.Trim(opts.ModelEndpoint, "/")

	return &Client{
		opts: opts,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
	}
}

// HTTPClient exposes the underlying client so tests can intercept transport.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

func (c *Client) Model() string {
	return c.opts.ModelEndpoint
}

func (c *Client) endpoint(confidence float64) string {
	q := url.Values{}
	q.Set("api_key", c.opts.APIKey)
	q.Set("confidence", strconv.FormatFloat(confidence, 'f', -1, 64))
	q.Set("overlap", strconv.FormatFloat(c.opts.Overlap, 'f', -1, 64))
	if c.opts.Visualize {
		q.Set("visualize", "true")
	}
	return c.opts.BaseURL + "/" + c.opts.ModelEndpoint + "?" + q.Encode()
}

func (c *Client) buildBody(req Request) (io.Reader, string, error) {
	switch c.opts.UploadMode {
	case UploadMultipart:
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)

		filename := req.Filename
		if filename == "" {
			filename = "image.jpg"
		}
		part, err := writer.CreateFormFile("file", filename)
		if err != nil {
			return nil, "", fmt.Errorf("create form file: %w", err)
		}
		if _, err := part.Write(req.Image); err != nil {
			return nil, "", fmt.Errorf("copy image data: %w", err)
		}
		if err := writer.Close(); err != nil {
			return nil, "", fmt.Errorf("close multipart writer: %w", err)
		}
		return body, writer.FormDataContentType(), nil
	default:
		encoded := base64.StdEncoding.EncodeToString(req.Image)
		return strings.NewReader(encoded), "application/x-www-form-urlencoded", nil
	}
}

type detectResponse struct {
	Predictions []models.Prediction `json:"predictions"`
	Image       struct {
		URL    string `json:"url"`
		Width  any    `json:"width"`
		Height any    `json:"height"`
	} `json:"image"`
	InferenceID string  `json:"inference_id"`
	Time        float64 `json:"time"`
}

// Detect submits one image. The call is bounded by the configured timeout
// and never retried.
func (c *Client) Detect(ctx context.Context, req Request) (*Result, error) {
	if c.opts.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	body, contentType, err := c.buildBody(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(req.Confidence), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("User-Agent", UserAgent)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &UpstreamError{
			Message: "inference service unreachable",
			Timeout: isTimeout(ctx, err),
			Cause:   redact(err, c.opts.APIKey),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &UpstreamError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(snippet)),
		}
	}

	var decoded detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &UpstreamError{
			Message: "decode inference response",
			Timeout: isTimeout(ctx, err),
			Cause:   err,
		}
	}

	predictions := decoded.Predictions
	if predictions == nil {
		predictions = []models.Prediction{}
	}

	return &Result{
		Predictions:    predictions,
		AnnotatedImage: decoded.Image.URL,
		ImageWidth:     dimension(decoded.Image.Width),
		ImageHeight:    dimension(decoded.Image.Height),
		InferenceID:    decoded.InferenceID,
		Time:           decoded.Time,
	}, nil
}

// dimension accepts both numeric and quoted image sizes.
func dimension(v any) int {
	switch d := v.(type) {
	case float64:
		return int(d)
	case string:
		n, err := strconv.Atoi(d)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// redact strips the API key from transport errors, which embed the request URL.
func redact(err error, apiKey string) error {
	if apiKey == "" || !strings.Contains(err.Error(), apiKey) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), apiKey, "REDACTED"))
}
