// Package genclient talks to the external image-generation service. It owns
// the outbound wire contract, the per-call timeout, and the retry policy for
// transient failures.
package genclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/akula/imgbot/internal/imaging"
)

const (
	createPath = "/api/v1/image/create"
	editPath   = "/api/v1/image/edit"

	defaultTimeout     = 300 * time.Second
	defaultMaxAttempts = 3
	defaultRetryDelay  = 2 * time.Second

	maxErrorBodyLen = 200
)

var ErrAPIKeyRequired = errors.New("API key is required")

// Config holds everything deployment-specific about the generation service.
// The edit endpoint's field names and the batching contract vary across
// deployments, so both are configuration rather than constants.
type Config struct {
	BaseURL string
	APIKey  string

	// Timeout bounds each HTTP call. Generation is slow; default is 300s.
	Timeout time.Duration

	// MaxAttempts is the total number of attempts per HTTP call (first try
	// included) for transient failures. RetryDelay is the fixed pause
	// between attempts; zero is valid and used by tests.
	MaxAttempts int
	RetryDelay  time.Duration

	// BatchCalls selects one request carrying n over n single-image requests.
	BatchCalls bool

	// ImageField and PromptField name the edit endpoint's request fields.
	// Deployments disagree ("image" vs "reference_image_b64", "prompt" vs
	// "edit_instruction").
	ImageField  string
	PromptField string
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = defaultRetryDelay
	}
	if c.ImageField == "" {
		c.ImageField = "reference_image_b64"
	}
	if c.PromptField == "" {
		c.PromptField = "prompt"
	}
}

// CreateRequest describes one create-image operation.
type CreateRequest struct {
	Prompt      string
	AspectRatio string
	N           int
}

// EditRequest describes one edit-image operation. ImageB64 is the
// upload-normalized source image produced by the imaging codec.
type EditRequest struct {
	ImageB64    string
	Prompt      string
	AspectRatio string
	N           int
}

// Client issues generation requests with retry and failure classification.
type Client struct {
	cfg        Config
	httpClient *http.Client
	codec      *imaging.Codec
	logger     *zap.Logger
}

// New validates cfg and builds a client. The codec decodes the base64 images
// in responses.
func New(cfg Config, codec *imaging.Codec, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrAPIKeyRequired
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		codec:      codec,
		logger:     logger,
	}, nil
}

// imageList accepts the image_b64 field as either one base64 string or an
// array of them.
type imageList []string

func (l *imageList) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = imageList{s}
		return nil
	}
	var ss []string
	if err := json.Unmarshal(data, &ss); err != nil {
		return err
	}
	*l = ss
	return nil
}

type apiResponse struct {
	ImageB64 imageList `json:"image_b64"`
}

// Create generates N images from a text prompt. In per-unit mode the images
// produced before a failing unit are returned alongside the error, so a
// partial run is never discarded.
func (c *Client) Create(ctx context.Context, req CreateRequest) ([][]byte, error) {
	body := map[string]any{
		"prompt":       req.Prompt,
		"aspect_ratio": req.AspectRatio,
	}
	return c.run(ctx, "create", createPath, body, req.N)
}

// Edit produces N edited variants of the source image. Partial results are
// returned the same way as Create.
func (c *Client) Edit(ctx context.Context, req EditRequest) ([][]byte, error) {
	ratio := req.AspectRatio
	if ratio == "" {
		ratio = "1:1"
	}
	body := map[string]any{
		c.cfg.ImageField:  req.ImageB64,
		c.cfg.PromptField: req.Prompt,
		"aspect_ratio":    ratio,
	}
	return c.run(ctx, "edit", editPath, body, req.N)
}

func (c *Client) run(ctx context.Context, op, path string, body map[string]any, n int) ([][]byte, error) {
	if n < 1 {
		n = 1
	}
	reqID := uuid.New().String()
	logger := c.logger.With(zap.String("op", op), zap.String("request_id", reqID))

	if c.cfg.BatchCalls {
		body["n"] = n
		return c.call(ctx, logger, path, body)
	}

	body["n"] = 1
	var images [][]byte
	for i := 0; i < n; i++ {
		got, err := c.call(ctx, logger.With(zap.Int("unit", i+1)), path, body)
		if err != nil {
			return images, err
		}
		images = append(images, got...)
	}
	return images, nil
}

// call performs one logical POST with retry on transient failure and returns
// the decoded images.
func (c *Client) call(ctx context.Context, logger *zap.Logger, path string, body map[string]any) ([][]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	attempts := 0
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.RetryDelay), uint64(c.cfg.MaxAttempts-1)),
		ctx)

	var images [][]byte
	operation := func() error {
		attempts++
		got, err := c.doPost(ctx, path, payload)
		if err != nil {
			if retryable(err) {
				logger.Warn("attempt failed",
					zap.Int("attempt", attempts),
					zap.Int("max_attempts", c.cfg.MaxAttempts),
					zap.Error(err))
				return err
			}
			return backoff.Permanent(err)
		}
		images = got
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		if retryable(err) {
			return nil, &TransientError{Attempts: attempts, Err: err}
		}
		return nil, err
	}
	logger.Debug("images received", zap.Int("count", len(images)), zap.Int("attempts", attempts))
	return images, nil
}

// doPost performs a single HTTP attempt and classifies the outcome. A nil
// error means images were decoded; a returned *PermanentError or
// *MalformedError must not be retried.
func (c *Client) doPost(ctx context.Context, path string, payload []byte) ([][]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-API-Key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// fall through to parsing
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, &PermanentError{Status: resp.StatusCode, Body: truncate(string(respBody), maxErrorBodyLen)}
	default:
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(respBody), maxErrorBodyLen))
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, &MalformedError{Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if len(apiResp.ImageB64) == 0 {
		return nil, &MalformedError{Reason: "missing image_b64 field"}
	}

	images := make([][]byte, 0, len(apiResp.ImageB64))
	for i, b64 := range apiResp.ImageB64 {
		data, err := c.codec.DecodeBase64(b64)
		if err != nil {
			return nil, &MalformedError{Reason: fmt.Sprintf("image %d: %v", i, err)}
		}
		images = append(images, data)
	}
	return images, nil
}

// retryable reports whether err may be attempted again: anything that is not
// a permanent rejection, a contract mismatch, or a cancelled context.
func retryable(err error) bool {
	if IsPermanent(err) || IsMalformed(err) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
