package prediction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/example/food-vision/internal/logging"
)

// SignatureName is the serving signature every request targets.
const SignatureName = "serving_default"

const defaultHost = "ml.googleapis.com"

// Instance is one preprocessed image in height, width, channel order.
type Instance = [][][]float32

// Params addresses one deployed model and carries its inputs.
type Params struct {
	Region    string
	Project   string
	Model     string
	Version   string
	Instances []Instance
}

// Request is the JSON body sent to the prediction service.
type Request struct {
	SignatureName string     `json:"signature_name"`
	Instances     []Instance `json:"instances"`
}

// Response is the JSON body returned by the prediction service.
type Response struct {
	Predictions [][]float64     `json:"predictions"`
	Error       json.RawMessage `json:"error,omitempty"`
}

// RemoteError carries the error payload reported by the prediction service.
type RemoteError struct {
	Resource string
	Payload  json.RawMessage
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	return fmt.Sprintf("prediction %s failed: %s", e.Resource, e.Message())
}

// Message renders the payload, unquoting it when it is a plain JSON string.
func (e *RemoteError) Message() string {
	var text string
	if err := json.Unmarshal(e.Payload, &text); err == nil {
		return text
	}
	return string(e.Payload)
}

// Predictor sends instances to a deployed model.
type Predictor interface {
	Predict(ctx context.Context, params Params) ([][]float64, error)
}

// Option customises a Client.
type Option func(*Client)

// WithBaseURL sends every request to baseURL instead of the regional
// googleapis host.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithAccessToken attaches a bearer token to every request.
func WithAccessToken(token string) Option {
	return func(c *Client) {
		if token = strings.TrimSpace(token); token != "" {
			c.http.SetAuthToken(token)
		}
	}
}

// WithTimeout bounds each request. Zero leaves only the context deadline.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.http.SetTimeout(timeout)
		}
	}
}

// Client calls the online prediction REST API.
type Client struct {
	http    *resty.Client
	baseURL string
	logger  *zap.Logger
}

// NewClient returns a Client that performs exactly one HTTP call per Predict.
func NewClient(logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		http: resty.New().
			SetHeader("Content-Type", "application/json").
			SetHeader("User-Agent", "food-vision/1.0").
			SetRetryCount(0),
		logger: logger.Named("prediction_client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the API host for region, or the global host when region
// is empty.
func Endpoint(region string) string {
	if region = strings.TrimSpace(region); region != "" {
		return fmt.Sprintf("https://%s-%s", region, defaultHost)
	}
	return "https://" + defaultHost
}

// ResourcePath returns projects/<project>/models/<model>, with
// /versions/<version> appended when version is set.
func ResourcePath(project, model, version string) string {
	path := fmt.Sprintf("projects/%s/models/%s", project, model)
	if version != "" {
		path += "/versions/" + version
	}
	return path
}

// Predict posts params.Instances to the model and returns its predictions
// verbatim.
func (c *Client) Predict(ctx context.Context, params Params) ([][]float64, error) {
	resource := ResourcePath(params.Project, params.Model, params.Version)
	endpoint := c.baseURL
	if endpoint == "" {
		endpoint = Endpoint(params.Region)
	}
	url := fmt.Sprintf("%s/v1/%s:predict", endpoint, resource)

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(Request{SignatureName: SignatureName, Instances: params.Instances}).
		Post(url)
	if err != nil {
		wrapped := logging.NewOperationError("prediction.predict", "", fmt.Errorf("%s: %w", resource, err))
		c.logger.Error("prediction request failed", zap.Error(wrapped), zap.String("url", url))
		return nil, wrapped
	}

	// Decoded here rather than through SetResult so a missing or non-JSON
	// Content-Type cannot hide the payload.
	var body Response
	decodeErr := json.Unmarshal(resp.Body(), &body)

	if decodeErr == nil && len(body.Error) > 0 && string(body.Error) != "null" {
		remoteErr := &RemoteError{Resource: resource, Payload: body.Error}
		c.logger.Warn("prediction service returned error",
			zap.String("resource", resource),
			zap.Int("status", resp.StatusCode()),
			zap.String("error", remoteErr.Message()),
		)
		return nil, remoteErr
	}
	if resp.IsError() {
		return nil, fmt.Errorf("prediction %s: unexpected status %d: %s", resource, resp.StatusCode(), resp.String())
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("prediction %s: decode response: %w", resource, decodeErr)
	}
	if body.Predictions == nil {
		return nil, fmt.Errorf("prediction %s: response has no predictions", resource)
	}

	c.logger.Debug("prediction succeeded",
		zap.String("resource", resource),
		zap.Int("instances", len(params.Instances)),
		zap.Duration("latency", resp.Time()),
	)
	return body.Predictions, nil
}
