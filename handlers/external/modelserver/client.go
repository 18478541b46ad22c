package modelserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/RetentionML/decisionflow/handlers/dispatch"
	"github.com/RetentionML/decisionflow/internal/errors"
	"github.com/RetentionML/decisionflow/pkg/configs"
	"github.com/RetentionML/decisionflow/pkg/featurecache"
	"github.com/RetentionML/decisionflow/pkg/logger"
	"github.com/RetentionML/decisionflow/pkg/metrics"
)

const (
	errorType        = "error-type"
	modelServerError = "model-server-api-error"
	scoreRangeError  = "model-server-score-range"
)

var (
	client                *Client
	modelServerMetricTags = []string{"ext-service:model-server", "endpoint:/predict"}
)

// Client calls a model replica's scoring endpoint over HTTP. One shared
// http.Client serves every replica; per-call deadlines come from the
// dispatcher's context.
type Client struct {
	httpClient *http.Client
	scheme     string
}

type inferRequest struct {
	Model      string                               `json:"model"`
	Features   map[string]featurecache.FeatureValue `json:"features"`
	ComputedAt *time.Time                           `json:"computed_at,omitempty"`
}

type inferResponse struct {
	Score        float64 `json:"score"`
	ModelVersion string  `json:"model_version,omitempty"`
}

// InitModelServerClient initializes the shared replica client, to be called from main.go
func InitModelServerClient(appConfigs *configs.AppConfigs) {
	scheme := "https"
	if appConfigs.Configs.ModelServerPlainText {
		scheme = "http"
	}
	deadline := time.Duration(appConfigs.Configs.ModelServerDeadline) * time.Millisecond
	client = &Client{
		httpClient: &http.Client{
			Timeout: deadline,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 64,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		scheme: scheme,
	}
	logger.Info(fmt.Sprintf("Model server client initialized (scheme=%s, deadline=%s)", scheme, deadline))
}

// Instance returns the model server client. Ensure that
// InitModelServerClient is called before calling this function
func Instance() *Client {
	if client == nil {
		logger.Panic("model server client not initialized, call InitModelServerClient first", nil)
	}
	return client
}

// Infer posts the feature vector to the replica's scoring endpoint and
// returns the raw score. The context deadline bounds the call; an abandoned
// call is cancelled through the transport.
func (c *Client) Infer(ctx context.Context, replica *dispatch.Replica, vector *featurecache.FeatureVector) (float64, error) {
	startTime := time.Now()

	payload := inferRequest{
		Model:    replica.ModelName,
		Features: vector.Values,
	}
	if !vector.ComputedAt.IsZero() {
		payload.ComputedAt = &vector.ComputedAt
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, &errors.ParsingError{ErrorMsg: fmt.Sprintf("failed to marshal infer request: %v", err)}
	}

	url := fmt.Sprintf("%s://%s/predict/%s", c.scheme, replica.Endpoint, replica.ModelName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.Count("decisionflow.modelserver.call.error", 1, append(modelServerMetricTags, errorType, modelServerError))
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.Count("decisionflow.modelserver.call.error", 1, append(modelServerMetricTags, errorType, modelServerError))
		return 0, fmt.Errorf("model server returned status %d for replica %s", resp.StatusCode, replica.ID)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	var parsed inferResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return 0, &errors.ParsingError{ErrorMsg: fmt.Sprintf("failed to parse infer response: %v", err)}
	}
	if parsed.Score < 0.0 || parsed.Score > 1.0 {
		metrics.Count("decisionflow.modelserver.call.error", 1, append(modelServerMetricTags, errorType, scoreRangeError))
		return 0, &errors.ParsingError{ErrorMsg: fmt.Sprintf("score %f out of range [0,1] from replica %s", parsed.Score, replica.ID)}
	}

	metrics.Timing("decisionflow.modelserver.call.latency", time.Since(startTime), modelServerMetricTags)
	return parsed.Score, nil
}
