package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/acapellify/api/internal/config"
)

// InferenceClient calls a model server that speaks the TensorFlow Serving
// REST protocol. It satisfies inference.Model and inference.ShapeReporter.
type InferenceClient struct {
	httpClient *http.Client
	baseURL    string
	modelName  string
}

type predictRequest struct {
	Instances [][]float64 `json:"instances"`
}

type predictResponse struct {
	Predictions [][]float64 `json:"predictions"`
}

// metadataResponse is the subset of the metadata document that carries the
// serving signature's input shape.
type metadataResponse struct {
	Metadata struct {
		SignatureDef struct {
			SignatureDef map[string]struct {
				Inputs map[string]struct {
					TensorShape struct {
						Dim []struct {
							Size json.Number `json:"size"`
						} `json:"dim"`
					} `json:"tensor_shape"`
				} `json:"inputs"`
			} `json:"signature_def"`
		} `json:"signature_def"`
	} `json:"metadata"`
}

// NewInferenceClient creates a client for the configured model server
func NewInferenceClient(cfg *config.InferenceConfig) *InferenceClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &InferenceClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.ServiceURL, "/"),
		modelName:  cfg.ModelName,
	}
}

// Predict sends one instance and returns its prediction
func (c *InferenceClient) Predict(ctx context.Context, input []float64) ([]float64, error) {
	var result predictResponse
	endpoint := fmt.Sprintf("/v1/models/%s:predict", url.PathEscape(c.modelName))
	if err := c.post(ctx, endpoint, predictRequest{Instances: [][]float64{input}}, &result); err != nil {
		return nil, err
	}
	if len(result.Predictions) == 0 {
		return nil, nil
	}
	return result.Predictions[0], nil
}

// InputLength reads the last dimension of the serving_default input shape
func (c *InferenceClient) InputLength(ctx context.Context) (int, error) {
	var meta metadataResponse
	endpoint := fmt.Sprintf("/v1/models/%s/metadata", url.PathEscape(c.modelName))
	if err := c.get(ctx, endpoint, &meta); err != nil {
		return 0, err
	}

	sig, ok := meta.Metadata.SignatureDef.SignatureDef["serving_default"]
	if !ok {
		return 0, errors.New("model metadata has no serving_default signature")
	}
	for _, in := range sig.Inputs {
		dims := in.TensorShape.Dim
		if len(dims) == 0 {
			continue
		}
		n, err := dims[len(dims)-1].Size.Int64()
		if err != nil || n < 1 {
			return 0, fmt.Errorf("model input dimension not fixed: %q", dims[len(dims)-1].Size)
		}
		return int(n), nil
	}
	return 0, errors.New("model metadata has no inputs")
}

// HealthCheck checks that the model is loaded on the server
func (c *InferenceClient) HealthCheck(ctx context.Context) error {
	var status json.RawMessage
	return c.get(ctx, "/v1/models/"+url.PathEscape(c.modelName), &status)
}

// IsConfigured returns true if the client has a service URL
func (c *InferenceClient) IsConfigured() bool {
	return c.baseURL != ""
}

func (c *InferenceClient) get(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, result)
}

// post sends a POST request with JSON body and parses the response
func (c *InferenceClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, result)
}

func (c *InferenceClient) do(req *http.Request, result interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("inference service error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
