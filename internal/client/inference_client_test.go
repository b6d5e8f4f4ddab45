package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/acapellify/api/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newModelServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models/acapella:predict", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req predictRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Instances, 1)

		out := make([]float64, len(req.Instances[0]))
		for i, v := range req.Instances[0] {
			out[i] = v + 0.5
		}
		_ = json.NewEncoder(w).Encode(predictResponse{Predictions: [][]float64{out}})
	})
	mux.HandleFunc("/v1/models/acapella/metadata", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"metadata":{"signature_def":{"signature_def":{"serving_default":{
			"inputs":{"dense_input":{"tensor_shape":{"dim":[{"size":"-1"},{"size":"100"}]}}}}}}}}`))
	})
	mux.HandleFunc("/v1/models/acapella", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"model_version_status":[{"state":"AVAILABLE"}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestInferenceClient_Predict(t *testing.T) {
	srv := newModelServer(t)
	c := NewInferenceClient(&config.InferenceConfig{ServiceURL: srv.URL + "/", ModelName: "acapella", Timeout: 5})

	out, err := c.Predict(context.Background(), []float64{60, 62})
	require.NoError(t, err)
	assert.Equal(t, []float64{60.5, 62.5}, out)
	assert.True(t, c.IsConfigured())
	assert.NoError(t, c.HealthCheck(context.Background()))
}

func TestInferenceClient_InputLength(t *testing.T) {
	srv := newModelServer(t)
	c := NewInferenceClient(&config.InferenceConfig{ServiceURL: srv.URL, ModelName: "acapella"})

	n, err := c.InputLength(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100, n)
}

func TestInferenceClient_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewInferenceClient(&config.InferenceConfig{ServiceURL: srv.URL, ModelName: "acapella"})
	_, err := c.Predict(context.Background(), []float64{1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")

	_, err = c.InputLength(context.Background())
	assert.Error(t, err)
}
