package analysis

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbs-selection-server/internal/domain"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func validRequest() *domain.AnalyzeRequest {
	return &domain.AnalyzeRequest{
		ConsultationNote: "Patient presented with persistent cough and fever, examined chest.",
		Context:          domain.ContextGeneralPractice,
	}
}

func successBody() string {
	resp := domain.AnalyzeResponse{
		Status: "success",
		Recommendations: []domain.Recommendation{
			{Code: "36", Description: "Level C consultation", ScheduleFee: 75.05, Confidence: 0.92},
		},
		Metadata: domain.AnalyzeMetadata{ProcessingTimeMS: 1200, Timestamp: time.Now().UTC()},
	}
	data, _ := json.Marshal(resp)
	return string(data)
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(Config{
		BaseURL:   baseURL,
		RateLimit: 1000, // keep tests fast
	}, testLogger())
	require.NoError(t, err)
	return client
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient(Config{}, testLogger())
	assert.Error(t, err)
}

func TestNewClient_TimeoutFloor(t *testing.T) {
	client, err := NewClient(Config{BaseURL: "http://localhost:8000", Timeout: 5 * time.Second}, testLogger())
	require.NoError(t, err)

	assert.Equal(t, minTimeout, client.httpClient.Timeout,
		"timeouts below the contractual floor are raised to it")
}

func TestClient_Analyze(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/analyze", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req domain.AnalyzeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, domain.ContextGeneralPractice, req.Context)

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, successBody())
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	resp, err := client.Analyze(context.Background(), validRequest())

	require.NoError(t, err)
	assert.Equal(t, "success", resp.Status)
	require.Len(t, resp.Recommendations, 1)
	assert.Equal(t, "36", resp.Recommendations[0].Code)
}

func TestClient_Analyze_InvalidRequestNeverSent(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.Analyze(context.Background(), &domain.AnalyzeRequest{
		ConsultationNote: "too short",
		Context:          domain.ContextGeneralPractice,
	})

	require.Error(t, err)
	var validation *domain.ValidationError
	assert.ErrorAs(t, err, &validation)
	assert.Zero(t, calls.Load(), "invalid input must be rejected client-side")
}

func TestClient_Analyze_ValidationError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		io.WriteString(w, `{"detail":[{"loc":["body","consultation_note"],"msg":"note too vague","type":"value_error"}]}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.Analyze(context.Background(), validRequest())

	var ue *domain.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, domain.UpstreamValidation, ue.Kind)
	assert.Equal(t, http.StatusUnprocessableEntity, ue.StatusCode)
	assert.False(t, ue.Retryable())
	require.Len(t, ue.Fields, 1)
	assert.Equal(t, "note too vague", ue.Fields[0].Message)
}

func TestClient_Analyze_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"status":"error","message":"model unavailable","detail":"GPU pool exhausted"}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.Analyze(context.Background(), validRequest())

	var ue *domain.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, domain.UpstreamTransient, ue.Kind)
	assert.Equal(t, "model unavailable", ue.Message)
	assert.Equal(t, "GPU pool exhausted", ue.Detail)
	assert.True(t, ue.Retryable())
}

func TestClient_Analyze_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // nothing listening

	client := newTestClient(t, server.URL)

	_, err := client.Analyze(context.Background(), validRequest())

	var ue *domain.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, domain.UpstreamNetwork, ue.Kind)
	assert.True(t, ue.Retryable())
}

func TestClient_Analyze_CacheHit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		io.WriteString(w, successBody())
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	ctx := context.Background()

	first, err := client.Analyze(ctx, validRequest())
	require.NoError(t, err)
	second, err := client.Analyze(ctx, validRequest())
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load(), "identical request within TTL served from cache")
	assert.Equal(t, first, second)
}

func TestClient_Analyze_DifferentRequestsNotShared(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		io.WriteString(w, successBody())
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	ctx := context.Background()

	_, err := client.Analyze(ctx, validRequest())
	require.NoError(t, err)

	other := validRequest()
	other.Context = domain.ContextTelehealth
	_, err = client.Analyze(ctx, other)
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_Analyze_BreakerOpensAfterFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"status":"error","message":"down"}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	ctx := context.Background()

	// Distinct requests dodge the cache; repeated failures trip the breaker.
	for i := 0; i < 5; i++ {
		req := validRequest()
		req.Options = &domain.AnalyzeOptions{MaxCodes: i + 1}
		client.Analyze(ctx, req)
	}

	req := validRequest()
	req.Options = &domain.AnalyzeOptions{MaxCodes: 9}
	_, err := client.Analyze(ctx, req)

	var ue *domain.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, domain.UpstreamTransient, ue.Kind)
	assert.Contains(t, ue.Message, "circuit open")
}

func TestClient_Analyze_ValidationDoesNotTripBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		io.WriteString(w, `{"detail":[]}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		req := validRequest()
		req.Options = &domain.AnalyzeOptions{MaxCodes: (i % 9) + 1, MinConfidence: float64(i) / 20}
		_, err := client.Analyze(ctx, req)

		var ue *domain.UpstreamError
		require.ErrorAs(t, err, &ue)
		require.Equal(t, domain.UpstreamValidation, ue.Kind,
			"422s must keep returning as validation errors, never circuit-open")
	}
}
