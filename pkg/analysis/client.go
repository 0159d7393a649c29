// Package analysis implements the HTTP client for the external
// recommendation backend. The backend owns all recommendation intelligence;
// this client owns the wire contract, resilience (circuit breaker, rate
// limit, timeout) and response caching.
package analysis

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/mbs-selection-server/internal/domain"
)

// analyzePath uses the US spelling; this is a frozen backend contract
// detail.
const analyzePath = "/api/v1/analyze"

// minTimeout is the contractual floor: the backend may legitimately take up
// to 35 seconds to answer.
const minTimeout = 35 * time.Second

// Config represents analysis client configuration.
type Config struct {
	BaseURL   string        `json:"base_url"`
	Timeout   time.Duration `json:"timeout"`
	RateLimit int           `json:"rate_limit"` // requests per second
	CacheSize int           `json:"cache_size"` // LRU entries
	CacheTTL  time.Duration `json:"cache_ttl"`
}

// Client calls the analysis backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	rateLimit  *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	cache      *lru.Cache[string, cachedResponse]
	cacheTTL   time.Duration
	logger     *logrus.Logger
}

type cachedResponse struct {
	response  *domain.AnalyzeResponse
	expiresAt time.Time
}

// NewClient creates an analysis backend client.
func NewClient(config Config, logger *logrus.Logger) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("backend base URL is required")
	}
	if config.Timeout < minTimeout {
		config.Timeout = minTimeout
	}
	if config.RateLimit == 0 {
		config.RateLimit = 5
	}
	if config.CacheSize == 0 {
		config.CacheSize = 128
	}
	if config.CacheTTL == 0 {
		config.CacheTTL = 15 * time.Minute
	}
	if logger == nil {
		logger = logrus.New()
	}

	cache, err := lru.New[string, cachedResponse](config.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create response cache: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "analysis-backend",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			// Validation rejections are the caller's input problem, not
			// backend health; they must not trip the breaker.
			var ue *domain.UpstreamError
			if errors.As(err, &ue) {
				return ue.Kind == domain.UpstreamValidation
			}
			return err == nil
		},
	})

	return &Client{
		baseURL:    config.BaseURL,
		httpClient: &http.Client{Timeout: config.Timeout},
		rateLimit:  rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		breaker:    breaker,
		cache:      cache,
		cacheTTL:   config.CacheTTL,
		logger:     logger,
	}, nil
}

// Analyze submits a consultation note and returns ranked recommendations.
// Identical requests within the cache TTL are served from the in-process
// cache without touching the backend.
func (c *Client) Analyze(ctx context.Context, req *domain.AnalyzeRequest) (*domain.AnalyzeResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	key := cacheKey(req)
	if cached, ok := c.cache.Get(key); ok {
		if time.Now().Before(cached.expiresAt) {
			c.logger.WithField("cache_key", key[:12]).Debug("Analysis cache hit")
			return cached.response, nil
		}
		c.cache.Remove(key)
	}

	if err := c.rateLimit.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doAnalyze(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, domain.NewUpstreamError(domain.UpstreamTransient, 0,
				"analysis backend temporarily unavailable (circuit open)")
		}
		return nil, err
	}

	resp := result.(*domain.AnalyzeResponse)
	c.cache.Add(key, cachedResponse{response: resp, expiresAt: time.Now().Add(c.cacheTTL)})
	return resp, nil
}

func (c *Client) doAnalyze(ctx context.Context, req *domain.AnalyzeRequest) (*domain.AnalyzeResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+analyzePath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		kind := domain.UpstreamNetwork
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			kind = domain.UpstreamTransient
		}
		ue := domain.NewUpstreamError(kind, 0, err.Error())
		c.logger.WithError(err).WithField("kind", string(kind)).Warn("Analysis request failed")
		return nil, ue
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, domain.NewUpstreamError(domain.UpstreamNetwork, httpResp.StatusCode,
			fmt.Sprintf("failed to read response: %v", err))
	}

	switch {
	case httpResp.StatusCode == http.StatusOK:
		var resp domain.AnalyzeResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, domain.NewUpstreamError(domain.UpstreamTransient, httpResp.StatusCode,
				fmt.Sprintf("malformed success body: %v", err))
		}
		c.logger.WithFields(logrus.Fields{
			"recommendations": len(resp.Recommendations),
			"elapsed_ms":      time.Since(start).Milliseconds(),
		}).Info("Analysis completed")
		return &resp, nil

	case httpResp.StatusCode == http.StatusUnprocessableEntity:
		ue := domain.NewUpstreamError(domain.UpstreamValidation, httpResp.StatusCode,
			"analysis input rejected")
		var vr domain.AnalyzeValidationResponse
		if err := json.Unmarshal(data, &vr); err == nil {
			ue.Fields = vr.Detail
		}
		return nil, ue

	case httpResp.StatusCode >= 500:
		ue := domain.NewUpstreamError(domain.UpstreamTransient, httpResp.StatusCode,
			"analysis backend error")
		var er domain.AnalyzeErrorResponse
		if err := json.Unmarshal(data, &er); err == nil && er.Message != "" {
			ue.Message = er.Message
			ue.Detail = er.Detail
		}
		return nil, ue

	default:
		return nil, domain.NewUpstreamError(domain.UpstreamTransient, httpResp.StatusCode,
			fmt.Sprintf("unexpected status %d", httpResp.StatusCode))
	}
}

// cacheKey hashes the full request so equivalent analyses share one cache
// slot.
func cacheKey(req *domain.AnalyzeRequest) string {
	data, _ := json.Marshal(req)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
