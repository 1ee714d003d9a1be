package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/smarttriage/platform/pkg/common/logger"
	"github.com/smarttriage/platform/pkg/common/models"
	"github.com/smarttriage/platform/pkg/gateway/httpclient"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Actions understood by the triage function.
const (
	ActionTriage            = "triage"
	ActionParseDocument     = "parse-document"
	ActionGenerateSynthetic = "generate-synthetic"
)

// Client is the remote classification procedure. Each call succeeds or fails
// as a whole.
type Client interface {
	Triage(ctx context.Context, input models.TriageInput) (models.Classification, error)
	ParseDocument(ctx context.Context, filePath string) (models.ParsedDocument, error)
	GenerateSynthetic(ctx context.Context) error
}

type Config struct {
	URL            string
	APIKey         string
	Timeout        time.Duration
	RateLimitRPS   float64
	BreakerTimeout time.Duration
}

// HTTPClient invokes the triage function over HTTP with a JSON body carrying
// an action discriminator.
type HTTPClient struct {
	url     string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

func New(cfg Config) (*HTTPClient, error) {
	if cfg.URL == "" {
		return nil, errors.New("classifier URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}

	limit := rate.Inf
	if cfg.RateLimitRPS > 0 {
		limit = rate.Limit(cfg.RateLimitRPS)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "triage-function",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// a caller giving up is not a sign the function is unhealthy
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Log.WithFields(map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	})

	return &HTTPClient{
		url:     cfg.URL,
		apiKey:  cfg.APIKey,
		http:    httpclient.New(cfg.Timeout),
		limiter: rate.NewLimiter(limit, 1),
		breaker: breaker,
	}, nil
}

func (c *HTTPClient) Triage(ctx context.Context, input models.TriageInput) (models.Classification, error) {
	var out models.Classification
	body := map[string]interface{}{"action": ActionTriage, "patient": input}
	if err := c.invoke(ctx, ActionTriage, body, &out); err != nil {
		return models.Classification{}, err
	}
	if !out.RiskLevel.Valid() {
		return models.Classification{}, &RemoteProcedureError{
			Action: ActionTriage,
			Err:    fmt.Errorf("unexpected risk level %q", out.RiskLevel),
		}
	}
	if out.ContributingFactors == nil {
		out.ContributingFactors = []models.ContributingFactor{}
	}
	return out, nil
}

func (c *HTTPClient) ParseDocument(ctx context.Context, filePath string) (models.ParsedDocument, error) {
	var out struct {
		Parsed *models.ParsedDocument `json:"parsed"`
	}
	body := map[string]interface{}{"action": ActionParseDocument, "filePath": filePath}
	if err := c.invoke(ctx, ActionParseDocument, body, &out); err != nil {
		return models.ParsedDocument{}, err
	}
	if out.Parsed == nil {
		return models.ParsedDocument{}, nil
	}
	return *out.Parsed, nil
}

func (c *HTTPClient) GenerateSynthetic(ctx context.Context) error {
	body := map[string]interface{}{"action": ActionGenerateSynthetic}
	return c.invoke(ctx, ActionGenerateSynthetic, body, nil)
}

func (c *HTTPClient) invoke(ctx context.Context, action string, body interface{}, out interface{}) error {
	start := time.Now()
	err := c.call(ctx, action, body, out)

	entry := logger.FromContext(ctx).WithFields(map[string]interface{}{
		"action":   action,
		"duration": time.Since(start).Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Warn("triage function call failed")
		return err
	}
	entry.Info("triage function call succeeded")
	return nil
}

func (c *HTTPClient) call(ctx context.Context, action string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &RemoteProcedureError{Action: action, Err: fmt.Errorf("marshal request: %w", err)}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return &RemoteProcedureError{Action: action, Err: err}
	}

	_, err = c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
		if err != nil {
			return nil, &RemoteProcedureError{Action: action, Err: err}
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, &RemoteProcedureError{Action: action, Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, &RemoteProcedureError{
				Action:     action,
				StatusCode: resp.StatusCode,
				Err:        fmt.Errorf("function returned %s: %s", resp.Status, bytes.TrimSpace(snippet)),
			}
		}

		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, &RemoteProcedureError{Action: action, Err: fmt.Errorf("decode response: %w", err)}
		}
		return nil, nil
	})
	if err == nil {
		return nil
	}

	var rpe *RemoteProcedureError
	if errors.As(err, &rpe) {
		return err
	}
	// breaker rejections (open / half-open saturation)
	return &RemoteProcedureError{Action: action, Err: err}
}

// RemoteProcedureError reports a failed call to the triage function.
type RemoteProcedureError struct {
	Action     string
	StatusCode int
	Err        error
}

func (e *RemoteProcedureError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s call failed (status %d): %v", e.Action, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s call failed: %v", e.Action, e.Err)
}

func (e *RemoteProcedureError) Unwrap() error {
	return e.Err
}

func IsRemoteProcedureError(err error) bool {
	var rpe *RemoteProcedureError
	return errors.As(err, &rpe)
}
