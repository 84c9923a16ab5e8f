// Package oracle talks to the external acuity classifier.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/pkg/apperr"
)

// Observation is what the classifier sees about a patient.
type Observation struct {
	Symptoms        []string `json:"symptoms"`
	Condition       string   `json:"condition,omitempty"`
	Age             int      `json:"age,omitempty"`
	HeartRate       int      `json:"heart_rate,omitempty"`
	SystolicBP      int      `json:"systolic_bp,omitempty"`
	DiastolicBP     int      `json:"diastolic_bp,omitempty"`
	RespiratoryRate int      `json:"respiratory_rate,omitempty"`
	SpO2            float64  `json:"spo2,omitempty"`
	Temperature     float64  `json:"temperature,omitempty"`
}

// Classification is the classifier's verdict.
type Classification struct {
	AcuityLevel        int      `json:"esi_level"`
	Category           string   `json:"target_category"`
	Rationale          string   `json:"rationale"`
	RecommendedActions []string `json:"recommended_actions"`
	Fallback           bool     `json:"fallback"`
}

// Fallback is returned whenever the classifier cannot answer.
var Fallback = Classification{
	AcuityLevel: 3,
	Category:    "emergency",
	Rationale:   "acuity oracle unavailable; default triage applied",
	Fallback:    true,
}

// ValidLevel reports whether level is an acuity level the engine accepts.
func ValidLevel(level int) bool {
	return level >= 1 && level <= 5
}

// Classifier assigns an acuity level and target category.
type Classifier interface {
	Classify(ctx context.Context, obs Observation) (Classification, error)
}

// HTTPConfig configures HTTPClassifier.
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// Breaker trips after this many consecutive failures.
	MaxFailures uint32
	// OpenFor is how long the breaker stays open before probing again.
	OpenFor time.Duration
}

// HTTPClassifier calls a JSON classification endpoint behind a circuit
// breaker.
type HTTPClassifier struct {
	client  *resty.Client
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
}

// NewHTTPClassifier creates a classifier for cfg.BaseURL.
func NewHTTPClassifier(cfg HTTPConfig, logger zerolog.Logger) *HTTPClassifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = 30 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	log := logger.With().Str("component", "acuity_oracle").Logger()
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "acuity-oracle",
		Timeout: cfg.OpenFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})

	return &HTTPClassifier{client: client, breaker: breaker, logger: log}
}

// Classify posts the observation to /classify.
func (c *HTTPClassifier) Classify(ctx context.Context, obs Observation) (Classification, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		var result Classification
		resp, err := c.client.R().
			SetContext(ctx).
			SetBody(obs).
			SetResult(&result).
			Post("/classify")
		if err != nil {
			return nil, fmt.Errorf("call acuity oracle: %w", err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("acuity oracle returned status %d", resp.StatusCode())
		}
		if !ValidLevel(result.AcuityLevel) {
			return nil, fmt.Errorf("acuity oracle returned level %d", result.AcuityLevel)
		}
		return result, nil
	})
	if err != nil {
		return Classification{}, apperr.DependencyUnavailable("acuity oracle unavailable", err)
	}
	return out.(Classification), nil
}

// Guarded wraps a classifier so it always answers within a deadline and
// never fails.
type Guarded struct {
	inner      Classifier
	timeout    time.Duration
	logger     zerolog.Logger
	onFallback func()
}

// WithFallback bounds every call to inner by timeout and substitutes
// Fallback on any error. inner may be nil, in which case Fallback is always
// returned.
func WithFallback(inner Classifier, timeout time.Duration, logger zerolog.Logger) *Guarded {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Guarded{inner: inner, timeout: timeout, logger: logger}
}

// OnFallback registers a hook run whenever the fallback is used.
func (g *Guarded) OnFallback(fn func()) *Guarded {
	g.onFallback = fn
	return g
}

// Classify never returns an error. Answers with a level outside 1..5 are
// treated as failures.
func (g *Guarded) Classify(ctx context.Context, obs Observation) (Classification, error) {
	if g.inner == nil {
		return g.fallback(errors.New("no classifier configured")), nil
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type result struct {
		c   Classification
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("classifier panic: %v", r)}
			}
		}()
		c, err := g.inner.Classify(ctx, obs)
		done <- result{c, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return g.fallback(r.err), nil
		}
		if !ValidLevel(r.c.AcuityLevel) {
			return g.fallback(fmt.Errorf("classifier returned level %d", r.c.AcuityLevel)), nil
		}
		return r.c, nil
	case <-ctx.Done():
		return g.fallback(ctx.Err()), nil
	}
}

func (g *Guarded) fallback(cause error) Classification {
	g.logger.Warn().Err(cause).Msg("acuity oracle fallback used")
	if g.onFallback != nil {
		g.onFallback()
	}
	return Fallback
}
