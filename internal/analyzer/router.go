package analyzer

import "math/rand"

// Mode selects the routing policy between the two configured backends.
type Mode string

const (
	// ModeFixed always routes to the primary backend.
	ModeFixed Mode = "fixed"
	// ModeABTest routes to the primary with the configured probability,
	// drawn once per request. Retries of the same request reuse the draw.
	ModeABTest Mode = "ab-test"
	// ModeQualityGated routes to the primary first and switches to the
	// secondary when the primary's output scores below the threshold.
	ModeQualityGated Mode = "quality-gated"
)

// Choice is a pinned backend selection for one request. The analyzer
// passes it down every attempt of that request; the draw is never
// repeated mid-flight.
type Choice struct {
	Backend  string
	fallback string
}

// RouterConfig configures a Router.
type RouterConfig struct {
	Primary          string
	Secondary        string
	Mode             Mode
	ABRatio          float64
	QualityThreshold float64
}

// Router decides which backend an analysis request goes to, and which
// backend to try next after a backend-level failure or a quality miss.
// It never retries failures itself.
type Router struct {
	primary   string
	secondary string
	mode      Mode
	ratio     float64
	threshold float64
	draw      func() float64
}

// Option configures a Router.
type Option func(*Router)

// WithRandSource replaces the uniform random source used by ab-test mode.
func WithRandSource(draw func() float64) Option {
	return func(r *Router) {
		r.draw = draw
	}
}

func NewRouter(cfg RouterConfig, opts ...Option) *Router {
	r := &Router{
		primary:   cfg.Primary,
		secondary: cfg.Secondary,
		mode:      cfg.Mode,
		ratio:     cfg.ABRatio,
		threshold: cfg.QualityThreshold,
		draw:      rand.Float64,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route selects the backend for a new request.
func (r *Router) Route() Choice {
	switch r.mode {
	case ModeABTest:
		if r.draw() < r.ratio {
			return Choice{Backend: r.primary, fallback: r.secondary}
		}
		return Choice{Backend: r.secondary, fallback: r.primary}
	default:
		return Choice{Backend: r.primary, fallback: r.secondary}
	}
}

// Fallback returns the backend to try after the chosen one failed or
// missed the quality gate. ok is false when no alternative remains.
func (r *Router) Fallback(c Choice) (Choice, bool) {
	if c.fallback == "" {
		return Choice{}, false
	}
	return Choice{Backend: c.fallback}, true
}

// ShouldGate reports whether the score of the chosen backend's output
// requires a second request to the fallback. Only the quality-gated mode
// gates, and only output of the configured primary.
func (r *Router) ShouldGate(c Choice, score float64) bool {
	return r.mode == ModeQualityGated && c.Backend == r.primary && score < r.threshold
}

// Threshold returns the quality-gate threshold.
func (r *Router) Threshold() float64 {
	return r.threshold
}
