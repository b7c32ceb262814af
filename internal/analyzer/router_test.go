package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestRouter(mode Mode, ratio, threshold float64, opts ...Option) *Router {
	return NewRouter(RouterConfig{
		Primary:          "enhanced",
		Secondary:        "original",
		Mode:             mode,
		ABRatio:          ratio,
		QualityThreshold: threshold,
	}, opts...)
}

func TestRouter_FixedAlwaysPrimary(t *testing.T) {
	r := newTestRouter(ModeFixed, 0, 0.7)

	for i := 0; i < 100; i++ {
		assert.Equal(t, "enhanced", r.Route().Backend)
	}
}

func TestRouter_ABTestBoundaryRatios(t *testing.T) {
	allPrimary := newTestRouter(ModeABTest, 1.0, 0.7)
	for i := 0; i < 100; i++ {
		assert.Equal(t, "enhanced", allPrimary.Route().Backend)
	}

	allSecondary := newTestRouter(ModeABTest, 0.0, 0.7)
	for i := 0; i < 100; i++ {
		assert.Equal(t, "original", allSecondary.Route().Backend)
	}
}

func TestRouter_ABTestUsesInjectedSource(t *testing.T) {
	draws := []float64{0.2, 0.8}
	i := 0
	r := newTestRouter(ModeABTest, 0.5, 0.7, WithRandSource(func() float64 {
		d := draws[i%len(draws)]
		i++
		return d
	}))

	assert.Equal(t, "enhanced", r.Route().Backend)
	assert.Equal(t, "original", r.Route().Backend)
}

func TestRouter_FallbackAlternatesOnce(t *testing.T) {
	r := newTestRouter(ModeFixed, 0, 0.7)

	choice := r.Route()
	fallback, ok := r.Fallback(choice)
	assert.True(t, ok)
	assert.Equal(t, "original", fallback.Backend)

	_, ok = r.Fallback(fallback)
	assert.False(t, ok, "no third backend to try")
}

func TestRouter_ABTestFallbackMirrorsChoice(t *testing.T) {
	r := newTestRouter(ModeABTest, 0.0, 0.7)

	choice := r.Route()
	assert.Equal(t, "original", choice.Backend)

	fallback, ok := r.Fallback(choice)
	assert.True(t, ok)
	assert.Equal(t, "enhanced", fallback.Backend)
}

func TestRouter_ShouldGate(t *testing.T) {
	gated := newTestRouter(ModeQualityGated, 0, 0.7)
	primary := gated.Route()

	assert.True(t, gated.ShouldGate(primary, 0.5))
	assert.False(t, gated.ShouldGate(primary, 0.7))
	assert.False(t, gated.ShouldGate(primary, 0.9))

	secondary, _ := gated.Fallback(primary)
	assert.False(t, gated.ShouldGate(secondary, 0.1), "secondary output is never gated")

	fixed := newTestRouter(ModeFixed, 0, 0.7)
	assert.False(t, fixed.ShouldGate(fixed.Route(), 0.1))
}
