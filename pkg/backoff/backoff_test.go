package backoff_test

import (
	"testing"
	"time"

	"github.com/WelcomerTeam/Sandwich-Transport/pkg/backoff"
	"github.com/stretchr/testify/assert"
)

func TestCeilingDoublesUntilCap(t *testing.T) {
	t.Parallel()

	policy := backoff.NewPolicy(time.Second, 10*time.Second)

	assert.Equal(t, time.Second, policy.Ceiling(0))
	assert.Equal(t, 2*time.Second, policy.Ceiling(1))
	assert.Equal(t, 8*time.Second, policy.Ceiling(3))
	assert.Equal(t, 10*time.Second, policy.Ceiling(4))
	assert.Equal(t, 10*time.Second, policy.Ceiling(500))
}

func TestDelayStaysWithinBounds(t *testing.T) {
	t.Parallel()

	policy := backoff.NewPolicy(100*time.Millisecond, 5*time.Second)

	for attempt := 0; attempt < 20; attempt++ {
		for i := 0; i < 50; i++ {
			delay := policy.Delay(attempt)

			assert.GreaterOrEqual(t, delay, 100*time.Millisecond)
			assert.LessOrEqual(t, delay, policy.Ceiling(attempt))
		}
	}
}

func TestDelayUsesJitterSource(t *testing.T) {
	t.Parallel()

	policy := backoff.NewPolicy(time.Second, time.Minute)

	policy.Random = func() float64 { return 0 }
	assert.Equal(t, time.Second, policy.Delay(3))

	policy.Random = func() float64 { return 0.5 }
	assert.InDelta(t, float64(4500*time.Millisecond), float64(policy.Delay(3)), float64(time.Millisecond))
}

func TestNextAdvancesAndReset(t *testing.T) {
	t.Parallel()

	policy := backoff.NewPolicy(time.Second, time.Minute)
	policy.Random = func() float64 { return 0.999999 }

	first := policy.Next()
	second := policy.Next()
	third := policy.Next()

	assert.Equal(t, 3, policy.Attempt())
	assert.LessOrEqual(t, first, time.Second)
	assert.LessOrEqual(t, second, 2*time.Second)
	assert.Greater(t, third, 2*time.Second)

	policy.Reset()

	assert.Equal(t, 0, policy.Attempt())
	assert.Equal(t, time.Second, policy.Next())
}

func TestNewPolicyDefaults(t *testing.T) {
	t.Parallel()

	policy := backoff.NewPolicy(0, 0)

	assert.Equal(t, backoff.DefaultBase, policy.Ceiling(0))
	assert.Equal(t, backoff.DefaultCap, policy.Ceiling(100))
}
