package resilience_test

import (
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letterforge/letterforge/internal/provider/resilience"
)

type stubBreaker struct {
	state gobreaker.State
}

func (s stubBreaker) CircuitBreakerState() gobreaker.State   { return s.state }
func (s stubBreaker) CircuitBreakerCounts() gobreaker.Counts { return gobreaker.Counts{} }

func TestRegistry_TracksOutcomes(t *testing.T) {
	registry := resilience.NewRegistry()
	registry.Register("stripe", stubBreaker{state: gobreaker.StateHalfOpen})

	registry.RecordSuccess("stripe")
	registry.RecordFailure("stripe", assert.AnError)

	health := registry.Health("stripe")
	require.NotNil(t, health)
	assert.True(t, health.IsDegraded())
	require.NotNil(t, health.LastSuccessAt)
	require.NotNil(t, health.LastFailureAt)
	assert.WithinDuration(t, time.Now(), *health.LastFailureAt, time.Second)
	assert.Equal(t, assert.AnError.Error(), health.LastError)
}

func TestRegistry_AllHealthSorted(t *testing.T) {
	registry := resilience.NewRegistry()
	registry.Register("stripe", stubBreaker{})
	registry.Register("crm", stubBreaker{})
	registry.Register("email", stubBreaker{state: gobreaker.StateOpen})

	all := registry.AllHealth()
	require.Len(t, all, 3)
	assert.Equal(t, "crm", all[0].Name)
	assert.Equal(t, "email", all[1].Name)
	assert.False(t, all[1].IsHealthy())
	assert.Equal(t, "stripe", all[2].Name)
}

func TestRegistry_UnknownProvider(t *testing.T) {
	registry := resilience.NewRegistry()
	registry.RecordSuccess("missing")
	registry.RecordFailure("missing", assert.AnError)
	assert.Nil(t, registry.Health("missing"))
}
