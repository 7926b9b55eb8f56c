package call

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSupervisorIdleUntilStarted(t *testing.T) {
	sv := NewSupervisor(5)
	assert.Equal(t, VerdictIdle, sv.Tick(false))
	assert.Equal(t, 0, sv.Attempts())
}

func TestSupervisorStartOnce(t *testing.T) {
	sv := NewSupervisor(5)
	assert.True(t, sv.Start())
	sv.Tick(false)
	assert.False(t, sv.Start())
	assert.Equal(t, 1, sv.Attempts())
}

func TestSupervisorExhausts(t *testing.T) {
	sv := NewSupervisor(5)
	sv.Start()

	for i := 1; i < 5; i++ {
		assert.Equal(t, VerdictContinue, sv.Tick(false), "tick %d", i)
	}
	assert.Equal(t, VerdictExhausted, sv.Tick(false))
	assert.Equal(t, 5, sv.Attempts())
	assert.False(t, sv.Active())

	// Exhaustion is reported once
	assert.Equal(t, VerdictIdle, sv.Tick(false))
}

func TestSupervisorRecovers(t *testing.T) {
	sv := NewSupervisor(5)
	sv.Start()

	assert.Equal(t, VerdictContinue, sv.Tick(false))
	assert.Equal(t, VerdictRecovered, sv.Tick(true))
	assert.False(t, sv.Active())
	assert.Equal(t, 2, sv.Attempts())

	sv.Reset()
	assert.Equal(t, 0, sv.Attempts())
	assert.True(t, sv.Start())
}

func TestSupervisorRecoveredOnLastAttempt(t *testing.T) {
	sv := NewSupervisor(2)
	sv.Start()
	sv.Tick(false)
	assert.Equal(t, VerdictRecovered, sv.Tick(true))
}
