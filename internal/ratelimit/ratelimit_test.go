package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/talemon/core/config"
)

func TestLocalLimiter_AdmitsUpToWindowLimitThenDenies(t *testing.T) {
	l := NewLocalLimiter(&config.RateLimitConfig{RequestsPerWindow: 2, Window: time.Minute})

	assert.True(t, l.Admit("a.example"))
	assert.True(t, l.Admit("a.example"))
	assert.False(t, l.Admit("a.example"))
}

func TestLocalLimiter_TracksDomainsIndependently(t *testing.T) {
	l := NewLocalLimiter(&config.RateLimitConfig{RequestsPerWindow: 1, Window: time.Minute})

	assert.True(t, l.Admit("a.example"))
	assert.True(t, l.Admit("b.example"))
	assert.False(t, l.Admit("a.example"))
}

func TestNew_DefaultsToLocalBackend(t *testing.T) {
	l := New(&config.RateLimitConfig{Backend: "", RequestsPerWindow: 1, Window: time.Minute})
	_, ok := l.(*LocalLimiter)
	assert.True(t, ok)
}

func TestNew_NilConfigFallsBackToLocalLimiter(t *testing.T) {
	l := New(nil)
	_, ok := l.(*LocalLimiter)
	assert.True(t, ok)
}
