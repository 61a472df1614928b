package handler_test

import (
	"testing"
	"time"

	"github.com/neuropathbasel/cqmanager/internal/api/handler"
	"github.com/stretchr/testify/assert"
)

func TestCooldown_KeysAreIndependent(t *testing.T) {
	cooldown := handler.NewCooldown(time.Hour)

	_, ok := cooldown.Try("a")
	assert.True(t, ok)
	_, ok = cooldown.Try("b")
	assert.True(t, ok, "a different key must not be affected")

	remaining, ok := cooldown.Try("a")
	assert.False(t, ok)
	assert.Greater(t, remaining, time.Duration(0))
}

func TestCooldown_ExpiresAfterWindow(t *testing.T) {
	cooldown := handler.NewCooldown(5 * time.Millisecond)

	_, ok := cooldown.Try("a")
	assert.True(t, ok)

	time.Sleep(10 * time.Millisecond)
	_, ok = cooldown.Try("a")
	assert.True(t, ok)
}
