package session

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCorrelationIDShape(t *testing.T) {
	pattern := regexp.MustCompile(`^[0-9]{12}$`)
	for i := 0; i < 100; i++ {
		id := NewCorrelationID()
		require.Regexp(t, pattern, id)
	}
}

func TestNewCorrelationIDDistinct(t *testing.T) {
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		id := NewCorrelationID()
		_, dup := seen[id]
		require.False(t, dup, "collision after %d draws: %s", i, id)
		seen[id] = struct{}{}
	}
}

func TestDialAddress(t *testing.T) {
	assert.Equal(t, "7804123456789012@example.com",
		DialAddress("7804", "123456789012", "example.com"))
}
