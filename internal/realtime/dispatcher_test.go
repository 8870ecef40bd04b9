package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUintFrom(t *testing.T) {
	t.Run("ValidNumber", func(t *testing.T) {
		// JSON numbers decode as float64.
		value, err := uintFrom(map[string]interface{}{"message_id": float64(42)}, "message_id")
		require.NoError(t, err)
		assert.Equal(t, uint(42), value)
	})

	t.Run("MissingKey", func(t *testing.T) {
		_, err := uintFrom(map[string]interface{}{}, "message_id")
		assert.ErrorContains(t, err, "message_id is required")
	})

	t.Run("WrongType", func(t *testing.T) {
		_, err := uintFrom(map[string]interface{}{"message_id": "42"}, "message_id")
		assert.ErrorContains(t, err, "non-negative number")
	})

	t.Run("NegativeNumber", func(t *testing.T) {
		_, err := uintFrom(map[string]interface{}{"message_id": float64(-1)}, "message_id")
		assert.ErrorContains(t, err, "non-negative number")
	})
}

func TestMessageIDFrom(t *testing.T) {
	value, err := messageIDFrom(map[string]interface{}{"message_id": float64(7)})
	require.NoError(t, err)
	assert.Equal(t, uint(7), value)
}
