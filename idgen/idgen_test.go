package idgen

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUUIDV7(t *testing.T) {
	t.Run("格式合法且版本正确", func(t *testing.T) {
		id, err := uuid.Parse(NewUUIDV7())
		require.NoError(t, err)
		assert.Equal(t, uuid.Version(7), id.Version())
	})

	t.Run("时间有序", func(t *testing.T) {
		a := NewUUIDV7()
		b := NewUUIDV7()
		assert.NotEqual(t, a, b)
		// v7 前 48 位是毫秒时间戳，字典序即时间序
		assert.LessOrEqual(t, a, b)
	})
}

func TestNewUUIDV4(t *testing.T) {
	id, err := uuid.Parse(NewUUIDV4())
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), id.Version())
}
