package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassOfWrappedError(t *testing.T) {
	cause := errors.New("address in use")
	err := fmt.Errorf("publisher: %w", Startup("bind tcp://127.0.0.1:7899", cause))

	class, ok := ClassOf(err)
	require.True(t, ok)
	assert.Equal(t, ClassStartup, class)
	assert.True(t, IsStartup(err))
	assert.False(t, IsRuntime(err))
	assert.ErrorIs(t, err, cause)
}

func TestClassOfPlainError(t *testing.T) {
	_, ok := ClassOf(errors.New("plain"))
	assert.False(t, ok)
	assert.False(t, IsStartup(nil))
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "runtime: send UDP2: boom", Runtime("send UDP2", errors.New("boom")).Error())
	assert.Equal(t, "recoverable: decode", Recoverable("decode", nil).Error())
}
