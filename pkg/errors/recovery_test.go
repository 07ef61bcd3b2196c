package errors

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecover(t *testing.T) {
	t.Run("panic becomes PanicError", func(t *testing.T) {
		fn := func() (err error) {
			defer Recover(&err, "Predictor.Predict")
			panic("index out of range")
		}

		err := fn()
		require.Error(t, err)

		var panicErr *PanicError
		require.True(t, As(err, &panicErr))
		assert.Equal(t, "Predictor.Predict", panicErr.Operation)
		assert.Equal(t, "index out of range", panicErr.PanicValue)
		assert.NotEmpty(t, panicErr.StackTrace)
		assert.Equal(t, "panic in Predictor.Predict: index out of range", panicErr.Error())
		assert.Contains(t, panicErr.String(), "Stack trace:")
	})

	t.Run("no panic leaves nil error", func(t *testing.T) {
		fn := func() (err error) {
			defer Recover(&err, "noop")
			return nil
		}
		assert.NoError(t, fn())
	})

	t.Run("existing error is kept as cause", func(t *testing.T) {
		original := fmt.Errorf("artifact missing")
		fn := func() (err error) {
			defer Recover(&err, "Load")
			err = original
			panic("boom")
		}

		err := fn()
		require.Error(t, err)
		assert.True(t, strings.Contains(err.Error(), "panic in Load"))
		assert.True(t, Is(err, original))
	})
}

func TestSafeExecute(t *testing.T) {
	assert.NoError(t, SafeExecute("ok", func() error { return nil }))

	sentinel := fmt.Errorf("plain failure")
	assert.Equal(t, sentinel, SafeExecute("fail", func() error { return sentinel }))

	err := SafeExecute("explode", func() error {
		var m map[string]int
		m["x"] = 1
		return nil
	})
	var panicErr *PanicError
	require.True(t, As(err, &panicErr))
	assert.Equal(t, "explode", panicErr.Operation)
}
