package neural_network

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEarlyStopping(t *testing.T) {
	es := NewEarlyStopping(2, "val_loss")
	assert.True(t, es.Minimize)

	assert.True(t, es.Update(0, 1.0))
	assert.True(t, es.Update(1, 0.8))
	assert.False(t, es.Update(2, 0.9))
	assert.False(t, es.ShouldStop())
	assert.False(t, es.Update(3, 0.8))
	assert.True(t, es.ShouldStop())
	assert.Equal(t, 1, es.BestEpoch)

	acc := NewEarlyStopping(1, "val_accuracy")
	assert.False(t, acc.Minimize)
	assert.True(t, acc.Update(0, 0.5))
	assert.False(t, acc.Update(1, 0.4))
	assert.True(t, acc.ShouldStop())

	disabled := NewEarlyStopping(0, "val_loss")
	assert.False(t, disabled.Update(0, 1))
	assert.False(t, disabled.ShouldStop())
}
