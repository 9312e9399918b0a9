package tombflow_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/artificial-james/tombflow"
)

func TestStreamError(t *testing.T) {
	t.Run("Is By Code", func(t *testing.T) {
		err := tombflow.NewError(tombflow.CodeDataClone, "func payload", errBoom)

		assert.ErrorIs(t, err, tombflow.ErrDataClone)
		assert.ErrorIs(t, err, errBoom)
		assert.NotErrorIs(t, err, tombflow.ErrClosed)
		assert.Equal(t, "func payload: boom", err.Error())
	})
	t.Run("Wrapped", func(t *testing.T) {
		err := fmt.Errorf("write: %w", tombflow.ErrChannelClosed)

		assert.Equal(t, tombflow.CodeChannelClosed, tombflow.CodeOf(err))
		assert.True(t, tombflow.IsChannelError(err))
		assert.False(t, tombflow.IsProtocolError(err))
		assert.Equal(t, tombflow.Code(""), tombflow.CodeOf(errors.New("plain")))
	})
	t.Run("Categories", func(t *testing.T) {
		assert.True(t, tombflow.IsProtocolError(tombflow.ErrLocked))
		assert.True(t, tombflow.IsProtocolError(tombflow.ErrClosed))
		assert.True(t, tombflow.IsCancellation(tombflow.ErrCanceled))
		assert.True(t, tombflow.IsCancellation(context.Canceled))
		assert.True(t, tombflow.IsChannelError(tombflow.ErrDataClone))
		assert.False(t, tombflow.IsCancellation(errBoom))
	})
}
