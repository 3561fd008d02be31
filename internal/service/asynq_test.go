package service

import (
	"errors"
	"fmt"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
)

func TestSkipPermanent(t *testing.T) {
	broken := fmt.Errorf("failed to make thumbnail for asset 1, %w", ErrUndecodableImage)
	assert.ErrorIs(t, skipPermanent(broken), asynq.SkipRetry)
	assert.ErrorIs(t, skipPermanent(broken), ErrUndecodableImage)

	assert.ErrorIs(t, skipPermanent(ErrImageTooLarge), asynq.SkipRetry)

	flaky := errors.New("connection reset")
	assert.Equal(t, flaky, skipPermanent(flaky))
	assert.NoError(t, skipPermanent(nil))
}
