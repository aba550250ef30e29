package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRelayRejectedError(t *testing.T) {
	cause := errors.New("invalid transaction nonce")
	err := fmt.Errorf("submit: %w", NewRelayRejectedError(cause))

	require.True(t, IsRelayRejected(err))
	require.ErrorIs(t, err, cause)
	require.Equal(t, "submit: relay rejected: invalid transaction nonce", err.Error())

	var rejected *RelayRejectedError
	require.ErrorAs(t, err, &rejected)
	require.Equal(t, "invalid transaction nonce", rejected.Reason)
}

func TestIsRelayRejectedSentinels(t *testing.T) {
	require.False(t, IsRelayRejected(ErrNotFound))
	require.False(t, IsRelayRejected(nil))
	require.NotErrorIs(t, ErrDuplicate, ErrAlreadyKnown)
}
