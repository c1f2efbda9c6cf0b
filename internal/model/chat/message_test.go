package chat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatus_Ladder(t *testing.T) {
	req := require.New(t)

	// sent < delivered < read, forward only
	req.True(StatusDelivered.AtOrPast(StatusSent))
	req.True(StatusRead.AtOrPast(StatusDelivered))
	req.True(StatusRead.AtOrPast(StatusRead))

	req.False(StatusSent.AtOrPast(StatusDelivered))
	req.False(StatusDelivered.AtOrPast(StatusRead))
}

func TestStatus_Known(t *testing.T) {
	req := require.New(t)

	req.True(StatusSent.Known())
	req.True(StatusDelivered.Known())
	req.True(StatusRead.Known())
	req.False(Status("archived").Known())
	req.False(Status("").Known())
}
