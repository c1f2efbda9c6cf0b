package chat

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestConversationID_Symmetric(t *testing.T) {
	req := require.New(t)

	for i := 0; i < 50; i++ {
		a := uuid.NewString()
		b := uuid.NewString()

		// Both participants must resolve to the same thread no matter
		// who initiates.
		req.Equal(ConversationID(a, b), ConversationID(b, a))
	}
}

func TestConversationID_DistinctPairs(t *testing.T) {
	req := require.New(t)

	req.NotEqual(ConversationID("alice", "bob"), ConversationID("alice", "carol"))
	req.Equal("conv:alice:bob", ConversationID("bob", "alice"))
}
