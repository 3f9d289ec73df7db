package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalPair(t *testing.T) {
	a, b := CanonicalPair("u2", "u1")
	require.Equal(t, "u1", a)
	require.Equal(t, "u2", b)

	a, b = CanonicalPair("u1", "u2")
	require.Equal(t, "u1", a)
	require.Equal(t, "u2", b)
}

func TestConversationParticipants(t *testing.T) {
	conv := &Conversation{ParticipantA: "u1", ParticipantB: "u2"}

	require.True(t, conv.HasParticipant("u1"))
	require.True(t, conv.HasParticipant("u2"))
	require.False(t, conv.HasParticipant("u3"))

	require.Equal(t, "u2", conv.Peer("u1"))
	require.Equal(t, "u1", conv.Peer("u2"))
	require.Equal(t, "", conv.Peer("u3"))
}
