package flood

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartPollLine(t *testing.T) {
	n := newFakeNet(t, lineEdges("A", "B", "C", "D"))

	votes, err := n.engine("A").StartPoll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[PeerID]bool{
		"A": fixedVote("A"),
		"B": fixedVote("B"),
		"C": fixedVote("C"),
		"D": fixedVote("D"),
	}, votes)

	// polls carry no application payload
	for _, p := range []PeerID{"A", "B", "C", "D"} {
		assert.Empty(t, n.delivered(p))
	}
}

func TestStartPollCompleteGraph(t *testing.T) {
	peers := []PeerID{"A", "B", "C", "D", "E", "F"}
	n := newFakeNet(t, completeEdges(peers...))

	votes, err := n.engine("D").StartPoll(context.Background())
	require.NoError(t, err)
	require.Len(t, votes, len(peers))
	for _, p := range peers {
		assert.Equal(t, fixedVote(p), votes[p], "peer %s", p)
	}
}

func TestStartPollWithDeadBranch(t *testing.T) {
	n := newFakeNet(t, [][2]PeerID{{"A", "B"}, {"A", "C"}, {"C", "D"}})
	n.breakLink("A", "C")

	votes, err := n.engine("A").StartPoll(context.Background())
	require.NoError(t, err)
	assert.Len(t, votes, 2)
	assert.Contains(t, votes, PeerID("A"))
	assert.Contains(t, votes, PeerID("B"))
}

func TestDiscoverTopology(t *testing.T) {
	edges := append(lineEdges("A", "B", "C", "D"), [2]PeerID{"B", "D"})
	n := newFakeNet(t, edges)

	adj, err := n.engine("A").DiscoverTopology(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[PeerID][]PeerID{
		"A": {"B"},
		"B": {"A", "C", "D"},
		"C": {"B", "D"},
		"D": {"B", "C"},
	}, adj)
}
