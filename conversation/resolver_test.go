package conversation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tokoroten/noveldrive/types"
)

func fixedResolver(pick int) *SpeakerResolver {
	return &SpeakerResolver{randIndex: func(n int) int { return pick % n }}
}

func TestResolve_User(t *testing.T) {
	r := NewSpeakerResolver()
	res := r.Resolve(types.NextSpeaker{Type: types.NextUser}, types.Roster{"alice", "bob"}, "alice", false)
	require.True(t, res.WaitForUser)
	require.Empty(t, res.NextAgentID)
	require.Empty(t, res.Notes)
}

func TestResolve_SpecificValid(t *testing.T) {
	r := NewSpeakerResolver()
	res := r.Resolve(types.NextSpeaker{Type: types.NextSpecific, AgentID: "bob"}, types.Roster{"alice", "bob"}, "alice", false)
	require.Equal(t, "bob", res.NextAgentID)
	require.False(t, res.WaitForUser)
}

func TestResolve_SpecificInvalidYieldsToUser(t *testing.T) {
	r := NewSpeakerResolver()
	res := r.Resolve(types.NextSpeaker{Type: types.NextSpecific, AgentID: "ghost"}, types.Roster{"alice", "bob"}, "alice", false)
	require.True(t, res.WaitForUser)
	require.Len(t, res.Notes, 1)
	require.Equal(t, types.SpeakerSystem, res.Notes[0].SpeakerID)
	require.Contains(t, res.Notes[0].Message, "ghost")
}

func TestResolve_SpecificInvalidObserverModeSelfContinues(t *testing.T) {
	r := NewSpeakerResolver()
	res := r.Resolve(types.NextSpeaker{Type: types.NextSpecific, AgentID: "ghost"}, types.Roster{"alice", "bob"}, "alice", true)
	require.Equal(t, "alice", res.NextAgentID)
	require.Len(t, res.Notes, 1)
}

func TestResolve_SpecificInvalidObserverModeActorGoneFallsBackToRandom(t *testing.T) {
	r := fixedResolver(0)
	res := r.Resolve(types.NextSpeaker{Type: types.NextSpecific, AgentID: "ghost"}, types.Roster{"bob"}, "alice", true)
	require.Equal(t, "bob", res.NextAgentID)
}

func TestResolve_RandomStaysOnRoster(t *testing.T) {
	r := NewSpeakerResolver()
	roster := types.Roster{"alice", "bob", "carol"}
	for i := 0; i < 50; i++ {
		res := r.Resolve(types.NextSpeaker{Type: types.NextRandom}, roster, "alice", false)
		require.True(t, roster.Contains(res.NextAgentID))
	}
}

func TestResolve_EmptyRosterWaitsForUser(t *testing.T) {
	r := NewSpeakerResolver()
	res := r.Resolve(types.NextSpeaker{Type: types.NextRandom}, nil, "alice", false)
	require.True(t, res.WaitForUser)
}

func TestPickRandom_ExcludeSkipped(t *testing.T) {
	r := NewSpeakerResolver()
	roster := types.Roster{"alice", "bob"}
	for i := 0; i < 50; i++ {
		require.Equal(t, "bob", r.PickRandom(roster, "alice"))
	}
}

func TestPickRandom_SingleMemberIgnoresExclude(t *testing.T) {
	r := NewSpeakerResolver()
	require.Equal(t, "alice", r.PickRandom(types.Roster{"alice"}, "alice"))
}
