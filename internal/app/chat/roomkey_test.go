package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_DeriveRoomKey_Is_Symmetric(t *testing.T) {
	pairs := [][2]string{
		{"10.0.0.1", "10.0.0.2"},
		{"192.168.1.20", "192.168.1.3"},
		{"alice", "bob"},
		{"same", "same"},
	}

	for _, pair := range pairs {
		assert.Equal(t, DeriveRoomKey(pair[0], pair[1]), DeriveRoomKey(pair[1], pair[0]),
			"key for (%s, %s) must not depend on argument order", pair[0], pair[1])
	}
}

func Test_PeerOf_Recovers_Exact_Peer(t *testing.T) {
	req := require.New(t)

	key := DeriveRoomKey("10.0.0.5", "10.0.0.9")

	peer, ok := PeerOf(key, "10.0.0.5")
	req.True(ok)
	req.Equal("10.0.0.9", peer)

	peer, ok = PeerOf(key, "10.0.0.9")
	req.True(ok)
	req.Equal("10.0.0.5", peer)

	_, ok = PeerOf(key, "10.0.0.7")
	req.False(ok)

	_, ok = PeerOf("no-separator-here", "10.0.0.5")
	req.False(ok)
}

// Identities where one is a prefix of the other used to be ambiguous under
// substring-based recovery; the explicit separator must resolve them exactly.
func Test_PeerOf_Handles_Substring_Identities(t *testing.T) {
	req := require.New(t)

	key := DeriveRoomKey("10.0.0.1", "10.0.0.10")

	peer, ok := PeerOf(key, "10.0.0.1")
	req.True(ok)
	req.Equal("10.0.0.10", peer)

	peer, ok = PeerOf(key, "10.0.0.10")
	req.True(ok)
	req.Equal("10.0.0.1", peer)
}

func Test_RoomKeyFromDescriptor(t *testing.T) {
	tests := []struct {
		name       string
		descriptor string
		self       string
		wantKey    string
		wantPeer   string
		wantOK     bool
	}{
		{
			name:       "bare peer identity",
			descriptor: "10.0.0.9",
			self:       "10.0.0.5",
			wantKey:    "10.0.0.5|10.0.0.9",
			wantPeer:   "10.0.0.9",
			wantOK:     true,
		},
		{
			name:       "full room key",
			descriptor: "10.0.0.5|10.0.0.9",
			self:       "10.0.0.9",
			wantKey:    "10.0.0.5|10.0.0.9",
			wantPeer:   "10.0.0.5",
			wantOK:     true,
		},
		{
			name:       "unsorted full key is canonicalized",
			descriptor: "10.0.0.9|10.0.0.5",
			self:       "10.0.0.5",
			wantKey:    "10.0.0.5|10.0.0.9",
			wantPeer:   "10.0.0.9",
			wantOK:     true,
		},
		{
			name:       "key not containing self is rejected",
			descriptor: "10.0.0.1|10.0.0.2",
			self:       "10.0.0.5",
			wantOK:     false,
		},
		{
			name:       "empty descriptor is rejected",
			descriptor: "",
			self:       "10.0.0.5",
			wantOK:     false,
		},
		{
			name:       "self as peer is rejected",
			descriptor: "10.0.0.5",
			self:       "10.0.0.5",
			wantOK:     false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			key, peer, ok := roomKeyFromDescriptor(tc.descriptor, tc.self)
			require.Equal(t, tc.wantOK, ok)
			if tc.wantOK {
				require.Equal(t, tc.wantKey, key)
				require.Equal(t, tc.wantPeer, peer)
			}
		})
	}
}

func Test_SanitizeIdentity_Strips_Separator(t *testing.T) {
	assert.Equal(t, "10.0.0.5", SanitizeIdentity("10.0.0.5"))
	assert.Equal(t, "a-b", SanitizeIdentity("a|b"))
}
