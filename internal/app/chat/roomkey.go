/*
Package chat contains the real-time core of the LAN chat server: the Hub
(event router), the Client (one WebSocket connection session), private-room
membership, and the wire event envelope.

This file defines room-key derivation. A room key names the private
conversation between an unordered pair of identities: it is the two
identities sorted lexicographically and joined with a separator. Sorting
makes the key symmetric, and the explicit separator makes the peer
recoverable exactly even when one identity is a substring of the other.
*/
package chat

import "strings"

// roomKeySeparator joins the two identities of a room key. Identities are
// sanitized at connect time so they can never contain it.
const roomKeySeparator = "|"

// DeriveRoomKey returns the symmetric room key for a pair of identities:
// DeriveRoomKey(a, b) == DeriveRoomKey(b, a) for all a, b.
func DeriveRoomKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + roomKeySeparator + b
}

// PeerOf recovers the other participant of a room key given one of its
// participants. Returns false if the key is malformed or self is not a
// participant.
func PeerOf(roomKey, self string) (string, bool) {
	first, second, ok := strings.Cut(roomKey, roomKeySeparator)
	if !ok {
		return "", false
	}

	switch self {
	case first:
		return second, true
	case second:
		return first, true
	}

	return "", false
}

// SanitizeIdentity makes an externally supplied identity safe for use in
// room keys by replacing the separator character.
func SanitizeIdentity(identity string) string {
	return strings.ReplaceAll(identity, roomKeySeparator, "-")
}

// roomKeyFromDescriptor resolves a join_private room descriptor. The
// descriptor is either a full room key containing the separator, or a bare
// peer identity. Returns the canonical symmetric key and the recovered peer.
func roomKeyFromDescriptor(descriptor, self string) (key, peer string, ok bool) {
	if descriptor == "" {
		return "", "", false
	}

	if strings.Contains(descriptor, roomKeySeparator) {
		peer, ok = PeerOf(descriptor, self)
		if !ok {
			return "", "", false
		}
		// Re-derive so unsorted descriptors map to the canonical key.
		return DeriveRoomKey(self, peer), peer, true
	}

	if descriptor == self {
		return "", "", false
	}

	return DeriveRoomKey(self, descriptor), descriptor, true
}
