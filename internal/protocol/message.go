// Package protocol implements the PICORadar wire codec.
//
// Each application-level message travels as one discrete binary frame on
// the transport. The codec serialises and parses the four message
// variants; it does not impose framing of its own.
package protocol

import "fmt"

// Version is the wire protocol version carried in byte 0 of every message.
const Version uint8 = 1

// MaxMessageSize is the maximum encoded size of a single message in bytes.
// Oversized inbound messages are a policy violation and close the session.
const MaxMessageSize = 64 * 1024

// MaxStringLen is the maximum byte length of any string field. Strings are
// length-prefixed with a uint16, so this is the natural wire ceiling.
const MaxStringLen = 0xFFFF

// headerSize is the fixed message prefix: version byte + type byte.
const headerSize = 2

// MsgType identifies the message variant carried in byte 1.
type MsgType uint8

const (
	// TypeAuthRequest is sent peer -> server, once per connection.
	TypeAuthRequest MsgType = 1

	// TypeAuthResponse is sent server -> peer, once per connection.
	TypeAuthResponse MsgType = 2

	// TypePoseUpdate is sent peer -> server after authentication.
	TypePoseUpdate MsgType = 3

	// TypeRosterUpdate is sent server -> peer on each broadcast tick.
	TypeRosterUpdate MsgType = 4
)

// String returns the human-readable name for the message type.
func (t MsgType) String() string {
	switch t {
	case TypeAuthRequest:
		return "AuthRequest"
	case TypeAuthResponse:
		return "AuthResponse"
	case TypePoseUpdate:
		return "PoseUpdate"
	case TypeRosterUpdate:
		return "RosterUpdate"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
}

// Vec3 is a position in scene coordinates.
type Vec3 struct {
	X, Y, Z float32
}

// Quat is a rotation quaternion. The server treats the components as
// opaque; NaN and non-normalised values pass through unchanged.
type Quat struct {
	X, Y, Z, W float32
}

// Pose is a player's position, rotation, scene id, and timestamp at one
// instant. Timestamps are peer-authored and carried as opaque metadata.
type Pose struct {
	Position    Vec3
	Rotation    Quat
	SceneID     string
	TimestampMS int64
}

// PlayerEntry pairs a player id with its latest pose inside a roster.
type PlayerEntry struct {
	PlayerID string
	Pose     Pose
}

// Message is the sum type of the four wire variants.
type Message interface {
	// Type returns the wire discriminator for this variant.
	Type() MsgType
}

// AuthRequest authenticates a connection. Sent exactly once, first.
type AuthRequest struct {
	PlayerID string
	Token    string
}

// AuthResponse reports the authentication outcome.
type AuthResponse struct {
	OK     bool
	Reason string
}

// PoseUpdate carries the sender's latest pose.
type PoseUpdate struct {
	Pose Pose
}

// RosterUpdate carries the complete roster. The recipient's own entry is
// included; clients discard it if they wish.
type RosterUpdate struct {
	Players []PlayerEntry
}

// Type implements Message.
func (AuthRequest) Type() MsgType { return TypeAuthRequest }

// Type implements Message.
func (AuthResponse) Type() MsgType { return TypeAuthResponse }

// Type implements Message.
func (PoseUpdate) Type() MsgType { return TypePoseUpdate }

// Type implements Message.
func (RosterUpdate) Type() MsgType { return TypeRosterUpdate }
