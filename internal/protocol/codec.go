package protocol

// This file implements the binary marshal/unmarshal for the four message
// variants. All multi-byte integers are big-endian. Strings are prefixed
// with a uint16 byte length and must be valid UTF-8. Floats travel as
// IEEE-754 bits; NaN is accepted on both sides.
//
// Wire layout:
//
//	Byte 0:  Version (1)
//	Byte 1:  MsgType
//	Bytes 2+: variant body
//
//	AuthRequest:  string player_id | string token
//	AuthResponse: uint8 ok | string reason
//	PoseUpdate:   pose
//	RosterUpdate: uint16 count | count x (string player_id | pose)
//
//	pose: 3 x float32 position | 4 x float32 rotation |
//	      string scene_id | int64 timestamp_ms

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"
)

// Codec errors.
var (
	// ErrTruncated indicates the buffer ended before the message did.
	ErrTruncated = errors.New("truncated message")

	// ErrBadVersion indicates an unsupported protocol version byte.
	ErrBadVersion = errors.New("unsupported protocol version")

	// ErrUnknownType indicates an unrecognised message type byte.
	ErrUnknownType = errors.New("unknown message type")

	// ErrInvalidUTF8 indicates a string field that is not valid UTF-8.
	ErrInvalidUTF8 = errors.New("string field is not valid UTF-8")

	// ErrStringTooLong indicates a string field exceeding the uint16
	// length prefix.
	ErrStringTooLong = errors.New("string field exceeds wire limit")

	// ErrTooLarge indicates a message exceeding MaxMessageSize.
	ErrTooLarge = errors.New("message exceeds maximum size")

	// ErrTrailingBytes indicates extra bytes after a complete message.
	ErrTrailingBytes = errors.New("trailing bytes after message")
)

// poseWireSize is the fixed part of an encoded pose: 7 float32 + int64,
// excluding the variable-length scene id string.
const poseWireSize = 7*4 + 8

// Marshal encodes msg into a freshly allocated buffer.
//
// Marshal is total for well-formed messages; it fails only when a string
// field exceeds the uint16 length prefix or the encoded message would
// exceed MaxMessageSize.
func Marshal(msg Message) ([]byte, error) {
	buf := make([]byte, 0, marshalSizeHint(msg))
	buf = append(buf, Version, byte(msg.Type()))

	var err error
	switch m := msg.(type) {
	case AuthRequest:
		if buf, err = appendString(buf, m.PlayerID); err != nil {
			return nil, fmt.Errorf("marshal auth request player_id: %w", err)
		}
		if buf, err = appendString(buf, m.Token); err != nil {
			return nil, fmt.Errorf("marshal auth request token: %w", err)
		}
	case AuthResponse:
		if m.OK {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
		if buf, err = appendString(buf, m.Reason); err != nil {
			return nil, fmt.Errorf("marshal auth response reason: %w", err)
		}
	case PoseUpdate:
		if buf, err = appendPose(buf, m.Pose); err != nil {
			return nil, fmt.Errorf("marshal pose update: %w", err)
		}
	case RosterUpdate:
		if len(m.Players) > MaxStringLen {
			return nil, fmt.Errorf("marshal roster: %d entries: %w", len(m.Players), ErrTooLarge)
		}
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(m.Players)))
		for i, p := range m.Players {
			if buf, err = appendString(buf, p.PlayerID); err != nil {
				return nil, fmt.Errorf("marshal roster entry %d: %w", i, err)
			}
			if buf, err = appendPose(buf, p.Pose); err != nil {
				return nil, fmt.Errorf("marshal roster entry %d: %w", i, err)
			}
		}
	default:
		return nil, fmt.Errorf("marshal: type %T: %w", msg, ErrUnknownType)
	}

	if len(buf) > MaxMessageSize {
		return nil, fmt.Errorf("marshal %s: %d bytes: %w", msg.Type(), len(buf), ErrTooLarge)
	}
	return buf, nil
}

// marshalSizeHint returns a capacity estimate to avoid buffer regrowth on
// the broadcast hot path.
func marshalSizeHint(msg Message) int {
	switch m := msg.(type) {
	case AuthRequest:
		return headerSize + 4 + len(m.PlayerID) + len(m.Token)
	case AuthResponse:
		return headerSize + 3 + len(m.Reason)
	case PoseUpdate:
		return headerSize + poseWireSize + 2 + len(m.Pose.SceneID)
	case RosterUpdate:
		n := headerSize + 2
		for _, p := range m.Players {
			n += 2 + len(p.PlayerID) + poseWireSize + 2 + len(p.Pose.SceneID)
		}
		return n
	default:
		return headerSize
	}
}

// Unmarshal decodes a single message from buf. The buffer must contain
// exactly one message; trailing bytes are an error.
func Unmarshal(buf []byte) (Message, error) {
	if len(buf) > MaxMessageSize {
		return nil, fmt.Errorf("unmarshal: %d bytes: %w", len(buf), ErrTooLarge)
	}
	if len(buf) < headerSize {
		return nil, fmt.Errorf("unmarshal: %d bytes: %w", len(buf), ErrTruncated)
	}
	if buf[0] != Version {
		return nil, fmt.Errorf("unmarshal: version %d: %w", buf[0], ErrBadVersion)
	}

	d := decoder{buf: buf, off: headerSize}
	msgType := MsgType(buf[1])

	var (
		msg Message
		err error
	)
	switch msgType {
	case TypeAuthRequest:
		msg, err = d.authRequest()
	case TypeAuthResponse:
		msg, err = d.authResponse()
	case TypePoseUpdate:
		msg, err = d.poseUpdate()
	case TypeRosterUpdate:
		msg, err = d.rosterUpdate()
	default:
		return nil, fmt.Errorf("unmarshal: type %d: %w", buf[1], ErrUnknownType)
	}
	if err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", msgType, err)
	}
	if d.off != len(buf) {
		return nil, fmt.Errorf("unmarshal %s: %d extra bytes: %w",
			msgType, len(buf)-d.off, ErrTrailingBytes)
	}
	return msg, nil
}

// -------------------------------------------------------------------------
// Encoding primitives
// -------------------------------------------------------------------------

// appendString appends a uint16 length prefix and the UTF-8 bytes of s.
func appendString(buf []byte, s string) ([]byte, error) {
	if len(s) > MaxStringLen {
		return nil, fmt.Errorf("%d bytes: %w", len(s), ErrStringTooLong)
	}
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...), nil
}

// appendPose appends the fixed pose fields and the scene id string.
func appendPose(buf []byte, p Pose) ([]byte, error) {
	for _, f := range [7]float32{
		p.Position.X, p.Position.Y, p.Position.Z,
		p.Rotation.X, p.Rotation.Y, p.Rotation.Z, p.Rotation.W,
	} {
		buf = binary.BigEndian.AppendUint32(buf, math.Float32bits(f))
	}
	buf, err := appendString(buf, p.SceneID)
	if err != nil {
		return nil, fmt.Errorf("scene_id: %w", err)
	}
	return binary.BigEndian.AppendUint64(buf, uint64(p.TimestampMS)), nil
}

// -------------------------------------------------------------------------
// Decoding primitives
// -------------------------------------------------------------------------

// decoder walks buf sequentially, tracking the read offset.
type decoder struct {
	buf []byte
	off int
}

func (d *decoder) need(n int) error {
	if len(d.buf)-d.off < n {
		return ErrTruncated
	}
	return nil
}

func (d *decoder) uint8() (uint8, error) {
	if err := d.need(1); err != nil {
		return 0, err
	}
	v := d.buf[d.off]
	d.off++
	return v, nil
}

func (d *decoder) uint16() (uint16, error) {
	if err := d.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(d.buf[d.off:])
	d.off += 2
	return v, nil
}

func (d *decoder) float32() (float32, error) {
	if err := d.need(4); err != nil {
		return 0, err
	}
	v := math.Float32frombits(binary.BigEndian.Uint32(d.buf[d.off:]))
	d.off += 4
	return v, nil
}

func (d *decoder) int64() (int64, error) {
	if err := d.need(8); err != nil {
		return 0, err
	}
	v := int64(binary.BigEndian.Uint64(d.buf[d.off:]))
	d.off += 8
	return v, nil
}

func (d *decoder) string() (string, error) {
	n, err := d.uint16()
	if err != nil {
		return "", err
	}
	if err := d.need(int(n)); err != nil {
		return "", err
	}
	s := string(d.buf[d.off : d.off+int(n)])
	d.off += int(n)
	if !utf8.ValidString(s) {
		return "", ErrInvalidUTF8
	}
	return s, nil
}

func (d *decoder) pose() (Pose, error) {
	var p Pose
	fields := [7]*float32{
		&p.Position.X, &p.Position.Y, &p.Position.Z,
		&p.Rotation.X, &p.Rotation.Y, &p.Rotation.Z, &p.Rotation.W,
	}
	for _, f := range fields {
		v, err := d.float32()
		if err != nil {
			return Pose{}, err
		}
		*f = v
	}
	scene, err := d.string()
	if err != nil {
		return Pose{}, fmt.Errorf("scene_id: %w", err)
	}
	p.SceneID = scene
	ts, err := d.int64()
	if err != nil {
		return Pose{}, err
	}
	p.TimestampMS = ts
	return p, nil
}

// -------------------------------------------------------------------------
// Variant decoders
// -------------------------------------------------------------------------

func (d *decoder) authRequest() (Message, error) {
	id, err := d.string()
	if err != nil {
		return nil, fmt.Errorf("player_id: %w", err)
	}
	token, err := d.string()
	if err != nil {
		return nil, fmt.Errorf("token: %w", err)
	}
	return AuthRequest{PlayerID: id, Token: token}, nil
}

func (d *decoder) authResponse() (Message, error) {
	ok, err := d.uint8()
	if err != nil {
		return nil, fmt.Errorf("ok: %w", err)
	}
	reason, err := d.string()
	if err != nil {
		return nil, fmt.Errorf("reason: %w", err)
	}
	return AuthResponse{OK: ok != 0, Reason: reason}, nil
}

func (d *decoder) poseUpdate() (Message, error) {
	p, err := d.pose()
	if err != nil {
		return nil, err
	}
	return PoseUpdate{Pose: p}, nil
}

func (d *decoder) rosterUpdate() (Message, error) {
	count, err := d.uint16()
	if err != nil {
		return nil, fmt.Errorf("count: %w", err)
	}
	if count == 0 {
		return RosterUpdate{}, nil
	}
	players := make([]PlayerEntry, 0, count)
	for i := range int(count) {
		id, err := d.string()
		if err != nil {
			return nil, fmt.Errorf("entry %d player_id: %w", i, err)
		}
		p, err := d.pose()
		if err != nil {
			return nil, fmt.Errorf("entry %d pose: %w", i, err)
		}
		players = append(players, PlayerEntry{PlayerID: id, Pose: p})
	}
	return RosterUpdate{Players: players}, nil
}
