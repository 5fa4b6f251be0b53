// Package control speaks the compositor's panel control protocol: a
// framed request/notification channel over a unix socket. Frames are a
// 4-byte big-endian length followed by a JSON message.
package control

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Frames larger than this indicate a corrupted stream, not a message.
const maxFrameSize = 1 << 20

// Message kinds.
const (
	TypeVisibility    = "panel_visibility"
	TypeOrientation   = "orientation"
	TypeExclusiveZone = "exclusive_zone"
)

// Message is the control channel envelope. Exactly one payload field
// is set, selected by Type.
type Message struct {
	Type string `json:"type"`

	Visibility    *VisibilityPayload    `json:"visibility,omitempty"`
	Orientation   *OrientationPayload   `json:"orientation,omitempty"`
	ExclusiveZone *ExclusiveZonePayload `json:"exclusive_zone,omitempty"`
}

// VisibilityPayload is pushed by the compositor to hide or show the
// panel (on-screen keyboard, fullscreen apps).
type VisibilityPayload struct {
	Visible bool `json:"visible"`
}

// OrientationPayload is pushed on output rotation.
type OrientationPayload struct {
	Orientation string `json:"orientation"` // "portrait" or "landscape"
}

// ExclusiveZonePayload announces the panel's desired zone, and comes
// back with Ack set once the compositor applied it.
type ExclusiveZonePayload struct {
	Size int32 `json:"size"`
	Ack  bool  `json:"ack,omitempty"`
}

// NewExclusiveZoneMessage creates the zone announcement request.
func NewExclusiveZoneMessage(size int32) Message {
	return Message{
		Type:          TypeExclusiveZone,
		ExclusiveZone: &ExclusiveZonePayload{Size: size},
	}
}

// writeMessage writes one framed message with length prefix.
func writeMessage(w io.Writer, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal control message: %w", err)
	}

	// Write length prefix (4 bytes, big-endian)
	var lengthBuf [4]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(data)))
	if _, err := w.Write(lengthBuf[:]); err != nil {
		return fmt.Errorf("failed to write length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	return nil
}

// decodeFrame parses one complete frame payload. A JSON error means a
// single bad message, not a broken stream.
func decodeFrame(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, fmt.Errorf("malformed control message: %w", err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("control message missing type")
	}
	return msg, nil
}
