package network

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"lanchat/models"
)

const (
	// DefaultMessagePort is the TCP port envelopes are delivered to.
	DefaultMessagePort = 45678
	// DefaultMaxEnvelopeSize bounds one inbound transfer (128 MiB).
	DefaultMaxEnvelopeSize = 128 * 1024 * 1024
	// DefaultTextTimeout bounds connect and write for text messages.
	DefaultTextTimeout = 5 * time.Second
	// DefaultFileTimeout bounds connect and write for file messages.
	DefaultFileTimeout = 30 * time.Second
	// DefaultReadTimeout bounds reading one inbound transfer to EOF.
	DefaultReadTimeout = 2 * time.Minute
)

const (
	KindText = "text"
	KindFile = "file"
)

var (
	// ErrEnvelopeTooLarge indicates an inbound transfer above the size limit.
	ErrEnvelopeTooLarge = errors.New("network: envelope exceeds max size")
	// ErrInvalidKind indicates a missing or unknown envelope kind.
	ErrInvalidKind = errors.New("network: invalid envelope kind")
	// ErrKindMismatch indicates the envelope kind disagrees with payload.is_file.
	ErrKindMismatch = errors.New("network: envelope kind does not match payload")
)

// Envelope wraps one message on the wire. The connection carries exactly one
// envelope and the sender closes its write side when done.
type Envelope struct {
	Kind    string         `json:"msg_type"`
	Payload models.Message `json:"payload"`
}

// KindFor returns the envelope kind for a message.
func KindFor(msg models.Message) string {
	if msg.IsFile {
		return KindFile
	}
	return KindText
}

// EncodeEnvelope wraps msg and marshals it to JSON.
func EncodeEnvelope(msg models.Message) ([]byte, error) {
	payload, err := json.Marshal(Envelope{Kind: KindFor(msg), Payload: msg})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return payload, nil
}

// DecodeEnvelope parses and validates a complete envelope.
func DecodeEnvelope(payload []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}

	switch envelope.Kind {
	case KindText, KindFile:
	default:
		return Envelope{}, fmt.Errorf("%w: %q", ErrInvalidKind, envelope.Kind)
	}
	if (envelope.Kind == KindFile) != envelope.Payload.IsFile {
		return Envelope{}, ErrKindMismatch
	}
	if err := envelope.Payload.Validate(); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return envelope, nil
}

// ReadEnvelope reads r until EOF and decodes the bytes as one envelope.
func ReadEnvelope(r io.Reader, maxSize int64) (Envelope, int, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxEnvelopeSize
	}

	raw, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return Envelope{}, len(raw), fmt.Errorf("read envelope: %w", err)
	}
	if int64(len(raw)) > maxSize {
		return Envelope{}, len(raw), ErrEnvelopeTooLarge
	}

	envelope, err := DecodeEnvelope(raw)
	return envelope, len(raw), err
}

// ReadEnvelopeWithTimeout reads one envelope under a whole-transfer deadline.
func ReadEnvelopeWithTimeout(conn net.Conn, timeout time.Duration, maxSize int64) (Envelope, int, error) {
	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return Envelope{}, 0, fmt.Errorf("set read deadline: %w", err)
		}
		defer func() {
			_ = conn.SetReadDeadline(time.Time{})
		}()
	}
	return ReadEnvelope(conn, maxSize)
}
