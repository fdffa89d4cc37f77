// Package storage holds the append-only message log and the duplicate message cache.
package storage

import (
	"errors"
	"fmt"
	"sync"

	"lanchat/models"
)

// ErrInvalidMessage indicates a message that cannot be logged.
var ErrInvalidMessage = errors.New("storage: invalid message")

// MessageLog is the append-only record of every message sent or received by
// the local node. Entries are never modified once appended.
type MessageLog interface {
	// Append adds msg after every previously appended message.
	Append(msg models.Message) error
	// Conversation returns the messages exchanged between localID and peerID
	// in append order.
	Conversation(localID, peerID string) ([]models.Message, error)
	// Count returns the number of logged messages.
	Count() (int, error)
	Close() error
}

// MemoryLog is a MessageLog backed by a slice.
type MemoryLog struct {
	mu       sync.Mutex
	messages []models.Message
}

// NewMemoryLog returns an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (l *MemoryLog) Append(msg models.Message) error {
	if err := validateMessage(msg); err != nil {
		return err
	}

	l.mu.Lock()
	l.messages = append(l.messages, msg)
	l.mu.Unlock()
	return nil
}

func (l *MemoryLog) Conversation(localID, peerID string) ([]models.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]models.Message, 0)
	for _, msg := range l.messages {
		if msg.Involves(localID, peerID) {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (l *MemoryLog) Count() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages), nil
}

// Close is a no-op.
func (l *MemoryLog) Close() error {
	return nil
}

func validateMessage(msg models.Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	return nil
}
