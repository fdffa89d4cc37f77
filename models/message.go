package models

import "errors"

// Message is one chat entry, either a text line or a file transfer.
//
// FileName and FilePayload are set only for file messages. FilePayload holds
// the file bytes in standard base64.
type Message struct {
	ID          string  `json:"id"`
	FromID      string  `json:"from_id"`
	FromName    string  `json:"from_name"`
	ToID        string  `json:"to_id"`
	Content     string  `json:"content"`
	Timestamp   int64   `json:"timestamp"`
	IsFile      bool    `json:"is_file"`
	FileName    *string `json:"file_name"`
	FilePayload *string `json:"file_data"`
}

var (
	// ErrMissingID indicates a message without an id.
	ErrMissingID = errors.New("models: message id is required")
	// ErrMissingParticipant indicates a message without sender or recipient.
	ErrMissingParticipant = errors.New("models: from_id and to_id are required")
	// ErrFileFields indicates file_name/file_data presence does not match is_file.
	ErrFileFields = errors.New("models: file fields must be present iff is_file")
)

// Validate checks the structural invariants of a message.
func (m Message) Validate() error {
	if m.ID == "" {
		return ErrMissingID
	}
	if m.FromID == "" || m.ToID == "" {
		return ErrMissingParticipant
	}
	hasName := m.FileName != nil
	hasPayload := m.FilePayload != nil
	if hasName != m.IsFile || hasPayload != m.IsFile {
		return ErrFileFields
	}
	return nil
}

// Involves reports whether the message belongs to the conversation between a and b.
func (m Message) Involves(a, b string) bool {
	return (m.FromID == a && m.ToID == b) || (m.FromID == b && m.ToID == a)
}
