package storage

import (
	"database/sql"
	"fmt"

	"lanchat/models"
)

// Append inserts msg as the newest row.
func (l *SQLiteLog) Append(msg models.Message) error {
	if err := validateMessage(msg); err != nil {
		return err
	}

	isFile := 0
	if msg.IsFile {
		isFile = 1
	}

	_, err := l.db.Exec(
		`INSERT INTO messages (
			message_id,
			from_id,
			from_name,
			to_id,
			content,
			timestamp,
			is_file,
			file_name,
			file_data
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID,
		msg.FromID,
		msg.FromName,
		msg.ToID,
		msg.Content,
		msg.Timestamp,
		isFile,
		nullString(msg.FileName),
		nullString(msg.FilePayload),
	)
	if err != nil {
		return fmt.Errorf("insert message %q: %w", msg.ID, err)
	}
	return nil
}

// Conversation returns both directions of the exchange between localID and
// peerID ordered by insertion.
func (l *SQLiteLog) Conversation(localID, peerID string) ([]models.Message, error) {
	rows, err := l.db.Query(
		`SELECT
			message_id,
			from_id,
			from_name,
			to_id,
			content,
			timestamp,
			is_file,
			file_name,
			file_data
		FROM messages
		WHERE (from_id = ? AND to_id = ?) OR (from_id = ? AND to_id = ?)
		ORDER BY seq ASC`,
		localID, peerID,
		peerID, localID,
	)
	if err != nil {
		return nil, fmt.Errorf("query conversation with %q: %w", peerID, err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return messages, nil
}

// Count returns the number of rows in the log.
func (l *SQLiteLog) Count() (int, error) {
	var count int
	if err := l.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

func scanMessage(rows *sql.Rows) (models.Message, error) {
	var (
		msg      models.Message
		isFile   int
		fileName sql.NullString
		fileData sql.NullString
	)
	if err := rows.Scan(
		&msg.ID,
		&msg.FromID,
		&msg.FromName,
		&msg.ToID,
		&msg.Content,
		&msg.Timestamp,
		&isFile,
		&fileName,
		&fileData,
	); err != nil {
		return models.Message{}, err
	}

	msg.IsFile = isFile == 1
	msg.FileName = stringPtr(fileName)
	msg.FilePayload = stringPtr(fileData)
	return msg, nil
}

func nullString(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}

func stringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	out := value.String
	return &out
}
