package network

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"lanchat/models"
)

func stringPtr(s string) *string {
	return &s
}

func TestEnvelopeRoundTripText(t *testing.T) {
	msg := models.Message{
		ID:        "m1",
		FromID:    "A",
		FromName:  "Alice",
		ToID:      "B",
		Content:   "hi",
		Timestamp: 1_706_000_000_000,
	}

	payload, err := EncodeEnvelope(msg)
	require.NoError(t, err)
	require.Contains(t, string(payload), `"msg_type":"text"`)
	require.Contains(t, string(payload), `"file_name":null`)

	envelope, err := DecodeEnvelope(payload)
	require.NoError(t, err)
	require.Equal(t, KindText, envelope.Kind)
	require.Equal(t, msg, envelope.Payload)
	require.Nil(t, envelope.Payload.FileName)
	require.Nil(t, envelope.Payload.FilePayload)
}

func TestEnvelopeRoundTripFile(t *testing.T) {
	msg := models.Message{
		ID:          "m2",
		FromID:      "A",
		FromName:    "Alice",
		ToID:        "B",
		Content:     "Sent file: notes.txt",
		Timestamp:   1_706_000_000_001,
		IsFile:      true,
		FileName:    stringPtr("notes.txt"),
		FilePayload: stringPtr("aGVsbG8="),
	}

	payload, err := EncodeEnvelope(msg)
	require.NoError(t, err)
	require.Contains(t, string(payload), `"msg_type":"file"`)

	envelope, err := DecodeEnvelope(payload)
	require.NoError(t, err)
	require.Equal(t, KindFile, envelope.Kind)
	require.Equal(t, msg, envelope.Payload)
}

func TestDecodeEnvelopeAcceptsHandWrittenWireBytes(t *testing.T) {
	raw := `{"msg_type":"text","payload":{"id":"x","from_id":"B","from_name":"Bob","to_id":"A",` +
		`"content":"yo","timestamp":5,"is_file":false,"file_name":null,"file_data":null}}`

	envelope, err := DecodeEnvelope([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, "yo", envelope.Payload.Content)
	require.Equal(t, "Bob", envelope.Payload.FromName)
}

func TestDecodeEnvelopeRejectsInvalidPayloads(t *testing.T) {
	cases := map[string]struct {
		raw  string
		want error
	}{
		"unknown kind": {
			raw:  `{"msg_type":"voice","payload":{"id":"x","from_id":"B","to_id":"A"}}`,
			want: ErrInvalidKind,
		},
		"kind mismatch": {
			raw:  `{"msg_type":"file","payload":{"id":"x","from_id":"B","to_id":"A","is_file":false}}`,
			want: ErrKindMismatch,
		},
		"file without payload": {
			raw:  `{"msg_type":"file","payload":{"id":"x","from_id":"B","to_id":"A","is_file":true,"file_name":"a"}}`,
			want: models.ErrFileFields,
		},
		"text with file data": {
			raw:  `{"msg_type":"text","payload":{"id":"x","from_id":"B","to_id":"A","file_data":"AA=="}}`,
			want: models.ErrFileFields,
		},
		"missing id": {
			raw:  `{"msg_type":"text","payload":{"from_id":"B","to_id":"A"}}`,
			want: models.ErrMissingID,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeEnvelope([]byte(tc.raw))
			require.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}

	_, err := DecodeEnvelope([]byte{0x00, 0xff, 0x13})
	require.Error(t, err)
}

func TestReadEnvelopeEnforcesMaxSize(t *testing.T) {
	msg := models.Message{ID: "m1", FromID: "A", ToID: "B", Content: strings.Repeat("x", 512)}
	payload, err := EncodeEnvelope(msg)
	require.NoError(t, err)

	_, _, err = ReadEnvelope(bytes.NewReader(payload), 128)
	require.ErrorIs(t, err, ErrEnvelopeTooLarge)

	envelope, size, err := ReadEnvelope(bytes.NewReader(payload), int64(len(payload)))
	require.NoError(t, err)
	require.Equal(t, len(payload), size)
	require.Equal(t, msg, envelope.Payload)
}
