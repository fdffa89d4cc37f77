package storage

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lanchat/models"
)

func newTestBackends(t *testing.T) map[string]MessageLog {
	t.Helper()

	sqliteLog, err := OpenSQLiteLog()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, sqliteLog.Close())
	})

	return map[string]MessageLog{
		"memory": NewMemoryLog(),
		"sqlite": sqliteLog,
	}
}

func textMessage(id, from, to string) models.Message {
	return models.Message{
		ID:        id,
		FromID:    from,
		FromName:  "name-" + from,
		ToID:      to,
		Content:   "content " + id,
		Timestamp: 1_700_000_000_000,
	}
}

func fileMessage(id, from, to string) models.Message {
	name := "notes.txt"
	payload := "aGVsbG8="
	msg := textMessage(id, from, to)
	msg.Content = "Sent file: notes.txt"
	msg.IsFile = true
	msg.FileName = &name
	msg.FilePayload = &payload
	return msg
}

func ids(messages []models.Message) []string {
	out := make([]string, 0, len(messages))
	for _, msg := range messages {
		out = append(out, msg.ID)
	}
	return out
}

func TestConversationFiltersToBothDirections(t *testing.T) {
	for name, log := range newTestBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, log.Append(textMessage("m1", "A", "B")))
			require.NoError(t, log.Append(textMessage("m2", "B", "A")))
			require.NoError(t, log.Append(textMessage("m3", "A", "C")))
			require.NoError(t, log.Append(textMessage("m4", "C", "A")))
			require.NoError(t, log.Append(textMessage("m5", "B", "C")))
			require.NoError(t, log.Append(textMessage("m6", "A", "B")))

			withB, err := log.Conversation("A", "B")
			require.NoError(t, err)
			require.Equal(t, []string{"m1", "m2", "m6"}, ids(withB))
			for _, msg := range withB {
				require.True(t, msg.Involves("A", "B"))
			}

			withC, err := log.Conversation("A", "C")
			require.NoError(t, err)
			require.Equal(t, []string{"m3", "m4"}, ids(withC))

			none, err := log.Conversation("A", "Z")
			require.NoError(t, err)
			require.Empty(t, none)

			count, err := log.Count()
			require.NoError(t, err)
			require.Equal(t, 6, count)
		})
	}
}

func TestAppendPreservesFileFields(t *testing.T) {
	for name, log := range newTestBackends(t) {
		t.Run(name, func(t *testing.T) {
			file := fileMessage("f1", "A", "B")
			text := textMessage("t1", "B", "A")
			require.NoError(t, log.Append(file))
			require.NoError(t, log.Append(text))

			got, err := log.Conversation("A", "B")
			require.NoError(t, err)
			require.Equal(t, []models.Message{file, text}, got)
			require.Nil(t, got[1].FileName)
			require.Nil(t, got[1].FilePayload)
		})
	}
}

func TestAppendRejectsInvalidMessages(t *testing.T) {
	broken := fileMessage("f1", "A", "B")
	broken.FilePayload = nil

	cases := map[string]models.Message{
		"missing id":        textMessage("", "A", "B"),
		"missing recipient": textMessage("m1", "A", ""),
		"file without data": broken,
	}

	for name, log := range newTestBackends(t) {
		t.Run(name, func(t *testing.T) {
			for label, msg := range cases {
				err := log.Append(msg)
				require.ErrorIs(t, err, ErrInvalidMessage, label)
			}
			count, err := log.Count()
			require.NoError(t, err)
			require.Zero(t, count)
		})
	}
}

func TestConcurrentAppendsAreAllKept(t *testing.T) {
	for name, log := range newTestBackends(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					assert.NoError(t, log.Append(textMessage(fmt.Sprintf("m%d", i), "A", "B")))
				}(i)
			}
			wg.Wait()

			got, err := log.Conversation("A", "B")
			require.NoError(t, err)
			require.Len(t, got, 20)
		})
	}
}

func TestSQLiteLogsAreIsolated(t *testing.T) {
	first, err := OpenSQLiteLog()
	require.NoError(t, err)
	defer first.Close()
	second, err := OpenSQLiteLog()
	require.NoError(t, err)
	defer second.Close()

	require.NoError(t, first.Append(textMessage("m1", "A", "B")))

	count, err := second.Count()
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestSQLiteLogMigrationsSetSchemaVersion(t *testing.T) {
	log, err := OpenSQLiteLog()
	require.NoError(t, err)
	defer log.Close()

	version, err := log.schemaVersion()
	require.NoError(t, err)
	require.Equal(t, len(migrations), version)

	// Re-running is a no-op once the version is current.
	require.NoError(t, log.applyMigrations())
	require.NoError(t, log.Close())
	require.NoError(t, log.Close())
}
