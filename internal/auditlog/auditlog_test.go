package auditlog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/udp-ingest/internal/models"
)

func entry(fcnt uint16) models.AuditEntry {
	return models.AuditEntry{
		ID:         uuid.New(),
		ReceivedAt: "2024-05-01T10:00:00Z",
		DevAddr:    "01020304",
		FCnt:       fcnt,
		MIC:        "aabbccdd",
	}
}

func TestOpenCreatesEmptyArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")

	_, err := Open(path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(data))
}

func TestAppendAndRecent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	l, err := Open(path)
	require.NoError(t, err)

	for i := uint16(0); i < 5; i++ {
		require.NoError(t, l.Append(entry(i)))
	}

	all, err := l.Recent(0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, uint16(0), all[0].FCnt)

	last, err := l.Recent(2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, uint16(3), last[0].FCnt)
	assert.Equal(t, uint16(4), last[1].FCnt)

	// the file stays a plain JSON array
	var raw []map[string]interface{}
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Len(t, raw, 5)
	assert.Equal(t, "01020304", raw[0]["devaddr"])
}

func TestOpenKeepsExistingEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"devaddr":"0A0B0C0D","fcnt":9}]`), 0o644))

	l, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, l.Append(entry(1)))

	all, err := l.Recent(0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "0A0B0C0D", all[0].DevAddr)
}

func TestAppendCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"not":"an array"`), 0o644))

	l, err := Open(path)
	require.NoError(t, err)
	assert.Error(t, l.Append(entry(1)))
}

func TestConcurrentAppend(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "log.json"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, l.Append(entry(uint16(i))))
		}(i)
	}
	wg.Wait()

	all, err := l.Recent(0)
	require.NoError(t, err)
	assert.Len(t, all, 20)
}
