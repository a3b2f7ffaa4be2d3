package backup

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/aa-sdk-go/storage"
)

func memDB(t *testing.T) storage.Storage {
	t.Helper()
	db, err := storage.New(&storage.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestBackupAndRestore(t *testing.T) {
	ctx := context.Background()
	src := memDB(t)
	require.NoError(t, src.BatchWrite(map[string][]byte{
		"u:01":   []byte(`{"state":"sent"}`),
		"h:0x01": []byte("01"),
	}))

	svc := NewService(nil, src, t.TempDir())
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 30, 5, 0, time.UTC) }

	file, err := svc.PerformBackup(ctx)
	require.NoError(t, err)
	assert.Contains(t, file, "26-03-01-12-30-05")
	info, err := os.Stat(file)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	dst := memDB(t)
	require.NoError(t, NewService(nil, dst, "").Restore(ctx, file))
	v, err := dst.GetKey([]byte("u:01"))
	require.NoError(t, err)
	assert.Equal(t, `{"state":"sent"}`, string(v))
}

func TestRestore_MissingFile(t *testing.T) {
	err := NewService(nil, memDB(t), "").Restore(context.Background(), "/nonexistent/journal.bak")
	assert.Error(t, err)
}
