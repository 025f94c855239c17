package backup

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTokenStore struct {
	tokens map[string]string
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{tokens: make(map[string]string)}
}

func (f *fakeTokenStore) PutRestoreToken(_ context.Context, token, filename string, _ time.Time) error {
	f.tokens[token] = filename
	return nil
}

func (f *fakeTokenStore) TakeRestoreToken(_ context.Context, token string) (string, error) {
	name, ok := f.tokens[token]
	if !ok {
		return "", errors.New("not found")
	}
	delete(f.tokens, token)
	return name, nil
}

func newSnapshotter(t *testing.T, retention int) (*Snapshotter, string, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "live.db")
	require.NoError(t, os.WriteFile(dbPath, []byte("live-state-v1"), 0o600))
	dir := t.TempDir()
	s, err := New(dbPath, dir, retention, newFakeTokenStore())
	require.NoError(t, err)
	return s, dbPath, dir
}

func TestSnapshotAndList(t *testing.T) {
	s, _, dir := newSnapshotter(t, 10)

	info, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Regexp(t, `^mfasrv_backup_\d{8}_\d{6}\.db$`, info.Filename)
	assert.Equal(t, int64(len("live-state-v1")), info.Size)

	data, err := os.ReadFile(filepath.Join(dir, info.Filename))
	require.NoError(t, err)
	assert.Equal(t, "live-state-v1", string(data))

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, info.Filename, list[0].Filename)
}

func TestSnapshotRequiresSQLite(t *testing.T) {
	s, err := New("", t.TempDir(), 10, newFakeTokenStore())
	require.NoError(t, err)
	_, err = s.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrNotSQLite)
}

func TestListIgnoresForeignFiles(t *testing.T) {
	s, _, dir := newSnapshotter(t, 10)
	for _, name := range []string{"notes.txt", "mfasrv_backup_evil.db", "mfasrv_backup_20260801_120000.db.tmp"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600))
	}
	list, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestPruneKeepsNewest(t *testing.T) {
	s, _, dir := newSnapshotter(t, 2)
	old := []string{
		"mfasrv_backup_20260801_100000.db",
		"mfasrv_backup_20260801_110000.db",
		"mfasrv_backup_20260801_120000.db",
	}
	for _, name := range old {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600))
	}

	_, err := s.Snapshot(context.Background())
	require.NoError(t, err)

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 2, "retention bounds the directory")
	// Newest-first ordering by the date embedded in the name.
	assert.NotEqual(t, "mfasrv_backup_20260801_100000.db", list[0].Filename)
	assert.NotEqual(t, "mfasrv_backup_20260801_100000.db", list[1].Filename)
}

func TestOpenRejectsTraversal(t *testing.T) {
	s, _, _ := newSnapshotter(t, 10)
	for _, name := range []string{
		"../live.db",
		"..%2Flive.db",
		"/etc/passwd",
		"mfasrv_backup_20260801_120000.db/../../x",
		"random.db",
	} {
		_, err := s.Open(name)
		assert.ErrorIs(t, err, ErrBadFilename, "name %q", name)
	}
}

func TestOpenMissingBackup(t *testing.T) {
	s, _, _ := newSnapshotter(t, 10)
	_, err := s.Open("mfasrv_backup_20260801_120000.db")
	assert.ErrorIs(t, err, ErrBadFilename)
}

func TestRestoreFlow(t *testing.T) {
	s, dbPath, _ := newSnapshotter(t, 10)
	ctx := context.Background()

	info, err := s.Snapshot(ctx)
	require.NoError(t, err)

	// The live store moves on after the snapshot.
	require.NoError(t, os.WriteFile(dbPath, []byte("live-state-v2"), 0o600))

	tok, err := s.RequestRestore(ctx, info.Filename)
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	require.NoError(t, s.ConfirmRestore(ctx, tok))

	data, err := os.ReadFile(dbPath)
	require.NoError(t, err)
	assert.Equal(t, "live-state-v1", string(data), "snapshot contents restored")

	preserved, err := os.ReadFile(dbPath + ".pre-restore")
	require.NoError(t, err)
	assert.Equal(t, "live-state-v2", string(preserved), "displaced state preserved")

	// Tokens are single use.
	assert.ErrorIs(t, s.ConfirmRestore(ctx, tok), ErrBadToken)
}

func TestRequestRestoreValidatesFilename(t *testing.T) {
	s, _, _ := newSnapshotter(t, 10)
	_, err := s.RequestRestore(context.Background(), "../etc/passwd")
	assert.ErrorIs(t, err, ErrBadFilename)
}

func TestConfirmRestoreUnknownToken(t *testing.T) {
	s, _, _ := newSnapshotter(t, 10)
	assert.ErrorIs(t, s.ConfirmRestore(context.Background(), "bogus"), ErrBadToken)
}

func TestDownloadStreamsBackup(t *testing.T) {
	s, _, _ := newSnapshotter(t, 10)
	info, err := s.Snapshot(context.Background())
	require.NoError(t, err)

	rc, err := s.Open(info.Filename)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "live-state-v1", string(data))
}
