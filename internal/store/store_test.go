package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"elvcal/internal/config"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, KeySnapshot)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, KeySnapshot, []byte(`{"v":1}`)))
	require.NoError(t, s.Set(ctx, KeySnapshot, []byte(`{"v":2}`)))
	require.NoError(t, s.Set(ctx, KeyRawEvents, []byte(`[]`)))

	got, ok, err := s.Get(ctx, KeySnapshot)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"v":2}`, string(got))

	got, ok, err = s.Get(ctx, KeyRawEvents)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "[]", string(got))
}

func TestMemoryStore(t *testing.T) {
	m := NewMemory()
	exerciseStore(t, m)

	require.NoError(t, m.Close())
	_, _, err := m.Get(context.Background(), KeySnapshot)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	m := NewMemory()
	buf := []byte("abc")
	require.NoError(t, m.Set(context.Background(), "k", buf))
	buf[0] = 'x'

	got, _, err := m.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestFileStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	f, err := NewFile(dir)
	require.NoError(t, err)
	exerciseStore(t, f)

	info, err := os.Stat(filepath.Join(dir, "raw_events.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files left behind")
}

func TestFileStoreRejectsEmptyKey(t *testing.T) {
	f, err := NewFile(t.TempDir())
	require.NoError(t, err)
	assert.Error(t, f.Set(context.Background(), "//", []byte("x")))
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var out map[string]int
	ok, err := GetJSON(ctx, m, KeySnapshot, &out)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, PutJSON(ctx, m, KeySnapshot, map[string]int{"n": 3}))
	ok, err = GetJSON(ctx, m, KeySnapshot, &out)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, out["n"])

	require.NoError(t, m.Set(ctx, "bad", []byte("{")))
	_, err = GetJSON(ctx, m, "bad", &out)
	assert.Error(t, err)
}

func TestNewSelectsBackend(t *testing.T) {
	ctx := context.Background()

	s, err := New(ctx, config.StoreConfig{Backend: config.BackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	s, err = New(ctx, config.StoreConfig{Backend: config.BackendFile, Path: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &File{}, s)

	_, err = New(ctx, config.StoreConfig{Backend: "etcd"})
	assert.Error(t, err)

	_, err = New(ctx, config.StoreConfig{Backend: config.BackendValkey})
	assert.Error(t, err)

	_, err = New(ctx, config.StoreConfig{Backend: config.BackendPostgres})
	assert.Error(t, err)
}

func TestValkeyOptions(t *testing.T) {
	opt, err := valkeyOptions("cache:6379")
	require.NoError(t, err)
	assert.Equal(t, []string{"cache:6379"}, opt.InitAddress)

	opt, err = valkeyOptions("redis://cache:6380/2")
	require.NoError(t, err)
	assert.Equal(t, []string{"cache:6380"}, opt.InitAddress)
	assert.Equal(t, 2, opt.SelectDB)

	_, err = valkeyOptions(" ")
	assert.Error(t, err)
}

func TestValkeyKeyPrefix(t *testing.T) {
	v := NewValkeyWithClient(nil, "")
	assert.Equal(t, "elvcal:raw/events", v.key(KeyRawEvents))

	v = NewValkeyWithClient(nil, "church")
	assert.Equal(t, "church:snapshot", v.key(KeySnapshot))
}

func TestPostgresStore(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewPostgresWithPool(mock, "elvcal_kv")
	require.NoError(t, err)
	ctx := context.Background()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS elvcal_kv").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, s.Migrate(ctx))

	mock.ExpectExec("INSERT INTO elvcal_kv").
		WithArgs(KeySnapshot, []byte(`{"v":1}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, s.Set(ctx, KeySnapshot, []byte(`{"v":1}`)))

	mock.ExpectQuery("SELECT value FROM elvcal_kv").
		WithArgs(KeySnapshot).
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow([]byte(`{"v":1}`)))
	got, ok, err := s.Get(ctx, KeySnapshot)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"v":1}`, string(got))

	mock.ExpectQuery("SELECT value FROM elvcal_kv").
		WithArgs(KeyRawServices).
		WillReturnError(pgx.ErrNoRows)
	_, ok, err = s.Get(ctx, KeyRawServices)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRejectsBadTable(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewPostgresWithPool(mock, "kv; DROP TABLE x")
	assert.Error(t, err)
}
