package persist

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/l1jgo/modbus/internal/config"
	"github.com/l1jgo/modbus/internal/diag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestSQLite(t *testing.T) *SQLiteDiagnosticRepo {
	t.Helper()
	repo, err := OpenSQLiteDiagnosticRepo(context.Background(), filepath.Join(t.TempDir(), "nested", "diag.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func sampleEntries() []diag.Entry {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []diag.Entry{
		{Time: base, Level: "info", Message: "event declared", Event: "OnTick", Mod: "Mod_A"},
		{Time: base.Add(time.Second), Level: "warn", Message: "listener failed", Event: "OnTick", Mod: "Mod_B", Fields: `{"error":"boom"}`},
	}
}

func TestSQLiteWriteAndRecent(t *testing.T) {
	ctx := context.Background()
	repo := openTestSQLite(t)

	require.NoError(t, repo.WriteBatch(ctx, sampleEntries()))

	got, err := repo.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "listener failed", got[0].Message, "newest first")
	assert.Equal(t, "Mod_B", got[0].Mod)
	assert.JSONEq(t, `{"error":"boom"}`, got[0].Fields)
	assert.True(t, got[0].Time.Equal(sampleEntries()[1].Time))

	assert.Equal(t, "OnTick", got[1].Event)
	assert.Empty(t, got[1].Fields)

	got, err = repo.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSQLiteMigrationsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "diag.db")

	repo, err := OpenSQLiteDiagnosticRepo(ctx, path)
	require.NoError(t, err)
	require.NoError(t, repo.WriteBatch(ctx, sampleEntries()))
	require.NoError(t, repo.Close())

	repo, err = OpenSQLiteDiagnosticRepo(ctx, path)
	require.NoError(t, err)
	defer repo.Close()

	got, err := repo.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSQLiteRejectsEmptyPath(t *testing.T) {
	_, err := OpenSQLiteDiagnosticRepo(context.Background(), "  ")
	assert.Error(t, err)
}

func TestOpenDiagnosticStoreUnknownDriver(t *testing.T) {
	_, err := OpenDiagnosticStore(context.Background(), config.DiagnosticsConfig{Driver: "mysql"}, zap.NewNop())
	assert.ErrorContains(t, err, "mysql")
}

func TestNewDBRejectsMalformedDSN(t *testing.T) {
	_, err := NewDB(context.Background(), config.DiagnosticsConfig{Driver: "postgres", DSN: "host=localhost port=notaport"}, zap.NewNop())
	assert.ErrorContains(t, err, "parse diagnostics dsn")
}

// Runs only against a real server: MODBUS_TEST_PG_DSN=postgres://...
func TestPostgresWriteAndRecent(t *testing.T) {
	dsn := os.Getenv("MODBUS_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("MODBUS_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	store, err := OpenDiagnosticStore(ctx, config.DiagnosticsConfig{Driver: "postgres", DSN: dsn, MaxOpenConns: 2}, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.WriteBatch(ctx, sampleEntries()))
	got, err := store.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "listener failed", got[0].Message)
}
