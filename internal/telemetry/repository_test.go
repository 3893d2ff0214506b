package telemetry

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/cemctl/internal/errors"
	"codeberg.org/mutker/cemctl/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent(pair string, kind Kind, rate float64) *Event {
	return &Event{
		Pair:              pair,
		Kind:              kind,
		Timestamp:         time.Unix(1700000000, 123456789),
		InstantaneousRate: rate,
		SmoothedRate:      rate / 2,
		CommandVoltage:    rate / 1000,
		FullScaleRate:     10000,
		SaturationStrikes: 1,
		DeltaCount:        int64(rate / 10),
		Elapsed:           100 * time.Millisecond,
	}
}

func newTestRepository(t *testing.T, cfg Config) *Repository {
	t.Helper()
	repo, err := NewRepository(cfg, logger.Nop())
	require.NoError(t, err)
	return repo
}

func TestRepositoryRoundTrip(t *testing.T) {
	cfg := Config{DBPath: filepath.Join(t.TempDir(), "sub", "telemetry.db")}
	repo := newTestRepository(t, cfg)
	defer repo.Close()

	ctx := context.Background()
	require.NoError(t, repo.Record(ctx, testEvent("cem", KindTick, 1000)))
	require.NoError(t, repo.Record(ctx, testEvent("cem", KindSaturating, 2000)))
	require.NoError(t, repo.Record(ctx, testEvent("mcp", KindTick, 3000)))

	events, err := repo.Events(ctx, "cem", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	// newest first
	assert.Equal(t, KindSaturating, events[0].Kind)
	assert.Equal(t, *testEvent("cem", KindSaturating, 2000), normalize(events[0]))
	assert.Equal(t, KindTick, events[1].Kind)

	events, err = repo.Events(ctx, "cem", 1)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

// normalize drops the monotonic clock reading and location so events read
// back from the database compare equal to the ones written.
func normalize(ev Event) Event {
	ev.Timestamp = time.Unix(0, ev.Timestamp.UnixNano())
	return ev
}

func TestRepositoryBatching(t *testing.T) {
	cfg := Config{DBPath: filepath.Join(t.TempDir(), "telemetry.db"), BatchSize: 3}
	repo := newTestRepository(t, cfg)

	ctx := context.Background()
	require.NoError(t, repo.Record(ctx, testEvent("cem", KindTick, 1)))
	require.NoError(t, repo.Record(ctx, testEvent("cem", KindTick, 2)))
	assert.Equal(t, 0, countRows(t, repo.db))

	require.NoError(t, repo.Record(ctx, testEvent("cem", KindTick, 3)))
	assert.Equal(t, 3, countRows(t, repo.db))

	require.NoError(t, repo.Record(ctx, testEvent("cem", KindTick, 4)))
	require.NoError(t, repo.Close())

	db, err := sql.Open("sqlite3", cfg.DBPath)
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, 4, countRows(t, db), "Close flushes the partial batch")
}

func TestRepositoryPeriodicFlush(t *testing.T) {
	cfg := Config{
		DBPath:       filepath.Join(t.TempDir(), "telemetry.db"),
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
	}
	repo := newTestRepository(t, cfg)
	defer repo.Close()

	require.NoError(t, repo.Record(context.Background(), testEvent("cem", KindTick, 1)))
	assert.Eventually(t, func() bool {
		var n int
		if err := repo.db.QueryRow("SELECT COUNT(*) FROM events").Scan(&n); err != nil {
			return false
		}
		return n == 1
	}, time.Second, 5*time.Millisecond)
}

func TestRepositoryRejects(t *testing.T) {
	repo := newTestRepository(t, Config{DBPath: filepath.Join(t.TempDir(), "telemetry.db")})

	err := repo.Record(context.Background(), nil)
	assert.True(t, errors.HasCode(err, ErrInvalidEvent))

	err = repo.Record(context.Background(), testEvent("cem", Kind("bogus"), 1))
	assert.True(t, errors.HasCode(err, ErrInvalidEvent))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = repo.Record(ctx, testEvent("cem", KindTick, 1))
	assert.True(t, errors.HasCode(err, ErrOperationTimeout))

	require.NoError(t, repo.Close())
	require.NoError(t, repo.Close())

	err = repo.Record(context.Background(), testEvent("cem", KindTick, 1))
	assert.True(t, errors.HasCode(err, ErrRecordEvent))
}

func TestInvalidRepositoryConfig(t *testing.T) {
	_, err := NewRepository(Config{}, logger.Nop())
	assert.True(t, errors.HasCode(err, ErrInvalidDBPath))

	_, err = NewRepository(Config{DBPath: "x.db", BatchSize: -1}, logger.Nop())
	assert.True(t, errors.HasCode(err, ErrInvalidConfig))
}

func TestSchemaMigrationBacksUpOldVersion(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "telemetry.db")

	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE schema_versions (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL);
		INSERT INTO schema_versions VALUES (0, datetime('now'));
		INSERT INTO schema_versions VALUES (99, datetime('now'));
		CREATE TABLE events (id INTEGER PRIMARY KEY, legacy TEXT);`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	repo := newTestRepository(t, Config{DBPath: dbPath})
	defer repo.Close()

	version, err := GetSchemaVersion(repo.db)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, version)

	backups, err := os.ReadDir(filepath.Join(dir, backupDirName))
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Contains(t, backups[0].Name(), "telemetry_v99_")

	require.NoError(t, repo.Record(context.Background(), testEvent("cem", KindTick, 1)))
}

func TestSchemaCurrentIsKept(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "telemetry.db")

	repo := newTestRepository(t, Config{DBPath: dbPath})
	require.NoError(t, repo.Record(context.Background(), testEvent("cem", KindTick, 1)))
	require.NoError(t, repo.Close())

	repo = newTestRepository(t, Config{DBPath: dbPath})
	defer repo.Close()
	assert.Equal(t, 1, countRows(t, repo.db))
}

func countRows(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM events").Scan(&n))
	return n
}
