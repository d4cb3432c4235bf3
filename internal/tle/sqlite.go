package tle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/star/satpass/internal/apperr"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS element_set (
	norad_id   INTEGER NOT NULL,
	epoch_ms   INTEGER NOT NULL,
	name       TEXT    NOT NULL DEFAULT '',
	line1      TEXT    NOT NULL,
	line2      TEXT    NOT NULL,
	fetched_ts INTEGER NOT NULL,
	PRIMARY KEY (norad_id, epoch_ms)
);`

// SQLiteArchive stores element set history in a SQLite database, keyed by
// satellite and epoch. Re-saving a set with a known epoch only refreshes its
// fetch time.
type SQLiteArchive struct {
	db      *sql.DB
	maxRows int
}

// OpenSQLiteArchive opens (creating if needed) the database at dsn and keeps
// at most maxRows epochs per satellite.
func OpenSQLiteArchive(ctx context.Context, dsn string, maxRows int) (*SQLiteArchive, error) {
	if maxRows <= 0 {
		maxRows = 5
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite archive: %w", err)
	}
	// SQLite allows a single writer; one connection also keeps ":memory:"
	// databases from splitting across the pool.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate sqlite archive: %w", err)
	}

	return &SQLiteArchive{db: db, maxRows: maxRows}, nil
}

// Save upserts es and trims the satellite's history to maxRows epochs.
func (a *SQLiteArchive) Save(ctx context.Context, es ElementSet) error {
	fetched := es.FetchedAt
	if fetched.IsZero() {
		fetched = time.Now()
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin archive save: %w", err)
	}
	defer tx.Rollback()

	stmt := `INSERT INTO element_set (norad_id, epoch_ms, name, line1, line2, fetched_ts)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (norad_id, epoch_ms) DO UPDATE SET
			name = excluded.name,
			fetched_ts = excluded.fetched_ts`
	if _, err := tx.ExecContext(ctx, stmt,
		es.NORADID, es.Epoch.UnixMilli(), es.Name, es.Line1, es.Line2, fetched.Unix(),
	); err != nil {
		return fmt.Errorf("failed to save element set %d: %w", es.NORADID, err)
	}

	prune := `DELETE FROM element_set
		WHERE norad_id = ? AND epoch_ms NOT IN (
			SELECT epoch_ms FROM element_set WHERE norad_id = ?
			ORDER BY epoch_ms DESC LIMIT ?
		)`
	if _, err := tx.ExecContext(ctx, prune, es.NORADID, es.NORADID, a.maxRows); err != nil {
		return fmt.Errorf("failed to prune element sets for %d: %w", es.NORADID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit archive save: %w", err)
	}
	return nil
}

// Latest returns the stored set with the newest epoch for noradID.
func (a *SQLiteArchive) Latest(ctx context.Context, noradID int) (ElementSet, error) {
	query := `SELECT name, line1, line2, fetched_ts FROM element_set
		WHERE norad_id = ?
		ORDER BY epoch_ms DESC
		LIMIT 1`

	var (
		name, line1, line2 string
		fetchedTs          int64
	)
	err := a.db.QueryRowContext(ctx, query, noradID).Scan(&name, &line1, &line2, &fetchedTs)
	if errors.Is(err, sql.ErrNoRows) {
		return ElementSet{}, apperr.NotFound("archive.latest", "no archived elements for %d", noradID)
	}
	if err != nil {
		return ElementSet{}, fmt.Errorf("failed to load element set %d: %w", noradID, err)
	}

	es, err := ParseLines(name, line1, line2)
	if err != nil {
		return ElementSet{}, fmt.Errorf("parsing archived element set %d: %w", noradID, err)
	}
	es.Source = "archive"
	es.FetchedAt = time.Unix(fetchedTs, 0).UTC()
	return es, nil
}

// Ping checks that the database is reachable.
func (a *SQLiteArchive) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// Close closes the database.
func (a *SQLiteArchive) Close() error {
	return a.db.Close()
}
