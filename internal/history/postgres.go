package history

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/anstrom/portscout/internal/config"
	"github.com/anstrom/portscout/internal/errors"
	"github.com/anstrom/portscout/internal/scanning"
)

// Record is one persisted scan and the user it belongs to.
type Record struct {
	User   string
	Result *scanning.ScanResult
}

// Persister mirrors store mutations to durable storage.
type Persister interface {
	Save(ctx context.Context, user string, result *scanning.ScanResult) error
	Delete(ctx context.Context, user, scanID string) error
	Clear(ctx context.Context, user string) error
	// LoadAll returns every stored scan, oldest first.
	LoadAll(ctx context.Context) ([]Record, error)
}

const (
	schemaSQL = `
CREATE TABLE IF NOT EXISTS scan_history (
    scan_id    TEXT        NOT NULL,
    user_key   TEXT        NOT NULL,
    risk_level TEXT        NOT NULL,
    started_at TIMESTAMPTZ NOT NULL,
    payload    JSONB       NOT NULL,
    PRIMARY KEY (user_key, scan_id)
);
CREATE INDEX IF NOT EXISTS idx_scan_history_started_at ON scan_history (started_at);`

	insertSQL = `INSERT INTO scan_history (scan_id, user_key, risk_level, started_at, payload)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_key, scan_id) DO NOTHING`

	deleteSQL = `DELETE FROM scan_history WHERE user_key = $1 AND scan_id = $2`
	clearSQL  = `DELETE FROM scan_history WHERE user_key = $1`
	loadSQL   = `SELECT user_key, payload FROM scan_history ORDER BY started_at, scan_id`
)

// PostgresPersister stores scans as JSONB rows.
type PostgresPersister struct {
	db *sqlx.DB
}

// NewPostgresPersister wraps an open connection.
func NewPostgresPersister(db *sqlx.DB) *PostgresPersister {
	return &PostgresPersister{db: db}
}

// OpenPostgres connects using cfg and creates the schema.
func OpenPostgres(ctx context.Context, cfg config.PostgresConfig) (*PostgresPersister, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN())
	if err != nil {
		// The DSN carries the password, so only the cause is kept.
		return nil, errors.WrapStorageError(errors.CodeStorageConnection,
			"Failed to connect to history database", "connect", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	p := NewPostgresPersister(db)
	if err := p.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

// EnsureSchema creates the scan_history table if it is missing.
func (p *PostgresPersister) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return storageError("ensure schema", schemaSQL, err)
	}
	return nil
}

// Save implements Persister.
func (p *PostgresPersister) Save(ctx context.Context, user string, result *scanning.ScanResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode scan %s: %w", result.ScanID, err)
	}
	_, err = p.db.ExecContext(ctx, insertSQL,
		result.ScanID, user, string(result.RiskLevel), result.Timestamp, payload)
	if err != nil {
		return storageError("save", insertSQL, err)
	}
	return nil
}

// Delete implements Persister.
func (p *PostgresPersister) Delete(ctx context.Context, user, scanID string) error {
	if _, err := p.db.ExecContext(ctx, deleteSQL, user, scanID); err != nil {
		return storageError("delete", deleteSQL, err)
	}
	return nil
}

// Clear implements Persister.
func (p *PostgresPersister) Clear(ctx context.Context, user string) error {
	if _, err := p.db.ExecContext(ctx, clearSQL, user); err != nil {
		return storageError("clear", clearSQL, err)
	}
	return nil
}

type historyRow struct {
	UserKey string `db:"user_key"`
	Payload []byte `db:"payload"`
}

// LoadAll implements Persister.
func (p *PostgresPersister) LoadAll(ctx context.Context) ([]Record, error) {
	var rows []historyRow
	if err := p.db.SelectContext(ctx, &rows, loadSQL); err != nil {
		return nil, storageError("load", loadSQL, err)
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		var result scanning.ScanResult
		if err := json.Unmarshal(row.Payload, &result); err != nil {
			return nil, errors.WrapStorageError(errors.CodeStorageQuery,
				"Stored scan payload is corrupt", "load", err)
		}
		records = append(records, Record{User: row.UserKey, Result: &result})
	}
	return records, nil
}

// Close closes the underlying connection pool.
func (p *PostgresPersister) Close() error {
	return p.db.Close()
}

func storageError(operation, query string, err error) error {
	code := errors.CodeStorageQuery
	if stderrors.Is(err, context.DeadlineExceeded) {
		code = errors.CodeStorageTimeout
	}
	return errors.WrapStorageError(code, "History storage operation failed", operation, err).WithQuery(query)
}
