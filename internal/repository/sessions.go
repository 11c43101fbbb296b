package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/joseph-ayodele/cutlist-extractor/internal/common"
	"github.com/joseph-ayodele/cutlist-extractor/internal/entity"
)

const sessionSchema = `
CREATE TABLE IF NOT EXISTS parse_sessions (
    id           TEXT    PRIMARY KEY,
    org_id       TEXT    NOT NULL,
    project_code TEXT    NOT NULL,
    status       TEXT    NOT NULL,
    updated_at   INTEGER NOT NULL,
    doc          TEXT    NOT NULL,
    UNIQUE (org_id, project_code)
);
CREATE INDEX IF NOT EXISTS parse_sessions_updated_idx ON parse_sessions (updated_at);`

// SessionStore keeps parse sessions in a local SQLite file so collecting
// sessions survive a restart. It satisfies session.Store.
type SessionStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSessionStore opens (creating if needed) the SQLite database at path.
// ":memory:" gives a private in-memory database.
func OpenSessionStore(ctx context.Context, path string, logger *slog.Logger) (*SessionStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	// one writer; also keeps ":memory:" to a single shared database
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sessionSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create session schema: %w", err)
	}
	logger.Info("session store opened", "path", path)
	return &SessionStore{db: db, logger: logger}, nil
}

func (s *SessionStore) Close() error { return s.db.Close() }

func (s *SessionStore) Get(ctx context.Context, id string) (*entity.ParseSession, error) {
	return s.one(ctx, `SELECT doc FROM parse_sessions WHERE id = ?`, id)
}

func (s *SessionStore) FindByKey(ctx context.Context, orgID, projectCode string) (*entity.ParseSession, error) {
	return s.one(ctx, `SELECT doc FROM parse_sessions WHERE org_id = ? AND project_code = ?`, orgID, projectCode)
}

func (s *SessionStore) one(ctx context.Context, query string, args ...any) (*entity.ParseSession, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrDatabase, err)
	}
	return decodeSession(doc)
}

const upsertSession = `
INSERT INTO parse_sessions (id, org_id, project_code, status, updated_at, doc)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    status = excluded.status,
    updated_at = excluded.updated_at,
    doc = excluded.doc`

func (s *SessionStore) Put(ctx context.Context, ps *entity.ParseSession) error {
	doc, err := json.Marshal(ps)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, upsertSession,
		ps.ID, ps.OrgID, ps.ProjectCode, string(ps.Status), ps.UpdatedAt.UnixNano(), string(doc))
	if err != nil {
		s.logger.Error("failed to save session", "session_id", ps.ID, "error", err)
		return fmt.Errorf("%w: %w", common.ErrDatabase, err)
	}
	return nil
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM parse_sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrDatabase, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (s *SessionStore) ListUpdatedBefore(ctx context.Context, before time.Time) ([]*entity.ParseSession, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM parse_sessions WHERE updated_at < ? ORDER BY updated_at`, before.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrDatabase, err)
	}
	defer rows.Close()

	var out []*entity.ParseSession
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("%w: %w", common.ErrDatabase, err)
		}
		ps, err := decodeSession(doc)
		if err != nil {
			s.logger.Warn("skipping undecodable session", "error", err)
			continue
		}
		out = append(out, ps)
	}
	return out, rows.Err()
}

func decodeSession(doc string) (*entity.ParseSession, error) {
	var ps entity.ParseSession
	if err := json.Unmarshal([]byte(doc), &ps); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &ps, nil
}
