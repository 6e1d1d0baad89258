// index.go backs the optional sqlite secondary index over the
// directory-backed JSON session store, per SPEC_FULL.md §4.H supplement.
// modernc.org/sqlite gives a queryable session list without a cgo
// dependency; the JSON files under Config.Dir remain the sole source of
// truth — the index is rebuilt from them at startup and updated
// best-effort after every write. A failure to open or write the index
// never fails a session operation.
package session

import (
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

const createIndexTableSQL = `
CREATE TABLE IF NOT EXISTS sessions (
	id             TEXT PRIMARY KEY,
	title          TEXT NOT NULL,
	agent_type     TEXT NOT NULL,
	parent_id      TEXT NOT NULL DEFAULT '',
	created_at     INTEGER NOT NULL,
	updated_at     INTEGER NOT NULL,
	last_active_at INTEGER NOT NULL,
	message_count  INTEGER NOT NULL DEFAULT 0
)`

// index is the sqlite-backed side-car. A nil *index is valid and every
// method on it is a safe no-op, so Store can hold one unconditionally
// without guarding every call site.
type index struct {
	db *sql.DB
}

// openIndex opens (creating if absent) the sqlite index file at path.
// Returns an error the caller is expected to log and otherwise ignore —
// the store works fine with index == nil.
func openIndex(path string) (*index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(createIndexTableSQL); err != nil {
		db.Close()
		return nil, err
	}
	return &index{db: db}, nil
}

func (ix *index) close() {
	if ix == nil || ix.db == nil {
		return
	}
	ix.db.Close()
}

// rebuild replaces the index contents wholesale from the authoritative
// on-disk metadata, used once at startup.
func (ix *index) rebuild(metas []*Meta) error {
	if ix == nil {
		return nil
	}
	tx, err := ix.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM sessions"); err != nil {
		tx.Rollback()
		return err
	}
	for _, m := range metas {
		if err := upsertTx(tx, m); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// upsert best-effort records meta's current state in the index. Errors are
// swallowed by callers — the index is a convenience cache, not a ledger.
func (ix *index) upsert(m *Meta) error {
	if ix == nil {
		return nil
	}
	_, err := ix.db.Exec(`
		INSERT INTO sessions (id, title, agent_type, parent_id, created_at, updated_at, last_active_at, message_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			agent_type = excluded.agent_type,
			parent_id = excluded.parent_id,
			updated_at = excluded.updated_at,
			last_active_at = excluded.last_active_at,
			message_count = excluded.message_count`,
		m.ID, m.Title, m.AgentType, m.ParentID,
		m.CreatedAt.Unix(), m.UpdatedAt.Unix(), m.LastActiveAt.Unix(), m.MessageCount)
	return err
}

func upsertTx(tx *sql.Tx, m *Meta) error {
	_, err := tx.Exec(`
		INSERT INTO sessions (id, title, agent_type, parent_id, created_at, updated_at, last_active_at, message_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Title, m.AgentType, m.ParentID,
		m.CreatedAt.Unix(), m.UpdatedAt.Unix(), m.LastActiveAt.Unix(), m.MessageCount)
	return err
}

func (ix *index) remove(id string) error {
	if ix == nil {
		return nil
	}
	_, err := ix.db.Exec("DELETE FROM sessions WHERE id = ?", id)
	return err
}

// IndexRow is a lightweight listing row served from the sqlite index.
type IndexRow struct {
	ID           string
	Title        string
	AgentType    string
	LastActiveAt time.Time
	MessageCount int
}

// Search queries the index for sessions whose title contains substr,
// newest-active first. Returns (nil, false) when no index is available so
// callers can fall back to Store.List().
func (ix *index) search(substr string, limit int) ([]IndexRow, bool) {
	if ix == nil {
		return nil, false
	}
	rows, err := ix.db.Query(`
		SELECT id, title, agent_type, last_active_at, message_count
		FROM sessions
		WHERE title LIKE '%' || ? || '%'
		ORDER BY last_active_at DESC
		LIMIT ?`, substr, limit)
	if err != nil {
		return nil, false
	}
	defer rows.Close()

	var out []IndexRow
	for rows.Next() {
		var r IndexRow
		var lastActive int64
		if err := rows.Scan(&r.ID, &r.Title, &r.AgentType, &lastActive, &r.MessageCount); err != nil {
			return nil, false
		}
		r.LastActiveAt = time.Unix(lastActive, 0)
		out = append(out, r)
	}
	return out, true
}
