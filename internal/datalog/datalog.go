// Package datalog is an append-only SQLite log of everything the link
// accepts, together with the schemas needed to decode it later.
package datalog

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Pragmas applied to every connection.
const pragmas = "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=temp_store(MEMORY)"

type DB struct {
	*sql.DB
	path    string
	session uuid.UUID
}

// Open opens or creates the log at path, brings its schema up to date and
// starts a new session labelled label.
func Open(path, label string) (*DB, error) {
	sqldb, err := sql.Open("sqlite", "file:"+path+pragmas)
	if err != nil {
		return nil, err
	}
	db := &DB{DB: sqldb, path: path, session: uuid.New()}
	if err := db.MigrateUp(); err != nil {
		sqldb.Close()
		return nil, err
	}
	_, err = db.Exec(
		"INSERT INTO sessions (session_id, label, started_unix_nanos) VALUES (?, ?, ?)",
		db.session.String(), label, time.Now().UnixNano(),
	)
	if err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	return db, nil
}

// Session identifies the entries appended through this handle.
func (db *DB) Session() uuid.UUID { return db.session }

// RegisterSchema stores the schema for a type name, replacing any previous
// one.
func (db *DB) RegisterSchema(name, typ string, data []byte) error {
	_, err := db.Exec(
		`INSERT INTO schemas (name, type, data) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET type = excluded.type, data = excluded.data`,
		name, typ, data,
	)
	if err != nil {
		return fmt.Errorf("failed to register schema %s: %w", name, err)
	}
	return nil
}

// Append adds a value to the named entry.
func (db *DB) Append(entry, typ string, data []byte, tsMicros int64) error {
	if data == nil {
		data = []byte{}
	}
	_, err := db.Exec(
		"INSERT INTO entries (session_id, entry, type, ts_micros, data) VALUES (?, ?, ?, ?, ?)",
		db.session.String(), entry, typ, tsMicros, data,
	)
	if err != nil {
		return fmt.Errorf("failed to append to %s: %w", entry, err)
	}
	return nil
}

// Record is one appended value.
type Record struct {
	Session  string `json:"session"`
	Entry    string `json:"entry"`
	Type     string `json:"type"`
	TsMicros int64  `json:"ts_micros"`
	Data     []byte `json:"data"`
}

// Records returns every value appended to entry, in insertion order, across
// all sessions.
func (db *DB) Records(entry string) ([]Record, error) {
	rows, err := db.Query(
		"SELECT session_id, entry, type, ts_micros, data FROM entries WHERE entry = ? ORDER BY entry_id",
		entry,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Session, &r.Entry, &r.Type, &r.TsMicros, &r.Data); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// Schema is a registered schema.
type Schema struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Data []byte `json:"data"`
}

// Schemas returns every registered schema ordered by name.
func (db *DB) Schemas() ([]Schema, error) {
	rows, err := db.Query("SELECT name, type, data FROM schemas ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schemas []Schema
	for rows.Next() {
		var s Schema
		if err := rows.Scan(&s.Name, &s.Type, &s.Data); err != nil {
			return nil, err
		}
		schemas = append(schemas, s)
	}
	return schemas, rows.Err()
}

// Entries returns the distinct entry names with their record counts.
func (db *DB) Entries() (map[string]int, error) {
	rows, err := db.Query("SELECT entry, COUNT(*) FROM entries GROUP BY entry")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			entry string
			n     int
		)
		if err := rows.Scan(&entry, &n); err != nil {
			return nil, err
		}
		counts[entry] = n
	}
	return counts, rows.Err()
}
