// Package sqlite implements storage.Storage and storage.Relation on top of a
// modernc.org/sqlite database. Each entity type lives in its own table; the
// entity itself is kept as an opaque body encoded with a codec.Codec.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/unkn0wn-root/storecache/codec"
	"github.com/unkn0wn-root/storecache/storage"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// OpenDB opens a database at path. ":memory:" yields a private in-memory
// database pinned to one connection so every query sees the same data.
func OpenDB(path string) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite: path is required")
	}
	dsn := ":memory:"
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite db")
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping sqlite db")
	}
	return db, nil
}

// Options configure a Store.
type Options[V any] struct {
	// Table holds the entities. Must be a plain SQL identifier.
	Table string
	Codec codec.Codec[V]
	IDOf  func(V) string
	// WithID stamps generated identifiers onto created entities.
	WithID func(item V, id string) V
	// ParentIDOf, when set, fills an indexed parent_id column so the table
	// can serve as the child side of a Relation.
	ParentIDOf func(V) string
	NewID      func() string
}

// Store is a table of entities. It does not own the *sql.DB.
type Store[V any] struct {
	db   *sql.DB
	opts Options[V]
	q    queries
}

type queries struct {
	insert, read, update, del, delAll, list, page, count string
	children, childrenPage, childrenCount, delChildren, parentOf string
}

func newQueries(t string) queries {
	return queries{
		insert:        fmt.Sprintf(`INSERT INTO %s (id, parent_id, body) VALUES (?, ?, ?)`, t),
		read:          fmt.Sprintf(`SELECT body FROM %s WHERE id = ?`, t),
		update:        fmt.Sprintf(`UPDATE %s SET parent_id = ?, body = ? WHERE id = ?`, t),
		del:           fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, t),
		delAll:        fmt.Sprintf(`DELETE FROM %s`, t),
		list:          fmt.Sprintf(`SELECT body FROM %s ORDER BY seq LIMIT ?`, t),
		page:          fmt.Sprintf(`SELECT body FROM %s ORDER BY seq LIMIT ? OFFSET ?`, t),
		count:         fmt.Sprintf(`SELECT COUNT(*) FROM %s`, t),
		children:      fmt.Sprintf(`SELECT body FROM %s WHERE parent_id = ? ORDER BY seq LIMIT ?`, t),
		childrenPage:  fmt.Sprintf(`SELECT body FROM %s WHERE parent_id = ? ORDER BY seq LIMIT ? OFFSET ?`, t),
		childrenCount: fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE parent_id = ?`, t),
		delChildren:   fmt.Sprintf(`DELETE FROM %s WHERE parent_id = ?`, t),
		parentOf:      fmt.Sprintf(`SELECT parent_id FROM %s WHERE id = ?`, t),
	}
}

var _ storage.Storage[struct{}] = (*Store[struct{}])(nil)

// Open creates the table if needed and returns a Store over it.
func Open[V any](ctx context.Context, db *sql.DB, opts Options[V]) (*Store[V], error) {
	if db == nil {
		return nil, errors.New("sqlite: db is required")
	}
	if !tableName.MatchString(opts.Table) {
		return nil, errors.Newf("sqlite: invalid table name %q", opts.Table)
	}
	if opts.Codec == nil || opts.IDOf == nil {
		return nil, errors.New("sqlite: Codec and IDOf are required")
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
		seq       INTEGER PRIMARY KEY AUTOINCREMENT,
		id        TEXT NOT NULL UNIQUE,
		parent_id TEXT NOT NULL DEFAULT '',
		body      BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS %[1]s_parent_idx ON %[1]s (parent_id, seq);`, opts.Table)
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, errors.Wrapf(err, "create table %s", opts.Table)
	}
	return &Store[V]{db: db, opts: opts, q: newQueries(opts.Table)}, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func (s *Store[V]) notFound(id string) error {
	return errors.Mark(errors.Newf("sqlite: %s %q not found", s.opts.Table, id), storage.ErrNotFound)
}

func (s *Store[V]) parentOf(item V) string {
	if s.opts.ParentIDOf == nil {
		return ""
	}
	return s.opts.ParentIDOf(item)
}

func (s *Store[V]) insert(ctx context.Context, id string, item V) error {
	body, err := s.opts.Codec.Encode(item)
	if err != nil {
		return errors.Wrapf(err, "encode %s %q", s.opts.Table, id)
	}
	if _, err := s.db.ExecContext(ctx, s.q.insert, id, s.parentOf(item), body); err != nil {
		if isUniqueViolation(err) {
			return errors.Mark(errors.Newf("sqlite: %s %q already exists", s.opts.Table, id), storage.ErrConflict)
		}
		return errors.Wrapf(err, "insert %s %q", s.opts.Table, id)
	}
	return nil
}

func (s *Store[V]) stamp(item V) (string, V) {
	id := s.opts.NewID()
	if s.opts.WithID != nil {
		item = s.opts.WithID(item, id)
	}
	return id, item
}

func (s *Store[V]) Create(ctx context.Context, item V) (string, error) {
	id, item := s.stamp(item)
	if err := s.insert(ctx, id, item); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store[V]) CreateAndReturn(ctx context.Context, item V) (V, error) {
	id, item := s.stamp(item)
	if err := s.insert(ctx, id, item); err != nil {
		var zero V
		return zero, err
	}
	return item, nil
}

func (s *Store[V]) CreateWithID(ctx context.Context, id string, item V) error {
	return s.insert(ctx, id, item)
}

func (s *Store[V]) Read(ctx context.Context, id string) (V, error) {
	var zero V
	var body []byte
	err := s.db.QueryRowContext(ctx, s.q.read, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, s.notFound(id)
	}
	if err != nil {
		return zero, errors.Wrapf(err, "read %s %q", s.opts.Table, id)
	}
	v, err := s.opts.Codec.Decode(body)
	if err != nil {
		return zero, errors.Wrapf(err, "decode %s %q", s.opts.Table, id)
	}
	return v, nil
}

func (s *Store[V]) exec(ctx context.Context, id, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrapf(err, "%s %s %q", op, s.opts.Table, id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "%s %s %q", op, s.opts.Table, id)
	}
	if n == 0 {
		return s.notFound(id)
	}
	return nil
}

func (s *Store[V]) Update(ctx context.Context, id string, item V) error {
	body, err := s.opts.Codec.Encode(item)
	if err != nil {
		return errors.Wrapf(err, "encode %s %q", s.opts.Table, id)
	}
	return s.exec(ctx, id, "update", s.q.update, s.parentOf(item), body, id)
}

func (s *Store[V]) Delete(ctx context.Context, id string) error {
	return s.exec(ctx, id, "delete", s.q.del, id)
}

func (s *Store[V]) DeleteAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.q.delAll); err != nil {
		return errors.Wrapf(err, "delete all %s", s.opts.Table)
	}
	return nil
}

// sqlLimit maps limit <= 0 to SQLite's "no limit".
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func (s *Store[V]) list(ctx context.Context, query string, args ...any) ([]V, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", s.opts.Table)
	}
	defer rows.Close()

	out := []V{}
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, errors.Wrapf(err, "scan %s", s.opts.Table)
		}
		v, err := s.opts.Codec.Decode(body)
		if err != nil {
			return nil, errors.Wrapf(err, "decode %s", s.opts.Table)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "list %s", s.opts.Table)
	}
	return out, nil
}

func (s *Store[V]) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, errors.Wrapf(err, "count %s", s.opts.Table)
	}
	return n, nil
}

func (s *Store[V]) ReadAll(ctx context.Context, limit int) ([]V, error) {
	return s.list(ctx, s.q.list, sqlLimit(limit))
}

func (s *Store[V]) ReadAllPaged(ctx context.Context, offset, limit int) (storage.Page[V], error) {
	if offset < 0 {
		offset = 0
	}
	items, err := s.list(ctx, s.q.page, sqlLimit(limit), offset)
	if err != nil {
		return storage.Page[V]{}, err
	}
	total, err := s.count(ctx, s.q.count)
	if err != nil {
		return storage.Page[V]{}, err
	}
	return storage.NewPage(items, offset, limit, &total), nil
}

// Relation joins two tables through the children's parent_id column.
type Relation[P, C any] struct {
	parents  *Store[P]
	children *Store[C]
}

var _ storage.Relation[struct{}, struct{}] = (*Relation[struct{}, struct{}])(nil)

// NewRelation requires children to be opened with Options.ParentIDOf.
func NewRelation[P, C any](parents *Store[P], children *Store[C]) (*Relation[P, C], error) {
	if children.opts.ParentIDOf == nil {
		return nil, errors.Newf("sqlite: table %s has no ParentIDOf", children.opts.Table)
	}
	return &Relation[P, C]{parents: parents, children: children}, nil
}

func (r *Relation[P, C]) ReadChildren(ctx context.Context, parentID string, limit int) ([]C, error) {
	return r.children.list(ctx, r.children.q.children, parentID, sqlLimit(limit))
}

func (r *Relation[P, C]) ReadChildrenPaged(ctx context.Context, parentID string, offset, limit int) (storage.Page[C], error) {
	if offset < 0 {
		offset = 0
	}
	items, err := r.children.list(ctx, r.children.q.childrenPage, parentID, sqlLimit(limit), offset)
	if err != nil {
		return storage.Page[C]{}, err
	}
	total, err := r.children.count(ctx, r.children.q.childrenCount, parentID)
	if err != nil {
		return storage.Page[C]{}, err
	}
	return storage.NewPage(items, offset, limit, &total), nil
}

func (r *Relation[P, C]) ReadParent(ctx context.Context, childID string) (P, error) {
	var zero P
	var parentID string
	err := r.children.db.QueryRowContext(ctx, r.children.q.parentOf, childID).Scan(&parentID)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, r.children.notFound(childID)
	}
	if err != nil {
		return zero, errors.Wrapf(err, "read parent of %q", childID)
	}
	return r.parents.Read(ctx, parentID)
}

func (r *Relation[P, C]) DeleteChildren(ctx context.Context, parentID string) error {
	if _, err := r.children.db.ExecContext(ctx, r.children.q.delChildren, parentID); err != nil {
		return errors.Wrapf(err, "delete children of %q", parentID)
	}
	return nil
}
