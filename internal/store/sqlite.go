package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/rcliao/memops/internal/model"
)

// timeLayout is fixed width so stored times compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

const memoryColumns = `id, text, type, subject, time, location, topic, facets, tags, weight, source,
	embedding, embedding_dim, embedding_model, embedding_provider,
	expire_at, expire_action, expire_reason,
	lock_mode, lock_reason, lock_policy, lock_expires,
	auto_frequency, next_auto_update_at,
	lineage_parents, lineage_children,
	read_perm_level, write_perm_level, read_whitelist, read_blacklist, write_whitelist, write_blacklist,
	deleted, deleted_at, delete_reason, created_at, updated_at`

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// rows holds the row-level operations shared by the store and its transactions.
type rows struct {
	q   querier
	now func() time.Time
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	rows
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// Tx is a write transaction opened by InTx.
type Tx struct {
	rows
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens or creates a SQLite database at the given path.
// Write transactions take the database lock up front so concurrent writers
// queue on busy_timeout instead of failing mid-transaction.
func NewSQLiteStore(dbPath string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	dsn := dbPath + "?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{
		rows:   rows{q: db, now: time.Now},
		db:     db,
		path:   dbPath,
		logger: logger.With(zap.String("component", "store")),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	s.logger.Debug("store opened", zap.String("path", dbPath))

	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id                  INTEGER PRIMARY KEY AUTOINCREMENT,
		text                TEXT NOT NULL,
		type                TEXT,
		subject             TEXT,
		time                TEXT,
		location            TEXT,
		topic               TEXT,
		facets              TEXT,
		tags                TEXT,
		weight              REAL NOT NULL DEFAULT 0.5,
		source              TEXT,
		embedding           TEXT,
		embedding_dim       INTEGER,
		embedding_model     TEXT,
		embedding_provider  TEXT,
		expire_at           TEXT,
		expire_action       TEXT,
		expire_reason       TEXT,
		lock_mode           TEXT,
		lock_reason         TEXT,
		lock_policy         TEXT,
		lock_expires        TEXT,
		auto_frequency      TEXT,
		next_auto_update_at TEXT,
		lineage_parents     TEXT,
		lineage_children    TEXT,
		read_perm_level     TEXT,
		write_perm_level    TEXT,
		read_whitelist      TEXT,
		read_blacklist      TEXT,
		write_whitelist     TEXT,
		write_blacklist     TEXT,
		deleted             INTEGER NOT NULL DEFAULT 0,
		deleted_at          TEXT,
		delete_reason       TEXT,
		created_at          TEXT NOT NULL,
		updated_at          TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_memories_deleted ON memories(deleted);
	CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(type);
	CREATE INDEX IF NOT EXISTS idx_memories_time ON memories(time DESC);
	CREATE INDEX IF NOT EXISTS idx_memories_expire ON memories(expire_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// InTx runs fn inside one write transaction.
func (s *SQLiteStore) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{rows: rows{q: sqlTx, now: s.now}}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Count returns the number of rows, deleted included.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count memories: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get loads one record by id, soft-deleted included.
func (r rows) Get(ctx context.Context, id int64) (*model.Memory, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get memory %d: %w", id, err)
	}
	return &m, nil
}

// GetMany loads the listed records in the order given, skipping missing ids.
func (r rows) GetMany(ctx context.Context, ids []int64) ([]model.Memory, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + memoryColumns + ` FROM memories WHERE id IN (` + placeholders(len(ids)) + `)`
	found, err := r.list(ctx, query, int64Args(ids)...)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]model.Memory, len(found))
	for _, m := range found {
		byID[m.ID] = m
	}
	out := make([]model.Memory, 0, len(found))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// Live returns the ids naming non-deleted rows, in input order without duplicates.
func (r rows) Live(ctx context.Context, ids []int64) ([]int64, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return []int64{}, nil
	}
	query := `SELECT id FROM memories WHERE deleted = 0 AND id IN (` + placeholders(len(ids)) + `)`
	rs, err := r.q.QueryContext(ctx, query, int64Args(ids)...)
	if err != nil {
		return nil, fmt.Errorf("live ids: %w", err)
	}
	defer rs.Close()

	live := map[int64]bool{}
	for rs.Next() {
		var id int64
		if err := rs.Scan(&id); err != nil {
			return nil, err
		}
		live[id] = true
	}
	if err := rs.Err(); err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(live))
	for _, id := range ids {
		if live[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

// Insert stores m and returns the new id. m.ID is set on success.
func (r rows) Insert(ctx context.Context, m *model.Memory) (int64, error) {
	now := r.now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	m.Weight = model.ClampWeight(m.Weight)

	vals, err := memoryValues(m)
	if err != nil {
		return 0, err
	}
	cols := strings.TrimPrefix(memoryColumns, "id, ")
	res, err := r.q.ExecContext(ctx,
		`INSERT INTO memories (`+cols+`) VALUES (`+placeholders(len(vals))+`)`, vals...)
	if err != nil {
		return 0, fmt.Errorf("insert memory: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert memory: %w", err)
	}
	m.ID = id
	return id, nil
}

// Update writes every mutable column of m back to its row.
func (r rows) Update(ctx context.Context, m *model.Memory) error {
	m.UpdatedAt = r.now().UTC()
	m.Weight = model.ClampWeight(m.Weight)

	vals, err := memoryValues(m)
	if err != nil {
		return err
	}
	cols := strings.Split(strings.TrimPrefix(memoryColumns, "id, "), ",")
	sets := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, c := range cols {
		c = strings.TrimSpace(c)
		if c == "created_at" {
			continue
		}
		sets = append(sets, c+" = ?")
		args = append(args, vals[i])
	}
	args = append(args, m.ID)

	res, err := r.q.ExecContext(ctx, `UPDATE memories SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update memory %d: %w", m.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, m.ID)
	}
	return nil
}

// HardDelete physically removes a row.
func (r rows) HardDelete(ctx context.Context, id int64) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete memory %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}

// Due returns live records whose deadline has passed at now.
func (r rows) Due(ctx context.Context, now time.Time) ([]model.Memory, error) {
	return r.list(ctx, `SELECT `+memoryColumns+` FROM memories
		WHERE deleted = 0 AND expire_at IS NOT NULL AND expire_at <= ?
		ORDER BY expire_at, id`, now.UTC().Format(timeLayout))
}

func (r rows) list(ctx context.Context, query string, args ...any) ([]model.Memory, error) {
	rs, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rs.Close()

	var memories []model.Memory
	for rs.Next() {
		m, err := scanMemory(rs)
		if err != nil {
			return nil, err
		}
		memories = append(memories, m)
	}
	return memories, rs.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMemory(row scanner) (model.Memory, error) {
	var m model.Memory
	var (
		typ, subject, tm, location, topic, facets, tags, source sql.NullString
		embedding, embModel, embProvider                        sql.NullString
		embDim                                                  sql.NullInt64
		expireAt, expireAction, expireReason                    sql.NullString
		lockMode, lockReason, lockPolicy, lockExpires           sql.NullString
		autoFreq, nextAuto, parents, children                   sql.NullString
		readLevel, writeLevel, readWL, readBL, writeWL, writeBL sql.NullString
		deletedAt, deleteReason                                 sql.NullString
		deleted                                                 int
		createdAt, updatedAt                                    string
	)

	err := row.Scan(
		&m.ID, &m.Text, &typ, &subject, &tm, &location, &topic, &facets, &tags, &m.Weight, &source,
		&embedding, &embDim, &embModel, &embProvider,
		&expireAt, &expireAction, &expireReason,
		&lockMode, &lockReason, &lockPolicy, &lockExpires,
		&autoFreq, &nextAuto,
		&parents, &children,
		&readLevel, &writeLevel, &readWL, &readBL, &writeWL, &writeBL,
		&deleted, &deletedAt, &deleteReason, &createdAt, &updatedAt,
	)
	if err != nil {
		return m, err
	}

	m.Type = typ.String
	m.Subject = subject.String
	m.Time = parseTime(tm)
	m.Location = location.String
	m.Topic = topic.String
	m.Source = source.String
	m.ExpireAt = parseTime(expireAt)
	m.ExpireAction = model.ExpireAction(expireAction.String)
	m.ExpireReason = expireReason.String
	m.LockMode = model.LockMode(lockMode.String)
	m.LockReason = lockReason.String
	m.LockExpires = parseTime(lockExpires)
	m.AutoFrequency = autoFreq.String
	m.NextAutoUpdateAt = parseTime(nextAuto)
	m.Permissions.ReadLevel = readLevel.String
	m.Permissions.WriteLevel = writeLevel.String
	m.Deleted = deleted != 0
	m.DeletedAt = parseTime(deletedAt)
	m.DeleteReason = deleteReason.String
	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	m.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

	decodes := []struct {
		col string
		src sql.NullString
		dst any
	}{
		{"facets", facets, &m.Facets},
		{"tags", tags, &m.Tags},
		{"lock_policy", lockPolicy, &m.LockPolicy},
		{"lineage_parents", parents, &m.LineageParents},
		{"lineage_children", children, &m.LineageChildren},
		{"read_whitelist", readWL, &m.Permissions.ReadWhitelist},
		{"read_blacklist", readBL, &m.Permissions.ReadBlacklist},
		{"write_whitelist", writeWL, &m.Permissions.WriteWhitelist},
		{"write_blacklist", writeBL, &m.Permissions.WriteBlacklist},
	}
	for _, d := range decodes {
		if !d.src.Valid || d.src.String == "" {
			continue
		}
		if err := json.Unmarshal([]byte(d.src.String), d.dst); err != nil {
			return m, fmt.Errorf("decode %s of memory %d: %w", d.col, m.ID, err)
		}
	}

	if embedding.Valid && embedding.String != "" {
		var vec []float32
		if err := json.Unmarshal([]byte(embedding.String), &vec); err != nil {
			return m, fmt.Errorf("decode embedding of memory %d: %w", m.ID, err)
		}
		m.Embedding = &model.Embedding{
			Vector:   vec,
			Dim:      int(embDim.Int64),
			Model:    embModel.String,
			Provider: embProvider.String,
		}
		if m.Embedding.Dim == 0 {
			m.Embedding.Dim = len(vec)
		}
	}

	return m, nil
}

// memoryValues returns column values in memoryColumns order, without id.
func memoryValues(m *model.Memory) ([]any, error) {
	var embedding, embModel, embProvider any
	var embDim any
	if m.Embedding != nil && len(m.Embedding.Vector) > 0 {
		b, err := json.Marshal(m.Embedding.Vector)
		if err != nil {
			return nil, fmt.Errorf("encode embedding: %w", err)
		}
		embedding = string(b)
		embDim = len(m.Embedding.Vector)
		embModel = nullString(m.Embedding.Model)
		embProvider = nullString(m.Embedding.Provider)
	}

	var lockPolicy any
	if m.LockPolicy != nil {
		b, err := json.Marshal(m.LockPolicy)
		if err != nil {
			return nil, fmt.Errorf("encode lock_policy: %w", err)
		}
		lockPolicy = string(b)
	}

	deleted := 0
	if m.Deleted {
		deleted = 1
	}

	return []any{
		m.Text, nullString(m.Type), nullString(m.Subject), formatTime(m.Time),
		nullString(m.Location), nullString(m.Topic), jsonColumn(m.Facets, len(m.Facets) == 0),
		jsonColumn(m.Tags, len(m.Tags) == 0), m.Weight, nullString(m.Source),
		embedding, embDim, embModel, embProvider,
		formatTime(m.ExpireAt), nullString(string(m.ExpireAction)), nullString(m.ExpireReason),
		nullString(string(m.LockMode)), nullString(m.LockReason), lockPolicy, formatTime(m.LockExpires),
		nullString(m.AutoFrequency), formatTime(m.NextAutoUpdateAt),
		jsonColumn(m.LineageParents, len(m.LineageParents) == 0),
		jsonColumn(m.LineageChildren, len(m.LineageChildren) == 0),
		nullString(m.Permissions.ReadLevel), nullString(m.Permissions.WriteLevel),
		jsonColumn(m.Permissions.ReadWhitelist, len(m.Permissions.ReadWhitelist) == 0),
		jsonColumn(m.Permissions.ReadBlacklist, len(m.Permissions.ReadBlacklist) == 0),
		jsonColumn(m.Permissions.WriteWhitelist, len(m.Permissions.WriteWhitelist) == 0),
		jsonColumn(m.Permissions.WriteBlacklist, len(m.Permissions.WriteBlacklist) == 0),
		deleted, formatTime(m.DeletedAt), nullString(m.DeleteReason),
		m.CreatedAt.UTC().Format(timeLayout), m.UpdatedAt.UTC().Format(timeLayout),
	}, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func jsonColumn(v any, empty bool) any {
	if empty {
		return nil
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
