package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"evalgo.org/gridstore/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	"github.com/sirupsen/logrus"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// dialect captures the differences between the SQL backends.
type dialect struct {
	name    string
	driver  string
	schema  []string
	noLimit string
	// numbered placeholders ($1, $2) instead of ?
	numbered bool
	isUnique func(error) bool
}

var sqliteDialect = dialect{
	name:    "sqlite",
	driver:  "sqlite",
	noLimit: "-1",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS resources (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			network TEXT NOT NULL,
			kind TEXT NOT NULL,
			id TEXT NOT NULL,
			body TEXT NOT NULL,
			UNIQUE (network, kind, id)
		)`,
		`CREATE TABLE IF NOT EXISTS resource_containers (
			network TEXT NOT NULL,
			kind TEXT NOT NULL,
			container_id TEXT NOT NULL,
			id TEXT NOT NULL,
			PRIMARY KEY (network, kind, container_id, id)
		)`,
		`CREATE INDEX IF NOT EXISTS resource_containers_by_id ON resource_containers (network, kind, id)`,
	},
	isUnique: func(err error) bool {
		var se *sqlite.Error
		if !errors.As(err, &se) {
			return false
		}
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	},
}

var postgresDialect = dialect{
	name:     "postgres",
	driver:   "pgx",
	noLimit:  "ALL",
	numbered: true,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS resources (
			seq BIGSERIAL PRIMARY KEY,
			network TEXT NOT NULL,
			kind TEXT NOT NULL,
			id TEXT NOT NULL,
			body JSONB NOT NULL,
			UNIQUE (network, kind, id)
		)`,
		`CREATE TABLE IF NOT EXISTS resource_containers (
			network TEXT NOT NULL,
			kind TEXT NOT NULL,
			container_id TEXT NOT NULL,
			id TEXT NOT NULL,
			PRIMARY KEY (network, kind, container_id, id)
		)`,
		`CREATE INDEX IF NOT EXISTS resource_containers_by_id ON resource_containers (network, kind, id)`,
	},
	isUnique: func(err error) bool {
		var pgErr *pgconn.PgError
		return errors.As(err, &pgErr) && pgErr.Code == "23505"
	},
}

// rebind rewrites ? placeholders for dialects using numbered parameters.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLStore is a Client over database/sql. Records live in the resources
// table as JSON bodies ordered by an insertion sequence; the
// resource_containers table holds one row per (record, container) pair so
// container listings are a join.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  logrus.FieldLogger
}

var _ Client = (*SQLStore)(nil)

// NewSQLite opens (and creates if needed) a SQLite database file.
func NewSQLite(ctx context.Context, path string, logger logrus.FieldLogger) (*SQLStore, error) {
	if path == "" {
		path = "gridstore.db"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open(sqliteDialect.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single connection serializes writers and keeps :memory: databases shared
	db.SetMaxOpenConns(1)
	return newSQLStore(ctx, db, sqliteDialect, logger)
}

// NewPostgres connects to Postgres through the pgx database/sql driver.
func NewPostgres(ctx context.Context, dsn string, logger logrus.FieldLogger) (*SQLStore, error) {
	db, err := sql.Open(postgresDialect.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return newSQLStore(ctx, db, postgresDialect, logger)
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect, logger logrus.FieldLogger) (*SQLStore, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	for _, stmt := range d.schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %s schema: %w", d.name, err)
		}
	}
	logger.WithField("dialect", d.name).Info("SQL store ready")
	return &SQLStore{db: db, dialect: d, logger: logger}, nil
}

// DB exposes the underlying sql.DB for tests.
func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) FetchOne(ctx context.Context, network uuid.UUID, kind models.Kind, id string) (*models.Resource, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx,
		s.dialect.rebind(`SELECT body FROM resources WHERE network = ? AND kind = ? AND id = ?`),
		network.String(), string(kind), id,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NotFound(kind, id)
	}
	if err != nil {
		return nil, models.Unavailable(string(OpFetchOne), err)
	}
	return decodeBody(body)
}

func (s *SQLStore) FetchMany(ctx context.Context, network uuid.UUID, kind models.Kind, q Query) (*Page, error) {
	from := ` FROM resources r WHERE r.network = ? AND r.kind = ?`
	args := []any{network.String(), string(kind)}
	if q.ContainerID != "" {
		from = ` FROM resources r JOIN resource_containers c
			ON c.network = r.network AND c.kind = r.kind AND c.id = r.id
			WHERE r.network = ? AND r.kind = ? AND c.container_id = ?`
		args = append(args, q.ContainerID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, models.Unavailable(string(OpFetchMany), err)
	}
	defer func() { _ = tx.Rollback() }()

	page := &Page{}
	if err := tx.QueryRowContext(ctx, s.dialect.rebind(`SELECT COUNT(*)`+from), args...).Scan(&page.TotalCount); err != nil {
		return nil, models.Unavailable(string(OpFetchMany), err)
	}

	limit := s.dialect.noLimit
	if q.Limit > 0 {
		limit = strconv.Itoa(q.Limit)
	}
	offset := max(q.Offset, 0)
	query := fmt.Sprintf(`SELECT r.body%s ORDER BY r.seq LIMIT %s OFFSET %d`, from, limit, offset)

	rows, err := tx.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, models.Unavailable(string(OpFetchMany), err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, models.Unavailable(string(OpFetchMany), err)
		}
		res, err := decodeBody(body)
		if err != nil {
			return nil, err
		}
		page.Resources = append(page.Resources, res)
	}
	if err := rows.Err(); err != nil {
		return nil, models.Unavailable(string(OpFetchMany), err)
	}
	return page, nil
}

func (s *SQLStore) CreateBatch(ctx context.Context, network uuid.UUID, kind models.Kind, resources []*models.Resource) error {
	if err := checkBatch(kind, resources); err != nil {
		return err
	}
	return s.inTx(ctx, OpCreateBatch, func(tx *sql.Tx) error {
		for _, r := range resources {
			var exists int
			err := tx.QueryRowContext(ctx,
				s.dialect.rebind(`SELECT COUNT(*) FROM resources WHERE network = ? AND kind = ? AND id = ?`),
				network.String(), string(kind), r.ID,
			).Scan(&exists)
			if err != nil {
				return err
			}
			if exists > 0 {
				return models.DuplicateID(kind, r.ID)
			}
		}
		for _, r := range resources {
			body, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("encode %s %s: %w", kind, r.ID, err)
			}
			_, err = tx.ExecContext(ctx,
				s.dialect.rebind(`INSERT INTO resources (network, kind, id, body) VALUES (?, ?, ?, ?)`),
				network.String(), string(kind), r.ID, string(body),
			)
			if err != nil {
				if s.dialect.isUnique(err) {
					return models.DuplicateID(kind, r.ID)
				}
				return err
			}
			if err := s.insertContainers(ctx, tx, network, r); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLStore) UpdateBatch(ctx context.Context, network uuid.UUID, kind models.Kind, resources []*models.Resource) error {
	if err := checkBatch(kind, resources); err != nil {
		return err
	}
	return s.inTx(ctx, OpUpdateBatch, func(tx *sql.Tx) error {
		for _, r := range resources {
			body, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("encode %s %s: %w", kind, r.ID, err)
			}
			res, err := tx.ExecContext(ctx,
				s.dialect.rebind(`UPDATE resources SET body = ? WHERE network = ? AND kind = ? AND id = ?`),
				string(body), network.String(), string(kind), r.ID,
			)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				return models.NotFound(kind, r.ID)
			}
			if err := s.deleteContainers(ctx, tx, network, kind, r.ID); err != nil {
				return err
			}
			if err := s.insertContainers(ctx, tx, network, r); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLStore) DeleteOne(ctx context.Context, network uuid.UUID, kind models.Kind, id string) error {
	return s.inTx(ctx, OpDeleteOne, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			s.dialect.rebind(`DELETE FROM resources WHERE network = ? AND kind = ? AND id = ?`),
			network.String(), string(kind), id,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return models.NotFound(kind, id)
		}
		return s.deleteContainers(ctx, tx, network, kind, id)
	})
}

func (s *SQLStore) ListNetworks(ctx context.Context) ([]*models.Resource, error) {
	rows, err := s.db.QueryContext(ctx,
		s.dialect.rebind(`SELECT body FROM resources WHERE kind = ? ORDER BY id`),
		string(models.KindNetwork),
	)
	if err != nil {
		return nil, models.Unavailable(string(OpListNetworks), err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.Resource
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, models.Unavailable(string(OpListNetworks), err)
		}
		res, err := decodeBody(body)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, models.Unavailable(string(OpListNetworks), err)
	}
	return out, nil
}

func (s *SQLStore) DeleteNetwork(ctx context.Context, network uuid.UUID) error {
	return s.inTx(ctx, OpDeleteNetwork, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.dialect.rebind(`DELETE FROM resources WHERE network = ?`), network.String())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return models.NotFound(models.KindNetwork, network.String())
		}
		_, err = tx.ExecContext(ctx, s.dialect.rebind(`DELETE FROM resource_containers WHERE network = ?`), network.String())
		return err
	})
}

// Close closes the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// inTx runs fn in a transaction. Errors from the taxonomy pass through,
// anything else is reported as the store being unavailable.
func (s *SQLStore) inTx(ctx context.Context, op Op, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Unavailable(string(op), err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		var merr *models.Error
		if errors.As(err, &merr) {
			return err
		}
		return models.Unavailable(string(op), err)
	}
	if err := tx.Commit(); err != nil {
		return models.Unavailable(string(op), err)
	}
	return nil
}

func (s *SQLStore) insertContainers(ctx context.Context, tx *sql.Tx, network uuid.UUID, r *models.Resource) error {
	for _, c := range r.Containers() {
		_, err := tx.ExecContext(ctx,
			s.dialect.rebind(`INSERT INTO resource_containers (network, kind, container_id, id) VALUES (?, ?, ?, ?)`),
			network.String(), string(r.Kind), c, r.ID,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) deleteContainers(ctx context.Context, tx *sql.Tx, network uuid.UUID, kind models.Kind, id string) error {
	_, err := tx.ExecContext(ctx,
		s.dialect.rebind(`DELETE FROM resource_containers WHERE network = ? AND kind = ? AND id = ?`),
		network.String(), string(kind), id,
	)
	return err
}

func decodeBody(body []byte) (*models.Resource, error) {
	var res models.Resource
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode stored resource: %w", err)
	}
	return &res, nil
}
