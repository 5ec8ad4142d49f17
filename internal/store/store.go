package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/robbiemu-homelab/keyvault/internal/model"
	"github.com/robbiemu-homelab/keyvault/internal/pkg/searchql"
)

// ErrNotFound is returned when no secret exists under the requested key.
var ErrNotFound = errors.New("secret not found")

// searchSQL is the project-scoped SELECT the compiled query fragment is
// embedded into. The fragment itself contains no placeholders; $1 binds the
// project scope.
const searchSQL = "SELECT secret_key, project_key, secret_value FROM secrets WHERE project_key = $1 AND (%s)"

const exportSQL = "SELECT secret_key, project_key, secret_value FROM secrets WHERE project_key = $1 ORDER BY secret_key"

const statsSQL = "SELECT COUNT(*) FROM secrets WHERE project_key = $1"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS secrets (
    project_key  TEXT  NOT NULL,
    secret_key   TEXT  NOT NULL,
    secret_value JSONB NOT NULL,
    PRIMARY KEY (project_key, secret_key)
)`

// Config describes how to reach the database. The two DSNs usually carry
// different credentials: a read-only role and a writer role.
type Config struct {
	ReadDSN  string
	WriteDSN string
	MaxConns int32
	Queries  Queries
}

// Store executes all secret operations against Postgres. Reads run on the
// read pool, mutations on the write pool.
type Store struct {
	read    *pgxpool.Pool
	write   *pgxpool.Pool
	queries Queries
}

// Open connects both pools and verifies they can reach the database.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	read, err := newPool(ctx, cfg.ReadDSN, cfg.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("failed to open read pool: %w", err)
	}

	write, err := newPool(ctx, cfg.WriteDSN, cfg.MaxConns)
	if err != nil {
		read.Close()
		return nil, fmt.Errorf("failed to open write pool: %w", err)
	}

	return &Store{read: read, write: write, queries: cfg.Queries}, nil
}

func newPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func (s *Store) Close() {
	s.read.Close()
	s.write.Close()
}

// Ping checks both pools, read first.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.read.Ping(ctx); err != nil {
		return fmt.Errorf("read pool: %w", err)
	}
	if err := s.write.Ping(ctx); err != nil {
		return fmt.Errorf("write pool: %w", err)
	}
	return nil
}

// EnsureSchema creates the secrets table when it does not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.write.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Get returns the raw JSON value stored under key in the project scope.
func (s *Store) Get(ctx context.Context, project, key string) (json.RawMessage, error) {
	stmt, err := s.queries.Get(QueryGetSecret)
	if err != nil {
		return nil, err
	}

	var value json.RawMessage
	if err := s.read.QueryRow(ctx, stmt, key, project).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch secret: %w", err)
	}
	return value, nil
}

// Upsert stores value under key, replacing any previous value.
func (s *Store) Upsert(ctx context.Context, project, key string, value json.RawMessage) error {
	stmt, err := s.queries.Get(QueryUpsertSecret)
	if err != nil {
		return err
	}

	if _, err := s.write.Exec(ctx, stmt, project, key, value); err != nil {
		return fmt.Errorf("failed to upsert secret: %w", err)
	}
	return nil
}

// Delete removes key from the project scope. Deleting an absent key is not
// an error.
func (s *Store) Delete(ctx context.Context, project, key string) error {
	stmt, err := s.queries.Get(QueryDeleteSecret)
	if err != nil {
		return err
	}

	if _, err := s.write.Exec(ctx, stmt, key, project); err != nil {
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	return nil
}

// Search compiles the query into a SQL fragment and runs the composed
// statement on the read pool. A compile failure surfaces as a
// *searchql.SyntaxError in the chain.
func (s *Store) Search(ctx context.Context, project, query string) ([]model.Secret, error) {
	fragment, err := searchql.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compile search query: %w", err)
	}

	rows, err := s.read.Query(ctx, searchStatement(fragment), project)
	if err != nil {
		return nil, fmt.Errorf("search query failed: %w", err)
	}
	defer rows.Close()

	return scanSecrets(rows)
}

// searchStatement embeds a compiled fragment into the scoped SELECT.
func searchStatement(fragment string) string {
	return fmt.Sprintf(searchSQL, fragment)
}

// ListOptions narrow a key listing.
type ListOptions struct {
	Prefix string
	Limit  int
	Offset int
}

// List returns the keys stored in the project scope, ordered, optionally
// filtered by prefix and paginated.
func (s *Store) List(ctx context.Context, project string, opts ListOptions) ([]string, error) {
	stmt, args, err := listStatement(project, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to build list query: %w", err)
	}

	rows, err := s.read.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list query failed: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list query failed: %w", err)
	}
	return keys, nil
}

func listStatement(project string, opts ListOptions) (string, []interface{}, error) {
	builder := sq.Select("secret_key").
		From("secrets").
		Where(sq.Eq{"project_key": project}).
		OrderBy("secret_key").
		PlaceholderFormat(sq.Dollar)

	if opts.Prefix != "" {
		builder = builder.Where(sq.Like{"secret_key": escapeLikePrefix(opts.Prefix) + "%"})
	}
	if opts.Limit > 0 {
		builder = builder.Limit(uint64(opts.Limit))
	}
	if opts.Offset > 0 {
		builder = builder.Offset(uint64(opts.Offset))
	}

	return builder.ToSql()
}

var likePrefixEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLikePrefix neutralizes LIKE metacharacters in a user-supplied prefix
// so the trailing wildcard is the only one in the pattern.
func escapeLikePrefix(prefix string) string {
	return likePrefixEscaper.Replace(prefix)
}

// Stats summarizes a project's stored secrets.
type Stats struct {
	Project string `json:"project_key"`
	Secrets int64  `json:"secrets"`
}

func (s *Store) Stats(ctx context.Context, project string) (Stats, error) {
	stats := Stats{Project: project}
	if err := s.read.QueryRow(ctx, statsSQL, project).Scan(&stats.Secrets); err != nil {
		return Stats{}, fmt.Errorf("stats query failed: %w", err)
	}
	return stats, nil
}

// ExportAll returns every secret in the project scope, ordered by key.
func (s *Store) ExportAll(ctx context.Context, project string) ([]model.Secret, error) {
	rows, err := s.read.Query(ctx, exportSQL, project)
	if err != nil {
		return nil, fmt.Errorf("export query failed: %w", err)
	}
	defer rows.Close()

	return scanSecrets(rows)
}

// ImportAll upserts the given secrets into the project scope in one
// transaction. The project on each row is ignored; restores always land in
// the caller's scope.
func (s *Store) ImportAll(ctx context.Context, project string, secrets []model.Secret) error {
	stmt, err := s.queries.Get(QueryUpsertSecret)
	if err != nil {
		return err
	}

	tx, err := s.write.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin import: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, sec := range secrets {
		if _, err := tx.Exec(ctx, stmt, project, sec.Key, sec.Value); err != nil {
			return fmt.Errorf("failed to import secret %q: %w", sec.Key, err)
		}
	}
	return tx.Commit(ctx)
}

func scanSecrets(rows pgx.Rows) ([]model.Secret, error) {
	var secrets []model.Secret
	for rows.Next() {
		var sec model.Secret
		if err := rows.Scan(&sec.Key, &sec.Project, &sec.Value); err != nil {
			return nil, fmt.Errorf("failed to scan secret row: %w", err)
		}
		secrets = append(secrets, sec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}
	return secrets, nil
}
