// Package postgres provides Postgres-backed persistence for planning
// applications and scrape session logs.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/planwatch/planwatch/internal/scraper"
)

// querier is the subset of pgxpool.Pool the store needs. pgxmock satisfies
// it too, which keeps the tests off a live database.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// Store implements scraper.Store on Postgres.
type Store struct {
	db       querier
	keywords []string
	logger   *zap.Logger
	builder  sq.StatementBuilderType
}

// New connects a pool and returns the store. The configured keywords drive
// the per-keyword statistics breakdown.
func New(ctx context.Context, cfg Config, keywords []string, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithDB(pool, keywords, logger), nil
}

// NewWithDB constructs a store from an existing pool (primarily for testing).
func NewWithDB(db querier, keywords []string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:       db,
		keywords: keywords,
		logger:   logger,
		builder:  sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

// EnsureSchema creates the tables and indexes if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

const insertApplicationSQL = `
INSERT INTO planning_applications (
	project_id, borough, title, address, submission_date,
	application_url, detected_keywords, source_url, scraped_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (project_id, borough) DO NOTHING`

// InsertOrIgnore inserts one application, reporting whether the row was new.
// Duplicates on (project_id, borough) are silently skipped.
func (s *Store) InsertOrIgnore(ctx context.Context, app scraper.PlanningApplication) (bool, error) {
	tag, err := s.db.Exec(ctx, insertApplicationSQL, applicationArgs(app)...)
	if err != nil {
		return false, fmt.Errorf("insert application %s/%s: %w", app.Borough, app.ProjectID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// BulkInsert inserts a batch in one transaction and reports the batch size
// and how many rows were actually new.
func (s *Store) BulkInsert(ctx context.Context, apps []scraper.PlanningApplication) (int, int, error) {
	if len(apps) == 0 {
		return 0, 0, nil
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("begin bulk insert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	inserted := 0
	for _, app := range apps {
		tag, err := tx.Exec(ctx, insertApplicationSQL, applicationArgs(app)...)
		if err != nil {
			return 0, 0, fmt.Errorf("insert application %s/%s: %w", app.Borough, app.ProjectID, err)
		}
		inserted += int(tag.RowsAffected())
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("commit bulk insert: %w", err)
	}
	return len(apps), inserted, nil
}

func applicationArgs(app scraper.PlanningApplication) []any {
	return []any{
		app.ProjectID,
		app.Borough,
		app.Title,
		app.Address,
		nullIfEmpty(app.SubmissionDate),
		app.ApplicationURL,
		strings.Join(app.DetectedKeywords, ", "),
		app.SourceURL,
		app.ScrapedAt,
	}
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// LogSession records one finished scrape session.
func (s *Store) LogSession(ctx context.Context, session scraper.ScrapeSession) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO scrape_sessions (
	id, borough, keywords, started_at, finished_at,
	total_found, new_found, requests, status, error_message
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		session.ID,
		session.Borough,
		strings.Join(session.Keywords, ", "),
		session.StartedAt,
		session.FinishedAt,
		session.TotalFound,
		session.NewFound,
		session.Requests,
		string(session.Status),
		session.Error,
	)
	if err != nil {
		return fmt.Errorf("log session %s: %w", session.ID, err)
	}
	return nil
}

var applicationColumns = []string{
	"project_id", "borough", "title", "address", "submission_date",
	"application_url", "detected_keywords", "source_url", "scraped_at",
}

// Query returns stored applications matching the filter, newest submissions
// first.
func (s *Store) Query(ctx context.Context, filter scraper.QueryFilter) ([]scraper.PlanningApplication, error) {
	qb := s.builder.
		Select(applicationColumns...).
		From("planning_applications").
		OrderBy("submission_date DESC NULLS LAST", "scraped_at DESC")

	if filter.Borough != "" {
		qb = qb.Where(sq.Eq{"borough": filter.Borough})
	}
	if filter.Keyword != "" {
		qb = qb.Where(sq.Like{"detected_keywords": "%" + filter.Keyword + "%"})
	}
	if filter.DateFrom != "" {
		qb = qb.Where(sq.GtOrEq{"submission_date": filter.DateFrom})
	}
	if filter.DateTo != "" {
		qb = qb.Where(sq.LtOrEq{"submission_date": filter.DateTo})
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query applications: %w", err)
	}
	defer rows.Close()

	var apps []scraper.PlanningApplication
	for rows.Next() {
		var (
			app      scraper.PlanningApplication
			date     *string
			keywords string
		)
		if err := rows.Scan(
			&app.ProjectID,
			&app.Borough,
			&app.Title,
			&app.Address,
			&date,
			&app.ApplicationURL,
			&keywords,
			&app.SourceURL,
			&app.ScrapedAt,
		); err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}
		if date != nil {
			app.SubmissionDate = *date
		}
		app.DetectedKeywords = splitKeywords(keywords)
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applications: %w", err)
	}
	return apps, nil
}

func splitKeywords(joined string) []string {
	if joined == "" {
		return nil
	}
	parts := strings.Split(joined, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Statistics summarizes the stored corpus for the dashboard.
func (s *Store) Statistics(ctx context.Context) (scraper.Statistics, error) {
	stats := scraper.Statistics{
		ByBorough:    make(map[string]int),
		ByKeyword:    make(map[string]int),
		LastSessions: make(map[string]time.Time),
	}

	if err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM planning_applications`,
	).Scan(&stats.TotalApplications); err != nil {
		return stats, fmt.Errorf("count applications: %w", err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT borough, COUNT(*) FROM planning_applications GROUP BY borough`)
	if err != nil {
		return stats, fmt.Errorf("count by borough: %w", err)
	}
	if err := scanCounts(rows, stats.ByBorough); err != nil {
		return stats, err
	}

	for _, keyword := range s.keywords {
		var n int
		if err := s.db.QueryRow(ctx,
			`SELECT COUNT(*) FROM planning_applications WHERE detected_keywords LIKE $1`,
			"%"+keyword+"%",
		).Scan(&n); err != nil {
			return stats, fmt.Errorf("count keyword %q: %w", keyword, err)
		}
		stats.ByKeyword[keyword] = n
	}

	sessionRows, err := s.db.Query(ctx, `
SELECT borough, MAX(finished_at)
FROM scrape_sessions
WHERE status = 'success'
GROUP BY borough`)
	if err != nil {
		return stats, fmt.Errorf("query last sessions: %w", err)
	}
	defer sessionRows.Close()
	for sessionRows.Next() {
		var (
			borough  string
			finished time.Time
		)
		if err := sessionRows.Scan(&borough, &finished); err != nil {
			return stats, fmt.Errorf("scan last session: %w", err)
		}
		stats.LastSessions[borough] = finished
	}
	if err := sessionRows.Err(); err != nil {
		return stats, fmt.Errorf("iterate last sessions: %w", err)
	}
	return stats, nil
}

func scanCounts(rows pgx.Rows, into map[string]int) error {
	defer rows.Close()
	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan count row: %w", err)
		}
		into[key] = n
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate count rows: %w", err)
	}
	return nil
}
