package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"hubroute/internal/solve"
	"hubroute/internal/twotier"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// Migrate creates the schema. Dev helper; production uses managed migrations.
func (p *Postgres) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS solves (
			id TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			strategy TEXT NOT NULL,
			status TEXT NOT NULL,
			stop_count INT NOT NULL DEFAULT 0,
			error TEXT,
			result JSONB
		)`,
		`CREATE TABLE IF NOT EXISTS search_metrics (
			solve_id TEXT NOT NULL REFERENCES solves(id) ON DELETE CASCADE,
			tier TEXT NOT NULL,
			metrics JSONB NOT NULL,
			PRIMARY KEY (solve_id, tier)
		)`,
		`CREATE INDEX IF NOT EXISTS solves_created_at_idx ON solves (created_at DESC)`,
	}
	for _, s := range stmts {
		if _, err := p.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (p *Postgres) CreateSolve(ctx context.Context, rec SolveRecord) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO solves (id, created_at, strategy, status, stop_count) VALUES ($1,$2,$3,$4,$5)`,
		rec.ID, rec.CreatedAt, rec.Strategy, rec.Status, rec.StopCount)
	return err
}

func (p *Postgres) FinishSolve(ctx context.Context, id, status, errMsg string, res *twotier.Result) error {
	var blob any
	if res != nil {
		b, err := json.Marshal(res)
		if err != nil {
			return err
		}
		blob = b
	}
	tag, err := p.db.ExecContext(ctx,
		`UPDATE solves SET status=$2, error=NULLIF($3,''), result=$4 WHERE id=$1`,
		id, status, errMsg, blob)
	if err != nil {
		return err
	}
	if n, _ := tag.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) GetSolve(ctx context.Context, id string) (SolveRecord, error) {
	var rec SolveRecord
	var errMsg sql.NullString
	var blob []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT id, created_at, strategy, status, stop_count, error, result FROM solves WHERE id=$1`,
		id).Scan(&rec.ID, &rec.CreatedAt, &rec.Strategy, &rec.Status, &rec.StopCount, &errMsg, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return SolveRecord{}, ErrNotFound
	}
	if err != nil {
		return SolveRecord{}, err
	}
	rec.Error = errMsg.String
	if len(blob) > 0 {
		var res twotier.Result
		if jerr := json.Unmarshal(blob, &res); jerr == nil {
			rec.Result = &res
		}
	}
	return rec, nil
}

func (p *Postgres) ListSolves(ctx context.Context, cursor string, limit int) ([]SolveRecord, string, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	q := `SELECT id, created_at, strategy, status, stop_count, COALESCE(error,'')
	      FROM solves`
	args := []any{}
	if cursor != "" {
		q += ` WHERE created_at < (SELECT created_at FROM solves WHERE id=$1)`
		args = append(args, cursor)
	}
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit+1)
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	var out []SolveRecord
	for rows.Next() {
		var rec SolveRecord
		if err := rows.Scan(&rec.ID, &rec.CreatedAt, &rec.Strategy, &rec.Status, &rec.StopCount, &rec.Error); err != nil {
			return nil, "", err
		}
		out = append(out, rec)
	}
	next := ""
	if len(out) > limit {
		out = out[:limit]
		next = out[limit-1].ID
	}
	return out, next, rows.Err()
}

func (p *Postgres) SaveSearchMetrics(ctx context.Context, solveID, tier string, m solve.Metrics) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO search_metrics (solve_id, tier, metrics) VALUES ($1,$2,$3)
		 ON CONFLICT (solve_id, tier) DO UPDATE SET metrics=EXCLUDED.metrics`,
		solveID, tier, b)
	return err
}

func (p *Postgres) ListSearchMetrics(ctx context.Context, solveID string) (map[string]solve.Metrics, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT tier, metrics FROM search_metrics WHERE solve_id=$1`, solveID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]solve.Metrics{}
	for rows.Next() {
		var tier string
		var blob []byte
		if err := rows.Scan(&tier, &blob); err != nil {
			return nil, err
		}
		var m solve.Metrics
		if err := json.Unmarshal(blob, &m); err != nil {
			return nil, err
		}
		out[tier] = m
	}
	return out, rows.Err()
}

func (p *Postgres) Close() error { return p.db.Close() }
