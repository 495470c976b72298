package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rendis/taskweave/internal/steps"
	"github.com/rendis/taskweave/pkg/schema"
)

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and verifies the connection.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("new pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, pgTarget{pool: s.pool}, postgresMigrations)
}

// --- Workflows ---

func (s *PostgresStore) PutWorkflow(ctx context.Context, rec *WorkflowRecord) error {
	if err := checkRecord(rec); err != nil {
		return err
	}
	doc, err := json.Marshal(rec.Workflow)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}
	query := `
		INSERT INTO workflows (name, description, document, entry_point, task_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (name) DO UPDATE SET
			description = EXCLUDED.description,
			document    = EXCLUDED.document,
			entry_point = EXCLUDED.entry_point,
			task_count  = EXCLUDED.task_count,
			updated_at  = EXCLUDED.updated_at
	`
	_, err = s.pool.Exec(ctx, query,
		rec.Name,
		nullStr(rec.Description),
		doc,
		rec.Workflow.EntryPoint,
		len(rec.Workflow.Tasks),
		timeOrNow(rec.CreatedAt),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert workflow: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetWorkflow(ctx context.Context, name string) (*WorkflowRecord, error) {
	rec := &WorkflowRecord{Name: name}
	var desc *string
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT description, document, created_at, updated_at FROM workflows WHERE name = $1`, name,
	).Scan(&desc, &doc, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storeNotFound("workflow", name)
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	if desc != nil {
		rec.Description = *desc
	}
	if rec.Workflow, err = schema.ParseWorkflow(doc); err != nil {
		return nil, fmt.Errorf("decode workflow %q: %w", name, err)
	}
	return rec, nil
}

func (s *PostgresStore) ListWorkflows(ctx context.Context) ([]*WorkflowSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, description, entry_point, task_count, updated_at FROM workflows ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var out []*WorkflowSummary
	for rows.Next() {
		sum := &WorkflowSummary{}
		var desc *string
		if err := rows.Scan(&sum.Name, &desc, &sum.EntryPoint, &sum.TaskCount, &sum.UpdatedAt); err != nil {
			return nil, err
		}
		if desc != nil {
			sum.Description = *desc
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteWorkflow(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM workflows WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storeNotFound("workflow", name)
	}
	return nil
}

// --- Executors ---

func (s *PostgresStore) SaveExecutor(ctx context.Context, def *steps.Definition) error {
	var example []byte
	if def.Example != nil {
		var err error
		if example, err = json.Marshal(def.Example); err != nil {
			return fmt.Errorf("marshal example: %w", err)
		}
	}
	query := `
		INSERT INTO executors (kind, engine, source, description, type_definition, example, origin, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (kind) DO UPDATE SET
			engine          = EXCLUDED.engine,
			source          = EXCLUDED.source,
			description     = EXCLUDED.description,
			type_definition = EXCLUDED.type_definition,
			example         = EXCLUDED.example,
			origin          = EXCLUDED.origin
	`
	_, err := s.pool.Exec(ctx, query,
		def.Kind,
		def.Engine,
		def.Source,
		nullStr(def.Description),
		nullStr(def.TypeDefinition),
		example,
		originOrUser(def.Origin),
		timeOrNow(def.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert executor: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetExecutor(ctx context.Context, kind string) (*steps.Definition, error) {
	def, err := scanPgExecutor(s.pool.QueryRow(ctx,
		`SELECT `+executorColumns+` FROM executors WHERE kind = $1`, kind))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storeNotFound("executor", kind)
	}
	return def, err
}

func (s *PostgresStore) ListExecutors(ctx context.Context) ([]*steps.Definition, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+executorColumns+` FROM executors ORDER BY kind`)
	if err != nil {
		return nil, fmt.Errorf("list executors: %w", err)
	}
	defer rows.Close()

	var out []*steps.Definition
	for rows.Next() {
		def, err := scanPgExecutor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteExecutor(ctx context.Context, kind string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM executors WHERE kind = $1`, kind)
	if err != nil {
		return fmt.Errorf("delete executor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storeNotFound("executor", kind)
	}
	return nil
}

func scanPgExecutor(row pgx.Row) (*steps.Definition, error) {
	def := &steps.Definition{}
	var desc, typeDef *string
	var example []byte
	if err := row.Scan(&def.Kind, &def.Engine, &def.Source, &desc, &typeDef, &example, &def.Origin, &def.CreatedAt); err != nil {
		return nil, err
	}
	if desc != nil {
		def.Description = *desc
	}
	if typeDef != nil {
		def.TypeDefinition = *typeDef
	}
	if len(example) > 0 {
		if err := json.Unmarshal(example, &def.Example); err != nil {
			return nil, fmt.Errorf("decode example for %q: %w", def.Kind, err)
		}
	}
	return def, nil
}

// --- Scheduled Jobs ---

func (s *PostgresStore) CreateScheduledJob(ctx context.Context, job *ScheduledJob) error {
	inputs, err := marshalInputs(job.Inputs)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO scheduled_jobs (id, workflow, cron_expression, inputs, enabled,
		                            last_run_at, next_run_at, last_run_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = s.pool.Exec(ctx, query,
		job.ID,
		job.Workflow,
		job.CronExpression,
		[]byte(inputs),
		job.Enabled,
		job.LastRunAt,
		job.NextRunAt,
		nullStr(job.LastRunStatus),
		timeOrNow(job.CreatedAt),
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return schema.NewErrorf(schema.ErrCodeConflict, "scheduled job %q already exists", job.ID).WithCause(err)
	}
	if err != nil {
		return fmt.Errorf("insert scheduled job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error) {
	job, err := scanPgJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM scheduled_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storeNotFound("scheduled job", id)
	}
	return job, err
}

func (s *PostgresStore) UpdateScheduledJob(ctx context.Context, id string, update ScheduledJobUpdate) error {
	var sets []string
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if update.Enabled != nil {
		add("enabled", *update.Enabled)
	}
	if update.LastRunAt != nil {
		add("last_run_at", *update.LastRunAt)
	}
	if update.NextRunAt != nil {
		add("next_run_at", *update.NextRunAt)
	}
	if update.LastRunStatus != "" {
		add("last_run_status", update.LastRunStatus)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE scheduled_jobs SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update scheduled job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storeNotFound("scheduled job", id)
	}
	return nil
}

func (s *PostgresStore) ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM scheduled_jobs
		WHERE ($1::boolean IS NULL OR enabled = $1)
		  AND ($2 = '' OR workflow = $2)
		ORDER BY created_at, id
	`
	args := []any{filter.Enabled, filter.Workflow}
	if filter.Limit > 0 {
		query += " LIMIT $3"
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list scheduled jobs: %w", err)
	}
	defer rows.Close()

	var out []*ScheduledJob
	for rows.Next() {
		job, err := scanPgJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteScheduledJob(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM scheduled_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete scheduled job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storeNotFound("scheduled job", id)
	}
	return nil
}

func scanPgJob(row pgx.Row) (*ScheduledJob, error) {
	job := &ScheduledJob{}
	var inputs []byte
	var status *string
	if err := row.Scan(&job.ID, &job.Workflow, &job.CronExpression, &inputs, &job.Enabled,
		&job.LastRunAt, &job.NextRunAt, &status, &job.CreatedAt); err != nil {
		return nil, err
	}
	if len(inputs) > 0 {
		if err := json.Unmarshal(inputs, &job.Inputs); err != nil {
			return nil, fmt.Errorf("decode inputs for job %q: %w", job.ID, err)
		}
	}
	if status != nil {
		job.LastRunStatus = *status
	}
	return job, nil
}

// pgTarget migrates a pgx pool using $n placeholders.
type pgTarget struct {
	pool *pgxpool.Pool
}

func (t pgTarget) ensureVersionTable(ctx context.Context) error {
	_, err := t.pool.Exec(ctx, createVersionTable)
	return err
}

func (t pgTarget) currentVersion(ctx context.Context) (int, error) {
	var current int
	err := t.pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current)
	return current, err
}

func (t pgTarget) apply(ctx context.Context, m migration, stmts []string) error {
	return pgx.BeginFunc(ctx, t.pool, func(tx pgx.Tx) error {
		for _, stmt := range stmts {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return err
			}
		}
		_, err := tx.Exec(ctx, `INSERT INTO schema_version (version, name) VALUES ($1, $2)`, m.Version, m.Name)
		return err
	})
}

var _ Store = (*PostgresStore)(nil)
