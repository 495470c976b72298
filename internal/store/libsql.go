package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/taskweave/internal/steps"
	"github.com/rendis/taskweave/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, sqlTarget{db: s.db}, sqliteMigrations)
}

// --- Workflows ---

func (s *LibSQLStore) PutWorkflow(ctx context.Context, rec *WorkflowRecord) error {
	if err := checkRecord(rec); err != nil {
		return err
	}
	doc, err := json.Marshal(rec.Workflow)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (name, description, document, entry_point, task_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET description=excluded.description, document=excluded.document,
		   entry_point=excluded.entry_point, task_count=excluded.task_count, updated_at=excluded.updated_at`,
		rec.Name, nullStr(rec.Description), string(doc), rec.Workflow.EntryPoint, len(rec.Workflow.Tasks),
		timeOrNow(rec.CreatedAt), now,
	)
	return err
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, name string) (*WorkflowRecord, error) {
	rec := &WorkflowRecord{Name: name}
	var desc sql.NullString
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT description, document, created_at, updated_at FROM workflows WHERE name = ?`, name,
	).Scan(&desc, &doc, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("workflow", name)
	}
	if err != nil {
		return nil, err
	}
	rec.Description = desc.String
	if rec.Workflow, err = schema.ParseWorkflow([]byte(doc)); err != nil {
		return nil, fmt.Errorf("decode workflow %q: %w", name, err)
	}
	return rec, nil
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context) ([]*WorkflowSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, description, entry_point, task_count, updated_at FROM workflows ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*WorkflowSummary
	for rows.Next() {
		sum := &WorkflowSummary{}
		var desc sql.NullString
		if err := rows.Scan(&sum.Name, &desc, &sum.EntryPoint, &sum.TaskCount, &sum.UpdatedAt); err != nil {
			return nil, err
		}
		sum.Description = desc.String
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE name = ?`, name)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", name)
}

// --- Executors ---

func (s *LibSQLStore) SaveExecutor(ctx context.Context, def *steps.Definition) error {
	example, err := marshalExample(def.Example)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO executors (kind, engine, source, description, type_definition, example, origin, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(kind) DO UPDATE SET engine=excluded.engine, source=excluded.source,
		   description=excluded.description, type_definition=excluded.type_definition,
		   example=excluded.example, origin=excluded.origin`,
		def.Kind, def.Engine, def.Source, nullStr(def.Description), nullStr(def.TypeDefinition),
		example, originOrUser(def.Origin), timeOrNow(def.CreatedAt),
	)
	return err
}

const executorColumns = `kind, engine, source, description, type_definition, example, origin, created_at`

func (s *LibSQLStore) GetExecutor(ctx context.Context, kind string) (*steps.Definition, error) {
	def, err := scanExecutor(s.db.QueryRowContext(ctx,
		`SELECT `+executorColumns+` FROM executors WHERE kind = ?`, kind))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("executor", kind)
	}
	return def, err
}

func (s *LibSQLStore) ListExecutors(ctx context.Context) ([]*steps.Definition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+executorColumns+` FROM executors ORDER BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*steps.Definition
	for rows.Next() {
		def, err := scanExecutor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) DeleteExecutor(ctx context.Context, kind string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM executors WHERE kind = ?`, kind)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "executor", kind)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecutor(row rowScanner) (*steps.Definition, error) {
	def := &steps.Definition{}
	var desc, typeDef, example sql.NullString
	if err := row.Scan(&def.Kind, &def.Engine, &def.Source, &desc, &typeDef, &example, &def.Origin, &def.CreatedAt); err != nil {
		return nil, err
	}
	def.Description = desc.String
	def.TypeDefinition = typeDef.String
	if example.Valid && example.String != "" {
		if err := json.Unmarshal([]byte(example.String), &def.Example); err != nil {
			return nil, fmt.Errorf("decode example for %q: %w", def.Kind, err)
		}
	}
	return def, nil
}

// --- Scheduled Jobs ---

func (s *LibSQLStore) CreateScheduledJob(ctx context.Context, job *ScheduledJob) error {
	inputs, err := marshalInputs(job.Inputs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scheduled_jobs (id, workflow, cron_expression, inputs, enabled, last_run_at, next_run_at, last_run_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Workflow, job.CronExpression, inputs, boolInt(job.Enabled),
		nullTime(job.LastRunAt), nullTime(job.NextRunAt), nullStr(job.LastRunStatus), timeOrNow(job.CreatedAt),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return schema.NewErrorf(schema.ErrCodeConflict, "scheduled job %q already exists", job.ID).WithCause(err)
	}
	return err
}

const jobColumns = `id, workflow, cron_expression, inputs, enabled, last_run_at, next_run_at, last_run_status, created_at`

func (s *LibSQLStore) GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM scheduled_jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("scheduled job", id)
	}
	return job, err
}

func (s *LibSQLStore) UpdateScheduledJob(ctx context.Context, id string, update ScheduledJobUpdate) error {
	var sets []string
	var args []any

	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, boolInt(*update.Enabled))
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *update.NextRunAt)
	}
	if update.LastRunStatus != "" {
		sets = append(sets, "last_run_status = ?")
		args = append(args, update.LastRunStatus)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE scheduled_jobs SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled job", id)
}

func (s *LibSQLStore) ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error) {
	var where []string
	var args []any
	if filter.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, boolInt(*filter.Enabled))
	}
	if filter.Workflow != "" {
		where = append(where, "workflow = ?")
		args = append(args, filter.Workflow)
	}

	query := `SELECT ` + jobColumns + ` FROM scheduled_jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ScheduledJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) DeleteScheduledJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled job", id)
}

func scanJob(row rowScanner) (*ScheduledJob, error) {
	job := &ScheduledJob{}
	var inputs string
	var status sql.NullString
	var lastRun, nextRun sql.NullTime
	if err := row.Scan(&job.ID, &job.Workflow, &job.CronExpression, &inputs, &job.Enabled,
		&lastRun, &nextRun, &status, &job.CreatedAt); err != nil {
		return nil, err
	}
	if inputs != "" {
		if err := json.Unmarshal([]byte(inputs), &job.Inputs); err != nil {
			return nil, fmt.Errorf("decode inputs for job %q: %w", job.ID, err)
		}
	}
	if lastRun.Valid {
		job.LastRunAt = &lastRun.Time
	}
	if nextRun.Valid {
		job.NextRunAt = &nextRun.Time
	}
	job.LastRunStatus = status.String
	return job, nil
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.WeaveError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func checkRecord(rec *WorkflowRecord) error {
	if rec == nil || rec.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "workflow name is required")
	}
	if rec.Workflow == nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "workflow %q has no document", rec.Name)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// boolInt maps a bool onto SQLite's INTEGER column convention.
func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func originOrUser(origin string) string {
	if origin == "" {
		return steps.OriginUser
	}
	return origin
}

func marshalExample(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal example: %w", err)
	}
	return string(data), nil
}

func marshalInputs(m map[string]string) (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal inputs: %w", err)
	}
	return string(data), nil
}

var _ Store = (*LibSQLStore)(nil)
