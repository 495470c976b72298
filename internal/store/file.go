package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rendis/taskweave/internal/steps"
	"github.com/rendis/taskweave/pkg/schema"
)

// FileStore keeps workflows as documents in a directory:
//
//	<dir>/<name>.json | .yaml | .yml   workflow documents
//	<dir>/executors/<kind>.json        executor definitions
//	<dir>/schedules.json               scheduled jobs
//
// Workflow files may be edited by hand; YAML documents are read but
// PutWorkflow always writes JSON.
type FileStore struct {
	dir string
	mu  sync.RWMutex
}

var workflowExts = []string{".json", ".yaml", ".yml"}

const (
	executorsDir  = "executors"
	schedulesFile = "schedules.json"
)

// NewFileStore uses dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, executorsDir), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Migrate(context.Context) error { return nil }
func (s *FileStore) Close() error                  { return nil }

// --- Workflows ---

// fileWorkflow is the on-disk envelope. A bare workflow document (no
// "workflow" key) is accepted too.
type fileWorkflow struct {
	Description string           `json:"description,omitempty"`
	Workflow    *schema.Workflow `json:"workflow"`
	CreatedAt   time.Time        `json:"created_at,omitzero"`
}

func (s *FileStore) PutWorkflow(_ context.Context, rec *WorkflowRecord) error {
	if err := checkRecord(rec); err != nil {
		return err
	}
	if err := checkFileName(rec.Name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	created := timeOrNow(rec.CreatedAt)
	if existing, path, err := s.readWorkflow(rec.Name); err == nil {
		created = existing.CreatedAt
		if filepath.Ext(path) != ".json" {
			_ = os.Remove(path)
		}
	}
	return writeJSON(filepath.Join(s.dir, rec.Name+".json"), fileWorkflow{
		Description: rec.Description,
		Workflow:    rec.Workflow,
		CreatedAt:   created,
	})
}

func (s *FileStore) GetWorkflow(_ context.Context, name string) (*WorkflowRecord, error) {
	if err := checkFileName(name); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, _, err := s.readWorkflow(name)
	return rec, err
}

func (s *FileStore) ListWorkflows(context.Context) ([]*WorkflowSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []*WorkflowSummary
	for _, e := range entries {
		if e.IsDir() || e.Name() == schedulesFile {
			continue
		}
		ext := filepath.Ext(e.Name())
		name := strings.TrimSuffix(e.Name(), ext)
		if !slices.Contains(workflowExts, ext) || seen[name] {
			continue
		}
		seen[name] = true
		rec, _, err := s.readWorkflow(name)
		if err != nil {
			return nil, err
		}
		out = append(out, summarize(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *FileStore) DeleteWorkflow(_ context.Context, name string) error {
	if err := checkFileName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, path, err := s.readWorkflow(name)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// readWorkflow finds the first existing file for name. Caller holds mu.
func (s *FileStore) readWorkflow(name string) (*WorkflowRecord, string, error) {
	for _, ext := range workflowExts {
		path := filepath.Join(s.dir, name+ext)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, "", err
		}
		rec, err := decodeWorkflowFile(name, ext, data)
		if err != nil {
			return nil, "", err
		}
		rec.UpdatedAt = info.ModTime().UTC()
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = rec.UpdatedAt
		}
		return rec, path, nil
	}
	return nil, "", storeNotFound("workflow", name)
}

func decodeWorkflowFile(name, ext string, data []byte) (*WorkflowRecord, error) {
	if ext != ".json" {
		converted, err := schema.YAMLToJSON(data)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeInvalidWorkflowFormat, "malformed YAML document").
				WithCause(err).WithDetails(map[string]any{"workflow": name})
		}
		data = converted
	}

	var envelope struct {
		Description string          `json:"description"`
		Workflow    json.RawMessage `json:"workflow"`
		CreatedAt   time.Time       `json:"created_at"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, schema.NewError(schema.ErrCodeInvalidWorkflowFormat, "malformed workflow document").
			WithCause(err).WithDetails(map[string]any{"workflow": name})
	}
	doc := data
	if len(envelope.Workflow) > 0 {
		doc = envelope.Workflow
	}
	wf, err := schema.ParseWorkflow(doc)
	if err != nil {
		return nil, err
	}
	return &WorkflowRecord{
		Name:        name,
		Description: envelope.Description,
		Workflow:    wf,
		CreatedAt:   envelope.CreatedAt,
	}, nil
}

// --- Executors ---

func (s *FileStore) SaveExecutor(_ context.Context, def *steps.Definition) error {
	if err := checkFileName(def.Kind); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *def
	stored.Origin = originOrUser(def.Origin)
	stored.CreatedAt = timeOrNow(def.CreatedAt)
	return writeJSON(s.executorPath(def.Kind), &stored)
}

func (s *FileStore) GetExecutor(_ context.Context, kind string) (*steps.Definition, error) {
	if err := checkFileName(kind); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readExecutor(s.executorPath(kind), kind)
}

func (s *FileStore) ListExecutors(context.Context) ([]*steps.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	paths, err := filepath.Glob(filepath.Join(s.dir, executorsDir, "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	out := make([]*steps.Definition, 0, len(paths))
	for _, p := range paths {
		def, err := s.readExecutor(p, strings.TrimSuffix(filepath.Base(p), ".json"))
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, nil
}

func (s *FileStore) DeleteExecutor(_ context.Context, kind string) error {
	if err := checkFileName(kind); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.executorPath(kind))
	if errors.Is(err, fs.ErrNotExist) {
		return storeNotFound("executor", kind)
	}
	return err
}

func (s *FileStore) executorPath(kind string) string {
	return filepath.Join(s.dir, executorsDir, kind+".json")
}

func (s *FileStore) readExecutor(path, kind string) (*steps.Definition, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, storeNotFound("executor", kind)
	}
	if err != nil {
		return nil, err
	}
	var def steps.Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("decode executor %q: %w", kind, err)
	}
	return &def, nil
}

// --- Scheduled Jobs ---

func (s *FileStore) CreateScheduledJob(_ context.Context, job *ScheduledJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs, err := s.readJobs()
	if err != nil {
		return err
	}
	for _, j := range jobs {
		if j.ID == job.ID {
			return schema.NewErrorf(schema.ErrCodeConflict, "scheduled job %q already exists", job.ID)
		}
	}
	stored := *job
	stored.CreatedAt = timeOrNow(job.CreatedAt)
	return s.writeJobs(append(jobs, &stored))
}

func (s *FileStore) GetScheduledJob(_ context.Context, id string) (*ScheduledJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs, err := s.readJobs()
	if err != nil {
		return nil, err
	}
	for _, j := range jobs {
		if j.ID == id {
			return j, nil
		}
	}
	return nil, storeNotFound("scheduled job", id)
}

func (s *FileStore) UpdateScheduledJob(_ context.Context, id string, update ScheduledJobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs, err := s.readJobs()
	if err != nil {
		return err
	}
	for _, j := range jobs {
		if j.ID != id {
			continue
		}
		if update.Enabled != nil {
			j.Enabled = *update.Enabled
		}
		if update.LastRunAt != nil {
			j.LastRunAt = update.LastRunAt
		}
		if update.NextRunAt != nil {
			j.NextRunAt = update.NextRunAt
		}
		if update.LastRunStatus != "" {
			j.LastRunStatus = update.LastRunStatus
		}
		return s.writeJobs(jobs)
	}
	return storeNotFound("scheduled job", id)
}

func (s *FileStore) ListScheduledJobs(_ context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs, err := s.readJobs()
	if err != nil {
		return nil, err
	}
	var out []*ScheduledJob
	for _, j := range jobs {
		if filter.Enabled != nil && j.Enabled != *filter.Enabled {
			continue
		}
		if filter.Workflow != "" && j.Workflow != filter.Workflow {
			continue
		}
		out = append(out, j)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *FileStore) DeleteScheduledJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs, err := s.readJobs()
	if err != nil {
		return err
	}
	for i, j := range jobs {
		if j.ID == id {
			return s.writeJobs(append(jobs[:i], jobs[i+1:]...))
		}
	}
	return storeNotFound("scheduled job", id)
}

func (s *FileStore) readJobs() ([]*ScheduledJob, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, schedulesFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var jobs []*ScheduledJob
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", schedulesFile, err)
	}
	return jobs, nil
}

func (s *FileStore) writeJobs(jobs []*ScheduledJob) error {
	if jobs == nil {
		jobs = []*ScheduledJob{}
	}
	return writeJSON(filepath.Join(s.dir, schedulesFile), jobs)
}

// writeJSON writes v through a temp file so readers never see a partial document.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// checkFileName rejects names that would escape the store directory.
func checkFileName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid name %q", name)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
