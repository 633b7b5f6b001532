// Package workflow implements Weaver's Workflow Engine: a durable,
// step-memoizing run scheduler. Grounded on the teacher's
// internal/db.Store durability idiom (one logical record per entity,
// upserted through explicit methods) generalized from SQLite rows to
// the JSON-file-per-record layout spec.md §6 names: runs/, steps/,
// hooks/, metadata/ under a configured store directory.
package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/weaver-md/weaver/internal/weavererr"
)

// Status is a run's position in spec.md §4.5's state machine.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// RunRecord is the durable record for one workflow execution, persisted
// under runs/<id>.json.
type RunRecord struct {
	ID         string    `json:"id"`
	WorkflowID string    `json:"workflowId"`
	Status     Status    `json:"status"`
	Input      any       `json:"input,omitempty"`
	Output     any       `json:"output,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	StartedAt  time.Time `json:"startedAt,omitempty"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
}

// StepRecord is the durable record for one step attempt, persisted
// under steps/<runId>/<stepName>-<attempt>.json.
type StepRecord struct {
	RunID     string    `json:"runId"`
	Name      string    `json:"name"`
	Attempt   int       `json:"attempt"`
	Status    Status    `json:"status"`
	Result    any       `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt,omitempty"`
}

// hookRecord persists cancellation intent under hooks/<runId>.json so a
// restarted process observes a cancel issued just before a crash.
type hookRecord struct {
	Cancelled   bool      `json:"cancelled"`
	CancelledAt time.Time `json:"cancelledAt,omitempty"`
}

// Store is the JSON-file-backed durability layer beneath Engine.
type Store struct {
	root string
}

func OpenStore(root string) (*Store, error) {
	for _, sub := range []string{"runs", "steps", "hooks", "metadata"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0755); err != nil {
			return nil, weavererr.Wrapf(err, weavererr.ErrorTypeDatabase, "create workflow store directory %s", sub)
		}
	}
	return &Store{root: root}, nil
}

func (s *Store) runPath(id string) string       { return filepath.Join(s.root, "runs", id+".json") }
func (s *Store) hookPath(id string) string      { return filepath.Join(s.root, "hooks", id+".json") }
func (s *Store) stepDir(runID string) string    { return filepath.Join(s.root, "steps", runID) }
func (s *Store) metadataPath(id string) string  { return filepath.Join(s.root, "metadata", id+".json") }

// writeJSON writes via a temp file + rename so a crash mid-write never
// leaves a torn record behind — the filesystem analogue of the
// teacher's transactional SQLite writes.
func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return weavererr.Wrap(err, weavererr.ErrorTypeDatabase, "create directory for "+path)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return weavererr.Wrap(err, weavererr.ErrorTypeDatabase, "marshal "+path)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return weavererr.Wrap(err, weavererr.ErrorTypeDatabase, "write "+path)
	}
	if err := os.Rename(tmp, path); err != nil {
		return weavererr.Wrap(err, weavererr.ErrorTypeDatabase, "rename into place "+path)
	}
	return nil
}

func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, weavererr.Wrap(err, weavererr.ErrorTypeDatabase, "read "+path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, weavererr.Wrap(err, weavererr.ErrorTypeDatabase, "decode "+path)
	}
	return true, nil
}

func (s *Store) SaveRun(rec *RunRecord) error {
	return writeJSON(s.runPath(rec.ID), rec)
}

func (s *Store) LoadRun(id string) (*RunRecord, error) {
	var rec RunRecord
	ok, err := readJSON(s.runPath(id), &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, weavererr.NewNotFoundError(fmt.Sprintf("workflow run %s", id))
	}
	return &rec, nil
}

// ListRuns returns every run record, used both for history queries and
// for locating interrupted runs to replay at startup.
func (s *Store) ListRuns() ([]*RunRecord, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "runs"))
	if err != nil {
		return nil, weavererr.Wrap(err, weavererr.ErrorTypeDatabase, "list workflow runs")
	}
	runs := make([]*RunRecord, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		rec, err := s.LoadRun(id)
		if err != nil {
			continue
		}
		runs = append(runs, rec)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
	return runs, nil
}

func (s *Store) SaveMetadata(runID string, v any) error {
	return writeJSON(s.metadataPath(runID), v)
}

func (s *Store) SetCancelled(runID string) error {
	return writeJSON(s.hookPath(runID), hookRecord{Cancelled: true, CancelledAt: time.Now()})
}

func (s *Store) IsCancelled(runID string) (bool, error) {
	var h hookRecord
	ok, err := readJSON(s.hookPath(runID), &h)
	if err != nil || !ok {
		return false, err
	}
	return h.Cancelled, nil
}

// SaveStepAttempt persists one step attempt's outcome.
func (s *Store) SaveStepAttempt(rec *StepRecord) error {
	path := filepath.Join(s.stepDir(rec.RunID), fmt.Sprintf("%s-%d.json", rec.Name, rec.Attempt))
	return writeJSON(path, rec)
}

// NextAttempt returns the next attempt number for (runID, stepName),
// i.e. one past however many attempt files already exist.
func (s *Store) NextAttempt(runID, stepName string) (int, error) {
	entries, err := os.ReadDir(s.stepDir(runID))
	if os.IsNotExist(err) {
		return 1, nil
	}
	if err != nil {
		return 0, weavererr.Wrap(err, weavererr.ErrorTypeDatabase, "list step attempts")
	}
	max := 0
	prefix := stepName + "-"
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".json")
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimPrefix(name, prefix)); err == nil && n > max {
			max = n
		}
	}
	return max + 1, nil
}

// LoadCompletedStep returns the most recent completed attempt for
// (runID, stepName), implementing the "replay returns the persisted
// value without re-running the thunk" half of the step contract.
func (s *Store) LoadCompletedStep(runID, stepName string) (*StepRecord, bool, error) {
	entries, err := os.ReadDir(s.stepDir(runID))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, weavererr.Wrap(err, weavererr.ErrorTypeDatabase, "list step attempts")
	}

	var best *StepRecord
	prefix := stepName + "-"
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".json")
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		var rec StepRecord
		ok, err := readJSON(filepath.Join(s.stepDir(runID), e.Name()), &rec)
		if err != nil || !ok || rec.Status != StatusCompleted {
			continue
		}
		if best == nil || rec.Attempt > best.Attempt {
			best = &rec
		}
	}
	return best, best != nil, nil
}
