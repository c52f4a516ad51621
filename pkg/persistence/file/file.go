// Package file provides file-based persistence for workflows and instance state.
// It is meant for local development and single-process deployments.
package file

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dukex/tideflow/pkg/events"
	"github.com/dukex/tideflow/pkg/models"
	"github.com/dukex/tideflow/pkg/persistence"
)

const (
	workflowsDir = "workflows"
	statesDir    = "states"
	eventsDir    = "events"
)

// Persistence implements persistence.Persistence on top of a directory tree:
//
//	<root>/workflows/<component#id>.json
//	<root>/states/<component#id#parameter>.json
//	<root>/events/<component#id#parameter>.jsonl
//
// Transactions are serialized by a single mutex, so they never conflict.
type Persistence struct {
	root string
	mu   sync.Mutex
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{root: cleanRoot}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) Workflows(_ context.Context) ([]*models.Workflow, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	files, err := fp.list(workflowsDir, ".json")
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow files: %w", err)
	}

	workflows := make([]*models.Workflow, 0, len(files))

	for _, file := range files {
		var workflow models.Workflow

		found, err := fp.readJSON(filepath.Join(workflowsDir, file), &workflow)
		if err != nil {
			return nil, err
		}

		if found {
			workflows = append(workflows, &workflow)
		}
	}

	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].ID.Key() < workflows[j].ID.Key()
	})

	return workflows, nil
}

func (fp *Persistence) Workflow(_ context.Context, id models.WorkflowID) (*models.Workflow, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	var workflow models.Workflow

	found, err := fp.readJSON(workflowPath(id), &workflow)
	if err != nil {
		return nil, persistence.NewWorkflowError("Workflow", id.Key(), err)
	}

	if !found {
		return nil, persistence.NewWorkflowError("Workflow", id.Key(), persistence.ErrWorkflowNotFound)
	}

	return &workflow, nil
}

func (fp *Persistence) SaveWorkflow(_ context.Context, workflow *models.Workflow) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	err := fp.writeJSON(workflowPath(workflow.ID), workflow)
	if err != nil {
		return persistence.NewWorkflowError("SaveWorkflow", workflow.ID.Key(), err)
	}

	return nil
}

func (fp *Persistence) DeleteWorkflow(_ context.Context, id models.WorkflowID) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	err := os.Remove(filepath.Join(fp.root, workflowPath(id)))
	if err != nil && os.IsNotExist(err) {
		return persistence.NewWorkflowError("DeleteWorkflow", id.Key(), persistence.ErrWorkflowNotFound)
	}

	if err != nil {
		return persistence.NewWorkflowError("DeleteWorkflow", id.Key(), err)
	}

	return nil
}

func (fp *Persistence) ActiveStates(_ context.Context) ([]models.RunState, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	files, err := fp.list(statesDir, ".json")
	if err != nil {
		return nil, fmt.Errorf("failed to list state files: %w", err)
	}

	states := make([]models.RunState, 0, len(files))

	for _, file := range files {
		var state models.RunState

		found, err := fp.readJSON(filepath.Join(statesDir, file), &state)
		if err != nil {
			return nil, err
		}

		if found {
			states = append(states, state)
		}
	}

	sort.Slice(states, func(i, j int) bool {
		return states[i].Instance.Key() < states[j].Instance.Key()
	})

	return states, nil
}

func (fp *Persistence) ActiveState(_ context.Context, instance models.WorkflowInstance) (*models.RunState, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	return fp.activeState(instance)
}

func (fp *Persistence) Events(_ context.Context, instance models.WorkflowInstance) ([]events.SequenceEvent, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	body, err := os.ReadFile(filepath.Join(fp.root, eventsPath(instance)))
	if err != nil {
		if os.IsNotExist(err) {
			return []events.SequenceEvent{}, nil
		}

		return nil, persistence.NewInstanceError("Events", instance.Key(), err)
	}

	log := make([]events.SequenceEvent, 0)
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var event events.SequenceEvent

		err := json.Unmarshal(line, &event)
		if err != nil {
			return nil, persistence.NewInstanceError("Events", instance.Key(), err)
		}

		log = append(log, event)
	}

	if err := scanner.Err(); err != nil {
		return nil, persistence.NewInstanceError("Events", instance.Key(), err)
	}

	sort.SliceStable(log, func(i, j int) bool { return log[i].Counter < log[j].Counter })

	return log, nil
}

// RunInTransaction buffers the writes of fn and applies them only when fn succeeds.
func (fp *Persistence) RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx persistence.Transaction) error) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	tx := &transaction{
		persistence: fp,
		states:      make(map[string]*models.RunState),
	}

	err := fn(ctx, tx)
	if err != nil {
		return err
	}

	return tx.commit()
}

func (fp *Persistence) activeState(instance models.WorkflowInstance) (*models.RunState, error) {
	var state models.RunState

	found, err := fp.readJSON(statePath(instance), &state)
	if err != nil {
		return nil, persistence.NewInstanceError("ActiveState", instance.Key(), err)
	}

	if !found {
		return nil, persistence.NewInstanceError("ActiveState", instance.Key(), persistence.ErrActiveStateNotFound)
	}

	return &state, nil
}

func (fp *Persistence) list(dir, ext string) ([]string, error) {
	files, err := fs.Glob(os.DirFS(filepath.Join(fp.root, dir)), "*"+ext)
	if err != nil {
		return nil, err
	}

	return files, nil
}

func (fp *Persistence) readJSON(rel string, v any) (bool, error) {
	body, err := os.ReadFile(filepath.Clean(filepath.Join(fp.root, rel)))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, fmt.Errorf("failed to read %s: %w", rel, err)
	}

	err = json.Unmarshal(body, v)
	if err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", rel, err)
	}

	return true, nil
}

// writeJSON replaces the file atomically through a temporary file and rename.
func (fp *Persistence) writeJSON(rel string, v any) error {
	target := filepath.Join(fp.root, rel)

	err := os.MkdirAll(filepath.Dir(target), 0750)
	if err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", rel, err)
	}

	tmp := target + ".tmp"

	err = os.WriteFile(tmp, data, 0600)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", rel, err)
	}

	return os.Rename(tmp, target)
}

func (fp *Persistence) appendLine(rel string, v any) error {
	target := filepath.Join(fp.root, rel)

	err := os.MkdirAll(filepath.Dir(target), 0750)
	if err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", rel, err)
	}

	file, err := os.OpenFile(target, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", rel, err)
	}

	_, err = file.Write(append(data, '\n'))

	return errors.Join(err, file.Close())
}

func workflowPath(id models.WorkflowID) string {
	return filepath.Join(workflowsDir, url.PathEscape(id.Key())+".json")
}

func statePath(instance models.WorkflowInstance) string {
	return filepath.Join(statesDir, url.PathEscape(instance.Key())+".json")
}

func eventsPath(instance models.WorkflowInstance) string {
	return filepath.Join(eventsDir, url.PathEscape(instance.Key())+".jsonl")
}
