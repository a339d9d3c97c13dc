// Package file provides file-based persistence for schedules, runs and workflows.
//
// All records live in memory and are flushed as JSON documents under the root
// directory after every committed write. An empty root keeps everything in memory.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dukex/cadence/pkg/models"
	"github.com/dukex/cadence/pkg/persistence"
)

const (
	schedulesFile = "schedules.json"
	runsFile      = "runs.json"
	workflowsFile = "workflows.json"
)

// dataset is one consistent version of every collection. Stored values are
// never mutated in place, so cloning the maps is enough to branch a version.
type dataset struct {
	schedules map[string]*models.Schedule
	runs      map[string]*models.Run
	workflows map[string]*models.Workflow
}

func newDataset() *dataset {
	return &dataset{
		schedules: make(map[string]*models.Schedule),
		runs:      make(map[string]*models.Run),
		workflows: make(map[string]*models.Workflow),
	}
}

func (d *dataset) clone() *dataset {
	return &dataset{
		schedules: maps.Clone(d.schedules),
		runs:      maps.Clone(d.runs),
		workflows: maps.Clone(d.workflows),
	}
}

// accessor hands a dataset to repository code, either guarded by the
// persistence mutex or already inside a transaction.
type accessor interface {
	read(fn func(d *dataset) error) error
	write(fn func(d *dataset) error) error
}

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root string
	mu   sync.Mutex
	data *dataset
}

// NewPersistence creates a file persistence rooted at root and loads existing records.
func NewPersistence(root string) (*Persistence, error) {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	p := &Persistence{
		root: cleanRoot,
		data: newDataset(),
	}

	if cleanRoot == "" {
		return p, nil
	}

	if err := os.MkdirAll(cleanRoot, 0750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	if err := p.load(); err != nil {
		return nil, err
	}

	return p, nil
}

// Schedules returns the schedule repository.
func (p *Persistence) Schedules() persistence.ScheduleRepository {
	return &ScheduleRepository{store: p}
}

// Runs returns the run repository.
func (p *Persistence) Runs() persistence.RunRepository {
	return &RunRepository{store: p}
}

// Workflows returns the workflow repository.
func (p *Persistence) Workflows() persistence.WorkflowRepository {
	return &WorkflowRepository{store: p}
}

// WithTransaction runs fn against a private copy of the data and publishes it
// only when fn succeeds. The store mutex is held for the whole call, so fn must
// use tx and never the top-level repositories.
func (p *Persistence) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx persistence.Repositories) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	tx := &transaction{data: p.data.clone()}

	if err := fn(ctx, tx); err != nil {
		return err
	}

	return p.commit(tx.data)
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (p *Persistence) HealthCheck(_ context.Context) error {
	if p.root == "" {
		return nil
	}

	if _, err := os.Stat(p.root); os.IsNotExist(err) {
		return fmt.Errorf("data directory does not exist: %s", p.root)
	}

	return nil
}

// Close flushes the current data set.
func (p *Persistence) Close(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.flush(p.data)
}

func (p *Persistence) read(fn func(d *dataset) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return fn(p.data)
}

func (p *Persistence) write(fn func(d *dataset) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := p.data.clone()
	if err := fn(next); err != nil {
		return err
	}

	return p.commit(next)
}

func (p *Persistence) commit(next *dataset) error {
	if err := p.flush(next); err != nil {
		return err
	}

	p.data = next

	return nil
}

func (p *Persistence) flush(d *dataset) error {
	if p.root == "" {
		return nil
	}

	if err := writeCollection(filepath.Join(p.root, schedulesFile), d.schedules); err != nil {
		return err
	}

	if err := writeCollection(filepath.Join(p.root, runsFile), d.runs); err != nil {
		return err
	}

	return writeCollection(filepath.Join(p.root, workflowsFile), d.workflows)
}

func (p *Persistence) load() error {
	if err := readCollection(filepath.Join(p.root, schedulesFile), p.data.schedules); err != nil {
		return err
	}

	if err := readCollection(filepath.Join(p.root, runsFile), p.data.runs); err != nil {
		return err
	}

	return readCollection(filepath.Join(p.root, workflowsFile), p.data.workflows)
}

func writeCollection[T any](path string, records map[string]T) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}

	return nil
}

func readCollection[T any](path string, into map[string]T) error {
	data, err := os.ReadFile(path) // #nosec G304 -- path is built from the controlled root directory
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}

	if err := json.Unmarshal(data, &into); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", filepath.Base(path), err)
	}

	return nil
}

// transaction exposes repositories bound to an uncommitted data set.
type transaction struct {
	data *dataset
}

func (t *transaction) read(fn func(d *dataset) error) error {
	return fn(t.data)
}

func (t *transaction) write(fn func(d *dataset) error) error {
	return fn(t.data)
}

func (t *transaction) Schedules() persistence.ScheduleRepository {
	return &ScheduleRepository{store: t}
}

func (t *transaction) Runs() persistence.RunRepository {
	return &RunRepository{store: t}
}

func (t *transaction) Workflows() persistence.WorkflowRepository {
	return &WorkflowRepository{store: t}
}
