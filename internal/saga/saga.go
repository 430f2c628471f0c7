// Package saga runs multi-step workflows whose steps write to separate
// files and therefore cannot be made atomic. Each run is journaled in a
// kvstore namespace before and after every step, so a run that stops
// half-way is left as a stalled record that Reconcile can resume.
//
// A failure of the first step aborts cleanly: the journal entry is dropped
// and the error returned as is. A failure of a later step keeps the journal
// entry in the stalled state and returns a *PartialError. Steps after the
// first must therefore be idempotent.
package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lurkhub/lurkhub-app/internal/apperr"
	"github.com/lurkhub/lurkhub-app/internal/kvstore"
)

// Record states.
const (
	StateRunning = "running"
	StateStalled = "stalled"
	StateDone    = "done"
)

// Step is one unit of a workflow.
type Step struct {
	Name string
	Do   func(ctx context.Context, payload json.RawMessage) error
}

// Record is the journal entry of one run.
type Record struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Payload   json.RawMessage `json:"payload"`
	Next      int             `json:"next"`
	State     string          `json:"state"`
	Error     string          `json:"error,omitempty"`
	Attempts  int             `json:"attempts"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// PartialError reports a run that stopped after its first step succeeded.
type PartialError struct {
	SagaID   string
	Workflow string
	Step     string
	Err      error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("saga %s (%s) stalled at step %q: %v", e.SagaID, e.Workflow, e.Step, e.Err)
}

func (e *PartialError) Unwrap() error { return e.Err }

// Report summarises a reconciliation sweep.
type Report struct {
	Completed  []string `json:"completed"`
	Failed     []Record `json:"failed"`
	Unresolved []Record `json:"unresolved"`
}

// Coordinator registers workflows and runs them against a journal.
type Coordinator struct {
	store     kvstore.Store
	namespace string
	logger    *slog.Logger
	now       func() time.Time

	mu        sync.Mutex
	workflows map[string][]Step
	inFlight  *flights
}

// flights is the set of runs being executed, shared by the forks of one
// journal.
type flights struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// New creates a Coordinator journaling into namespace.
func New(store kvstore.Store, namespace string, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:     store,
		namespace: namespace,
		logger:    logger,
		now:       time.Now,
		workflows: make(map[string][]Step),
		inFlight:  &flights{ids: make(map[string]struct{})},
	}
}

// Fork returns a coordinator on the same journal with no workflows of its
// own. Runs executing in any fork are skipped by Reconcile in all others.
func (c *Coordinator) Fork(logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = c.logger
	}
	return &Coordinator{
		store:     c.store,
		namespace: c.namespace,
		logger:    logger,
		now:       c.now,
		workflows: make(map[string][]Step),
		inFlight:  c.inFlight,
	}
}

// Register defines workflow name. Registering the same name again replaces it.
func (c *Coordinator) Register(name string, steps ...Step) {
	c.mu.Lock()
	c.workflows[name] = steps
	c.mu.Unlock()
}

func (c *Coordinator) steps(name string) ([]Step, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.workflows[name]
	return s, ok
}

// Run executes workflow name with payload, which is JSON encoded into the journal.
func (c *Coordinator) Run(ctx context.Context, name string, payload any) error {
	steps, ok := c.steps(name)
	if !ok || len(steps) == 0 {
		return fmt.Errorf("saga: unknown workflow %q", name)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("saga: encode payload: %w", err)
	}
	now := c.now().UTC()
	rec := &Record{
		ID:        uuid.NewString(),
		Name:      name,
		Payload:   raw,
		State:     StateRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.save(ctx, rec); err != nil {
		return err
	}
	c.track(rec.ID, true)
	defer c.track(rec.ID, false)

	return c.execute(ctx, rec, steps)
}

func (c *Coordinator) execute(ctx context.Context, rec *Record, steps []Step) error {
	for rec.Next < len(steps) {
		step := steps[rec.Next]
		rec.Attempts++
		if err := step.Do(ctx, rec.Payload); err != nil {
			if rec.Next == 0 {
				if delErr := c.store.Delete(ctx, c.namespace, rec.ID); delErr != nil {
					c.logger.Warn("saga: drop aborted record failed",
						slog.String("saga", rec.ID),
						slog.String("error", delErr.Error()))
				}
				return err
			}
			rec.State = StateStalled
			rec.Error = err.Error()
			rec.UpdatedAt = c.now().UTC()
			// Journal with a fresh context: ctx may be the reason the step failed.
			saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			if saveErr := c.save(saveCtx, rec); saveErr != nil {
				c.logger.Error("saga: journal stalled record failed",
					slog.String("saga", rec.ID),
					slog.String("error", saveErr.Error()))
			}
			cancel()
			c.logger.Warn("saga: stalled",
				slog.String("saga", rec.ID),
				slog.String("workflow", rec.Name),
				slog.String("step", step.Name),
				slog.String("error", err.Error()))
			return &PartialError{SagaID: rec.ID, Workflow: rec.Name, Step: step.Name, Err: err}
		}
		rec.Next++
		rec.State = StateRunning
		rec.Error = ""
		rec.UpdatedAt = c.now().UTC()
		if rec.Next < len(steps) {
			if err := c.save(ctx, rec); err != nil {
				return &PartialError{SagaID: rec.ID, Workflow: rec.Name, Step: steps[rec.Next].Name, Err: err}
			}
		}
	}
	rec.State = StateDone
	if err := c.store.Delete(ctx, c.namespace, rec.ID); err != nil {
		c.logger.Warn("saga: drop finished record failed",
			slog.String("saga", rec.ID),
			slog.String("error", err.Error()))
	}
	return nil
}

func (c *Coordinator) track(id string, on bool) {
	f := c.inFlight
	f.mu.Lock()
	defer f.mu.Unlock()
	if on {
		f.ids[id] = struct{}{}
	} else {
		delete(f.ids, id)
	}
}

func (c *Coordinator) running(id string) bool {
	f := c.inFlight
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.ids[id]
	return ok
}

func (c *Coordinator) save(ctx context.Context, rec *Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("saga: encode record: %w", err)
	}
	if err := c.store.Put(ctx, c.namespace, rec.ID, raw); err != nil {
		return fmt.Errorf("saga: journal: %w", err)
	}
	return nil
}

// Pending returns journaled runs that have not finished, oldest first.
func (c *Coordinator) Pending(ctx context.Context) ([]Record, error) {
	keys, err := c.store.Keys(ctx, c.namespace)
	if err != nil {
		return nil, fmt.Errorf("saga: list: %w", err)
	}
	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		raw, err := c.store.Get(ctx, c.namespace, k)
		if errors.Is(err, apperr.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("saga: load %s: %w", k, err)
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			c.logger.Warn("saga: dropping unreadable record", slog.String("saga", k))
			_ = c.store.Delete(ctx, c.namespace, k)
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Reconcile resumes every stalled run, and every running run no fork of
// this journal is executing whose first step is known to have
// succeeded. Runs interrupted during their first step are reported as
// unresolved and left in the journal: whether that step took effect is
// unknown.
func (c *Coordinator) Reconcile(ctx context.Context) (Report, error) {
	report := Report{Completed: []string{}, Failed: []Record{}, Unresolved: []Record{}}
	pending, err := c.Pending(ctx)
	if err != nil {
		return report, err
	}
	for _, rec := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if c.running(rec.ID) {
			continue
		}
		if rec.State == StateRunning && rec.Next == 0 {
			report.Unresolved = append(report.Unresolved, rec)
			continue
		}
		steps, ok := c.steps(rec.Name)
		if !ok {
			report.Unresolved = append(report.Unresolved, rec)
			continue
		}
		c.track(rec.ID, true)
		err := c.execute(ctx, &rec, steps)
		c.track(rec.ID, false)
		if err != nil {
			rec.Error = err.Error()
			report.Failed = append(report.Failed, rec)
			continue
		}
		c.logger.Info("saga: resumed", slog.String("saga", rec.ID), slog.String("workflow", rec.Name))
		report.Completed = append(report.Completed, rec.ID)
	}
	return report, nil
}

// Discard drops a journaled run without executing it.
func (c *Coordinator) Discard(ctx context.Context, id string) error {
	if _, err := c.store.Get(ctx, c.namespace, id); err != nil {
		return fmt.Errorf("saga %s: %w", id, err)
	}
	return c.store.Delete(ctx, c.namespace, id)
}
