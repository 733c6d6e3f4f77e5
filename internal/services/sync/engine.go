package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/TheMichaelB/shopsync/internal/events"
	"github.com/TheMichaelB/shopsync/internal/models"
	"github.com/TheMichaelB/shopsync/internal/projector"
	"github.com/TheMichaelB/shopsync/internal/queue"
	"github.com/TheMichaelB/shopsync/internal/state"
	"github.com/TheMichaelB/shopsync/internal/transport"
)

// Signals receives the outcome of queue replay.
type Signals interface {
	Online() bool
	ReportSyncSuccess()
	ReportSyncDrop()
}

// InstanceState is the replay status of one instance's queued work.
type InstanceState string

const (
	StateIdle     InstanceState = "idle"
	StateDraining InstanceState = "draining"
	StateDegraded InstanceState = "degraded"
)

// Engine replays the pending-action queue against the inventory service.
type Engine struct {
	inventory transport.Inventory
	queue     *queue.Queue
	store     *state.SnapshotStore
	signals   Signals
	logger    *events.Logger

	// Configuration
	retryBudget     int
	refreshAttempts int
	refreshBackoff  time.Duration

	// Progress tracking
	progress atomic.Value // *Progress
	events   chan Event

	// Drain state
	mu           sync.Mutex
	draining     bool
	states       map[string]InstanceState
	eventsClosed bool
	background   sync.WaitGroup

	now func() time.Time
}

// Progress tracks the running drain.
type Progress struct {
	Phase     string
	Total     int
	Processed int
	StartTime time.Time
}

// Event represents a drain event.
type Event struct {
	Type       EventType
	Timestamp  time.Time
	InstanceID string
	ActionID   string
	ActionType models.ActionType
	Error      error
	Result     *DrainResult
}

// EventType defines drain event types.
type EventType string

const (
	EventStarted         EventType = "started"
	EventActionSucceeded EventType = "action_succeeded"
	EventActionRetried   EventType = "action_retried"
	EventActionDropped   EventType = "action_dropped"
	EventRefreshed       EventType = "refreshed"
	EventCompleted       EventType = "completed"
)

// SyncConfig contains replay configuration.
type SyncConfig struct {
	RetryBudget     int
	RefreshAttempts int
	RefreshBackoff  time.Duration
}

// DrainResult summarises one drain.
type DrainResult struct {
	Succeeded int
	Retried   int
	Dropped   int
	Skipped   int
	Calls     int
	Refreshed []string
	Duration  time.Duration
}

// NewEngine creates a sync engine. signals may be nil.
func NewEngine(
	inventory transport.Inventory,
	q *queue.Queue,
	store *state.SnapshotStore,
	signals Signals,
	config *SyncConfig,
	logger *events.Logger,
) *Engine {
	e := &Engine{
		inventory:       inventory,
		queue:           q,
		store:           store,
		signals:         signals,
		logger:          logger.WithField("component", "sync_engine"),
		retryBudget:     config.RetryBudget,
		refreshAttempts: config.RefreshAttempts,
		refreshBackoff:  config.RefreshBackoff,
		events:          make(chan Event, 100),
		states:          make(map[string]InstanceState),
		now:             func() time.Time { return time.Now().UTC() },
	}

	if e.retryBudget <= 0 {
		e.retryBudget = 3
	}
	if e.refreshAttempts <= 0 {
		e.refreshAttempts = 1
	}
	if e.refreshBackoff <= 0 {
		e.refreshBackoff = 200 * time.Millisecond
	}

	return e
}

// Events returns the event channel.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// GetProgress returns the progress of the current or last drain.
func (e *Engine) GetProgress() *Progress {
	if p := e.progress.Load(); p != nil {
		return p.(*Progress)
	}
	return nil
}

// Draining reports whether a drain is running.
func (e *Engine) Draining() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.draining
}

// InstanceState returns the replay status of an instance.
func (e *Engine) InstanceState(instanceID string) InstanceState {
	e.mu.Lock()
	defer e.mu.Unlock()

	if s, ok := e.states[instanceID]; ok {
		return s
	}
	return StateIdle
}

// Close stops event delivery.
func (e *Engine) Close() {
	e.background.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.eventsClosed {
		close(e.events)
		e.eventsClosed = true
	}
}

// drainRun carries the state of a single drain.
type drainRun struct {
	result    *DrainResult
	progress  Progress
	blocked   map[string]bool
	touched   []string
	completed map[string]bool
	dropped   map[string]bool
	remaps    map[string]map[string]string
}

func (r *drainRun) touch(instanceID string) {
	for _, id := range r.touched {
		if id == instanceID {
			return
		}
	}
	r.touched = append(r.touched, instanceID)
}

// Drain replays every queued action. Snapshots go first, then runs of
// compatible granular actions are sent as single bulk calls. Instances
// touched by a successful write are refreshed from the server afterwards.
func (e *Engine) Drain(ctx context.Context) (*DrainResult, error) {
	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		return nil, models.ErrSyncInProgress
	}
	e.draining = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.draining = false
		e.mu.Unlock()
	}()

	if e.signals != nil && !e.signals.Online() {
		return nil, models.ErrOffline
	}

	start := e.now()
	run := &drainRun{
		result:    &DrainResult{},
		progress:  Progress{Phase: "snapshots", StartTime: start, Total: e.queue.Len()},
		blocked:   make(map[string]bool),
		completed: make(map[string]bool),
		dropped:   make(map[string]bool),
		remaps:    make(map[string]map[string]string),
	}
	e.publishProgress(run)

	if run.progress.Total == 0 {
		return run.result, nil
	}

	e.logger.WithField("queued", run.progress.Total).Info("Draining pending actions")
	e.emitEvent(Event{Type: EventStarted, Timestamp: start})

	e.markDraining(e.queue.ReadAll())
	defer e.settleStates(run)

	// Snapshot phase: every snapshot cutover reaches the server before any
	// other queued action for any instance.
	for _, action := range e.queue.ReadAll() {
		if action.Type() != models.ActionReplaySnapshot {
			continue
		}
		if err := ctx.Err(); err != nil {
			return run.result, err
		}

		action, err := e.executeSnapshot(ctx, run, action)
		if ctx.Err() != nil {
			return run.result, ctx.Err()
		}
		e.settle(run, batch{instanceID: action.InstanceID, kind: action.Type(), members: []models.PendingAction{action}}, err)
	}

	// Batch phase
	run.progress.Phase = "batches"
	e.publishProgress(run)
	for _, b := range buildBatches(e.queue.ReadAll()) {
		if err := ctx.Err(); err != nil {
			return run.result, err
		}

		if run.blocked[b.instanceID] || b.kind == models.ActionReplaySnapshot {
			run.result.Skipped += len(b.members)
			continue
		}

		b = e.remapBatch(run, b)
		err := e.executeBatch(ctx, run, b)
		if ctx.Err() != nil {
			return run.result, ctx.Err()
		}
		e.settle(run, b, err)
	}

	// Refresh phase
	run.progress.Phase = "refresh"
	e.publishProgress(run)
	for _, instanceID := range run.touched {
		if run.completed[instanceID] {
			continue
		}
		if e.refresh(ctx, instanceID) {
			run.result.Refreshed = append(run.result.Refreshed, instanceID)
		}
	}

	run.progress.Phase = "done"
	e.publishProgress(run)
	run.result.Duration = e.now().Sub(start)

	e.logger.WithFields(map[string]interface{}{
		"succeeded": run.result.Succeeded,
		"retried":   run.result.Retried,
		"dropped":   run.result.Dropped,
		"calls":     run.result.Calls,
		"duration":  run.result.Duration,
	}).Info("Drain finished")

	e.emitEvent(Event{Type: EventCompleted, Timestamp: e.now(), Result: run.result})

	return run.result, nil
}

// settle applies the outcome of a batch to the queue.
func (e *Engine) settle(run *drainRun, b batch, err error) {
	run.progress.Processed += len(b.members)
	e.publishProgress(run)

	if err == nil {
		for _, m := range b.members {
			e.queue.Dequeue(m.ID)
			e.emitEvent(Event{
				Type:       EventActionSucceeded,
				Timestamp:  e.now(),
				InstanceID: m.InstanceID,
				ActionID:   m.ID,
				ActionType: m.Type(),
			})
		}
		run.result.Succeeded += len(b.members)
		if e.signals != nil {
			e.signals.ReportSyncSuccess()
		}

		switch b.kind {
		case models.ActionCompleteList:
			run.completed[b.instanceID] = true
		default:
			delete(run.completed, b.instanceID)
			run.touch(b.instanceID)
		}
		return
	}

	if models.IsPermanent(err) {
		for _, m := range b.members {
			e.drop(run, m, err)
		}
		return
	}

	for _, m := range b.members {
		m.FailureCount++
		if m.FailureCount >= e.retryBudget {
			e.drop(run, m, err)
			continue
		}

		e.queue.Requeue(m)
		run.result.Retried++
		run.blocked[m.InstanceID] = true

		e.logger.WithError(err).WithFields(map[string]interface{}{
			"instance_id":   m.InstanceID,
			"action_id":     m.ID,
			"action_type":   m.Type(),
			"failure_count": m.FailureCount,
		}).Warn("Queued action failed, will retry")

		e.emitEvent(Event{
			Type:       EventActionRetried,
			Timestamp:  e.now(),
			InstanceID: m.InstanceID,
			ActionID:   m.ID,
			ActionType: m.Type(),
			Error:      err,
		})
	}
}

// publishProgress stores a copy of the run's progress for GetProgress.
func (e *Engine) publishProgress(run *drainRun) {
	progress := run.progress
	e.progress.Store(&progress)
}

func (e *Engine) drop(run *drainRun, action models.PendingAction, cause error) {
	e.queue.Dequeue(action.ID)
	run.result.Dropped++
	run.dropped[action.InstanceID] = true

	code := models.ErrCodeTransient
	if models.IsPermanent(cause) {
		code = models.ErrCodePermanent
	}
	err := &models.SyncError{
		Code:       code,
		Phase:      "replay",
		InstanceID: action.InstanceID,
		ActionID:   action.ID,
		Err:        cause,
	}

	e.logger.WithError(err).WithFields(map[string]interface{}{
		"action_type":   action.Type(),
		"failure_count": action.FailureCount,
	}).Warn("Dropped queued action")

	if e.signals != nil {
		e.signals.ReportSyncDrop()
	}

	e.emitEvent(Event{
		Type:       EventActionDropped,
		Timestamp:  e.now(),
		InstanceID: action.InstanceID,
		ActionID:   action.ID,
		ActionType: action.Type(),
		Error:      err,
	})
}

// refresh replaces the cached list with the server's copy. Failures are
// logged and otherwise ignored.
func (e *Engine) refresh(ctx context.Context, instanceID string) bool {
	var list *models.ShoppingList

	backoff := retry.WithMaxRetries(uint64(e.refreshAttempts-1), retry.NewExponential(e.refreshBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		fetched, err := e.inventory.ActiveList(ctx, instanceID)
		if err != nil {
			if models.IsPermanent(err) {
				return err
			}
			return retry.RetryableError(err)
		}
		list = fetched
		return nil
	})
	if err != nil {
		e.logger.WithError(err).WithField("instance_id", instanceID).Warn("Post-drain refresh failed")
		return false
	}

	// Work still queued for the instance stays visible on top of the
	// server's copy.
	unlock := e.store.LockList(instanceID)
	if list != nil {
		list = projector.ApplyAll(list, e.queue.PendingFor(instanceID), e.now())
	}

	if list == nil {
		e.store.ClearList(instanceID)
	} else {
		e.store.SaveList(list)
	}
	unlock()

	e.emitEvent(Event{Type: EventRefreshed, Timestamp: e.now(), InstanceID: instanceID})
	return true
}

func (e *Engine) markDraining(actions []models.PendingAction) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, a := range actions {
		e.states[a.InstanceID] = StateDraining
	}
}

func (e *Engine) settleStates(run *drainRun) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, s := range e.states {
		if s != StateDraining {
			continue
		}
		if run.dropped[id] {
			e.states[id] = StateDegraded
		} else {
			e.states[id] = StateIdle
		}
	}
}

func (e *Engine) emitEvent(event Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.eventsClosed {
		return
	}

	select {
	case e.events <- event:
	default:
		// Channel full, drop event
	}
}

// isOffline reports whether err means the service could not be reached.
func isOffline(err error) bool {
	return models.IsNetworkError(err) || errors.Is(err, models.ErrOffline)
}

func wrapStep(step string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", step, err)
}
