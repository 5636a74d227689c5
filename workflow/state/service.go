package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/BaSui01/flowpilot/internal/metrics"
	"github.com/BaSui01/flowpilot/types"
	"github.com/BaSui01/flowpilot/workflow/dsl"
	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	// DefaultNamespace 默认键名前缀
	DefaultNamespace = "flowpilot"
	// DefaultMaxEntries 保留的执行记录上限
	DefaultMaxEntries = 50

	statesKeySuffix = "workflow-states"
)

// ServiceOption 配置 Service
type ServiceOption func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock sets the clock used for timestamps and cleanup.
func WithClock(c clock.Clock) ServiceOption {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithMaxEntries bounds the persisted collection.
func WithMaxEntries(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.maxEntries = n
		}
	}
}

// WithNamespace sets the key prefix.
func WithNamespace(ns string) ServiceOption {
	return func(s *Service) {
		if ns != "" {
			s.namespace = ns
		}
	}
}

// WithMetrics records store operations.
func WithMetrics(m *metrics.Collector) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// Service keeps the persisted WorkflowState collection. All records live in
// one JSON array under a single key; the mutex serialises read-modify-write
// cycles within this process.
type Service struct {
	store      Store
	logger     *zap.Logger
	clock      clock.Clock
	metrics    *metrics.Collector
	maxEntries int
	namespace  string

	mu sync.Mutex
}

// NewService creates a Service over a Store.
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{
		store:      store,
		logger:     zap.NewNop(),
		clock:      clock.New(),
		maxEntries: DefaultMaxEntries,
		namespace:  DefaultNamespace,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "workflow_state"))
	return s
}

// Key returns the store key holding the collection.
func (s *Service) Key() string {
	return s.namespace + ":" + statesKeySuffix
}

// Store returns the underlying store.
func (s *Service) Store() Store { return s.store }

// ====== 持久化 ======

// load reads the collection. Entries that fail to decode or lack an
// execution id or start time are dropped.
func (s *Service) load(ctx context.Context) ([]*WorkflowState, error) {
	start := s.clock.Now()
	data, err := s.store.Get(ctx, s.Key())
	s.metrics.RecordStateOp(string(s.store.Type()), "get", ignoreNotFound(err), s.clock.Since(start))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewError(types.ErrStorage, "failed to load workflow states").WithCause(err).WithRetryable(true)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Warn("workflow state collection is not a list, treating as empty", zap.Error(err))
		return nil, nil
	}

	states := make([]*WorkflowState, 0, len(raw))
	for i, entry := range raw {
		var ws WorkflowState
		if err := json.Unmarshal(entry, &ws); err != nil {
			s.logger.Warn("discarding malformed workflow state", zap.Int("index", i), zap.Error(err))
			continue
		}
		if ws.ExecutionID == "" || ws.StartTime.IsZero() {
			s.logger.Warn("discarding incomplete workflow state", zap.Int("index", i))
			continue
		}
		if ws.SessionMappings == nil {
			ws.SessionMappings = make(map[string]string)
		}
		states = append(states, &ws)
	}
	return states, nil
}

func (s *Service) save(ctx context.Context, states []*WorkflowState) error {
	data, err := json.Marshal(states)
	if err != nil {
		return types.NewError(types.ErrStorage, "failed to encode workflow states").WithCause(err)
	}

	start := s.clock.Now()
	op := func() error {
		if err := s.store.Set(ctx, s.Key(), data); err != nil {
			if errors.Is(err, ErrStoreClosed) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(newSaveBackoff(), 2), ctx)
	err = backoff.Retry(op, b)
	s.metrics.RecordStateOp(string(s.store.Type()), "set", err, s.clock.Since(start))
	if err != nil {
		return types.NewError(types.ErrStorage, "failed to save workflow states").WithCause(err).WithRetryable(true)
	}
	return nil
}

func newSaveBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	return b
}

func ignoreNotFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// mutate runs fn over the collection under the lock and saves the result.
func (s *Service) mutate(ctx context.Context, fn func([]*WorkflowState) ([]*WorkflowState, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	states, err := s.load(ctx)
	if err != nil {
		return err
	}
	states, err = fn(states)
	if err != nil {
		return err
	}
	return s.save(ctx, states)
}

func find(states []*WorkflowState, id string) (*WorkflowState, int) {
	for i, ws := range states {
		if ws.ExecutionID == id {
			return ws, i
		}
	}
	return nil, -1
}

func notFound(id string) error {
	return types.Errorf(types.ErrNotFound, "workflow state %q not found", id)
}

// ====== 操作 ======

// CreateWorkflowState persists a new running record and evicts the oldest
// records beyond the configured maximum.
func (s *Service) CreateWorkflowState(ctx context.Context, p CreateParams) (*WorkflowState, error) {
	if p.ExecutionID == "" {
		return nil, types.NewError(types.ErrValidation, "execution id is required")
	}

	now := s.clock.Now().UTC()
	ws := &WorkflowState{
		ExecutionID:     p.ExecutionID,
		WorkflowPath:    p.WorkflowPath,
		WorkflowName:    p.WorkflowName,
		StartTime:       now,
		UpdatedAt:       now,
		TotalSteps:      p.TotalSteps,
		Status:          StatusRunning,
		SessionMappings: make(map[string]string),
		CompletedSteps:  []StepResult{},
		CanResume:       true,
		Inputs:          p.Inputs,
	}

	err := s.mutate(ctx, func(states []*WorkflowState) ([]*WorkflowState, error) {
		if existing, _ := find(states, p.ExecutionID); existing != nil {
			return nil, types.Errorf(types.ErrInvalidTransition, "workflow state %q already exists", p.ExecutionID)
		}
		states = append(states, ws)
		return s.evict(states), nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("workflow state created",
		zap.String("execution_id", ws.ExecutionID),
		zap.String("workflow", ws.WorkflowName),
		zap.Int("total_steps", ws.TotalSteps))
	return ws, nil
}

func (s *Service) evict(states []*WorkflowState) []*WorkflowState {
	if len(states) <= s.maxEntries {
		return states
	}
	slices.SortStableFunc(states, func(a, b *WorkflowState) int {
		return a.StartTime.Compare(b.StartTime)
	})
	dropped := len(states) - s.maxEntries
	s.logger.Debug("evicting oldest workflow states", zap.Int("count", dropped))
	return states[dropped:]
}

// GetWorkflowState returns a stored record or a NOT_FOUND error.
func (s *Service) GetWorkflowState(ctx context.Context, executionID string) (*WorkflowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	states, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	ws, _ := find(states, executionID)
	if ws == nil {
		return nil, notFound(executionID)
	}
	return ws, nil
}

// ListWorkflowStates returns every record, newest first.
func (s *Service) ListWorkflowStates(ctx context.Context) ([]*WorkflowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	states, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(states, func(a, b *WorkflowState) int {
		return b.StartTime.Compare(a.StartTime)
	})
	return states, nil
}

// ListResumable returns the records a resume may pick up, newest first.
func (s *Service) ListResumable(ctx context.Context) ([]*WorkflowState, error) {
	all, err := s.ListWorkflowStates(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, ws := range all {
		if ws.Resumable() {
			out = append(out, ws)
		}
	}
	return out, nil
}

// UpdateWorkflowProgress records a step checkpoint. A completed or skipped
// last step completes the workflow; a failed step fails it.
func (s *Service) UpdateWorkflowProgress(ctx context.Context, executionID string, step StepResult) (*WorkflowState, error) {
	var updated *WorkflowState
	err := s.mutate(ctx, func(states []*WorkflowState) ([]*WorkflowState, error) {
		ws, _ := find(states, executionID)
		if ws == nil {
			return nil, notFound(executionID)
		}

		replaced := false
		for i := range ws.CompletedSteps {
			if ws.CompletedSteps[i].StepIndex == step.StepIndex {
				ws.CompletedSteps[i] = step
				replaced = true
				break
			}
		}
		if !replaced {
			ws.CompletedSteps = append(ws.CompletedSteps, step)
			slices.SortStableFunc(ws.CompletedSteps, func(a, b StepResult) int {
				return a.StepIndex - b.StepIndex
			})
		}

		if step.SessionID != "" && step.StepID != "" {
			ws.SessionMappings[step.StepID] = step.SessionID
		}

		switch step.Status {
		case StepRunning:
			ws.CurrentStep = step.StepIndex
		case StepCompleted, StepSkipped:
			ws.CurrentStep = step.StepIndex + 1
			if step.StepIndex >= ws.TotalSteps-1 {
				ws.Status = StatusCompleted
				ws.CanResume = false
			}
		case StepFailed:
			ws.CurrentStep = step.StepIndex
			ws.Status = StatusFailed
			ws.CanResume = false
			ws.LastError = step.Error
		}

		ws.UpdatedAt = s.clock.Now().UTC()
		updated = ws
		return states, nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// PauseWorkflow flags a running record as paused. An error pause on a
// record that is already paused overwrites its reason and last error.
func (s *Service) PauseWorkflow(ctx context.Context, executionID string, reason PauseReason, lastErr string) (*WorkflowState, error) {
	var updated *WorkflowState
	err := s.mutate(ctx, func(states []*WorkflowState) ([]*WorkflowState, error) {
		ws, _ := find(states, executionID)
		if ws == nil {
			return nil, notFound(executionID)
		}
		repause := ws.Status == StatusPaused && reason == PauseError
		if ws.Status != StatusRunning && !repause {
			return nil, types.Errorf(types.ErrInvalidTransition, "cannot pause workflow in status %s", ws.Status)
		}
		now := s.clock.Now().UTC()
		ws.Status = StatusPaused
		if !repause {
			ws.PausedAt = &now
		}
		ws.PauseReason = reason
		ws.CanResume = true
		if lastErr != "" {
			ws.LastError = lastErr
		}
		ws.UpdatedAt = now
		updated = ws
		return states, nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("workflow paused",
		zap.String("execution_id", executionID),
		zap.String("reason", string(reason)))
	return updated, nil
}

// ResumeWorkflow moves a paused, resumable record back to running.
func (s *Service) ResumeWorkflow(ctx context.Context, executionID string) (*WorkflowState, error) {
	var updated *WorkflowState
	err := s.mutate(ctx, func(states []*WorkflowState) ([]*WorkflowState, error) {
		ws, _ := find(states, executionID)
		if ws == nil {
			return nil, notFound(executionID)
		}
		if !ws.CanResume {
			return nil, types.Errorf(types.ErrNotResumable, "workflow %q cannot be resumed", executionID)
		}
		if ws.Status != StatusPaused {
			return nil, types.Errorf(types.ErrInvalidTransition, "cannot resume workflow in status %s", ws.Status)
		}
		now := s.clock.Now().UTC()
		ws.Status = StatusRunning
		ws.ResumedAt = &now
		ws.PauseReason = ""
		ws.UpdatedAt = now
		updated = ws
		return states, nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// MarkFailed fails a record without a step checkpoint.
func (s *Service) MarkFailed(ctx context.Context, executionID, lastErr string) (*WorkflowState, error) {
	return s.setTerminal(ctx, executionID, StatusFailed, lastErr)
}

// MarkCompleted completes a record, used when a workflow has no steps left
// to checkpoint.
func (s *Service) MarkCompleted(ctx context.Context, executionID string) (*WorkflowState, error) {
	return s.setTerminal(ctx, executionID, StatusCompleted, "")
}

func (s *Service) setTerminal(ctx context.Context, executionID string, status Status, lastErr string) (*WorkflowState, error) {
	var updated *WorkflowState
	err := s.mutate(ctx, func(states []*WorkflowState) ([]*WorkflowState, error) {
		ws, _ := find(states, executionID)
		if ws == nil {
			return nil, notFound(executionID)
		}
		ws.Status = status
		ws.CanResume = false
		if lastErr != "" {
			ws.LastError = lastErr
		}
		ws.UpdatedAt = s.clock.Now().UTC()
		updated = ws
		return states, nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteWorkflowState removes a record and reports whether it existed.
func (s *Service) DeleteWorkflowState(ctx context.Context, executionID string) (bool, error) {
	found := false
	err := s.mutate(ctx, func(states []*WorkflowState) ([]*WorkflowState, error) {
		_, idx := find(states, executionID)
		if idx < 0 {
			return states, nil
		}
		found = true
		return slices.Delete(states, idx, idx+1), nil
	})
	return found, err
}

// CleanupOldWorkflows removes records that started more than maxAge ago and
// returns how many were removed.
func (s *Service) CleanupOldWorkflows(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.clock.Now().Add(-maxAge)
	removed := 0
	err := s.mutate(ctx, func(states []*WorkflowState) ([]*WorkflowState, error) {
		kept := states[:0]
		for _, ws := range states {
			if ws.StartTime.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, ws)
		}
		return kept, nil
	})
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Info("cleaned up old workflow states", zap.Int("removed", removed), zap.Duration("max_age", maxAge))
	}
	return removed, nil
}

// ResolveSessionReference looks a reference up in a state's session mappings.
func (s *Service) ResolveSessionReference(mappings map[string]string, ref string) string {
	return ResolveSessionReference(mappings, ref)
}

// ResolveSessionReference returns the session recorded for the step a
// reference names, or "" when the reference is empty, malformed or unmapped.
func ResolveSessionReference(mappings map[string]string, ref string) string {
	stepID, ok := dsl.ParseSessionReference(ref).TargetStep()
	if !ok {
		return ""
	}
	return mappings[stepID]
}

// String 用于日志
func (s *Service) String() string {
	return fmt.Sprintf("state.Service{store=%s, key=%s}", s.store.Type(), s.Key())
}
