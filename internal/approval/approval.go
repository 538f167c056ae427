// Package approval implements the Approval Workflow: the single gate a
// goal must pass through (approved or rejected) before it can own a
// project. It is a thin layer over the Project/Task Engine and the
// store's goal listing — the transactional work already lives there;
// this package owns the outward contract and event emission.
package approval

import (
	"context"
	"log/slog"

	"github.com/fablab/autonomy-core/internal/model"
)

// Engine is the subset of *engine.Engine the workflow depends on.
type Engine interface {
	Approve(ctx context.Context, goalID, approver, notes string) (*model.Project, error)
	Reject(goalID, approver, notes string) error
}

// Store is the subset of *store.Store the workflow depends on.
type Store interface {
	ListPendingGoals() ([]*model.Goal, error)
}

// Event is emitted on every approve/reject decision, for callers (the
// HTTP API, audit logging) that want to react without re-querying the
// store.
type Event struct {
	GoalID    string
	ProjectID string // set only on "approved"; rejection never creates a project
	Decision  string // approved | rejected
	Approver  string
}

// Sink receives workflow events; the zero value (nil) disables
// emission.
type Sink func(Event)

type Workflow struct {
	engine Engine
	store  Store
	sink   Sink
	log    *slog.Logger
}

func New(e Engine, s Store, sink Sink, log *slog.Logger) *Workflow {
	if log == nil {
		log = slog.Default()
	}
	return &Workflow{engine: e, store: s, sink: sink, log: log}
}

// ListPending returns goals awaiting an approval decision.
func (w *Workflow) ListPending() ([]*model.Goal, error) {
	return w.store.ListPendingGoals()
}

// Approve approves goalID and emits an approved event. Approving an
// already-approved goal is idempotent (the Engine layer handles that)
// and still emits an event, so downstream consumers see a consistent
// stream even on retry.
func (w *Workflow) Approve(ctx context.Context, goalID, approver, notes string) (*model.Project, error) {
	project, err := w.engine.Approve(ctx, goalID, approver, notes)
	if err != nil {
		return nil, err
	}
	w.emit(Event{GoalID: goalID, ProjectID: project.ID, Decision: "approved", Approver: approver})
	return project, nil
}

// Reject rejects goalID and emits a rejected event. No goal may move
// past `identified` without one of Approve or Reject; rejecting
// anything already past `identified` fails with invalid_state,
// surfaced unchanged from the Engine layer.
func (w *Workflow) Reject(goalID, approver, notes string) error {
	if err := w.engine.Reject(goalID, approver, notes); err != nil {
		return err
	}
	w.emit(Event{GoalID: goalID, Decision: "rejected", Approver: approver})
	return nil
}

func (w *Workflow) emit(e Event) {
	w.log.Info("approval.decision", "goal_id", e.GoalID, "decision", e.Decision, "approver", e.Approver)
	if w.sink != nil {
		w.sink(e)
	}
}
