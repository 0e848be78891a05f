package history

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/triage/internal/action"
	"github.com/pitabwire/triage/model"
)

const appendTimeout = 2 * time.Second

// Recorder is an action.Observer that writes every outcome to a Store.
// Store failures are logged and never reach the caller.
type Recorder struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewRecorder creates a recorder writing to store.
func NewRecorder(store Store, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: store, logger: logger, now: time.Now}
}

// OnActionInvoked implements action.Observer.
func (r *Recorder) OnActionInvoked(ctx context.Context, out action.Outcome) {
	e := Entry{
		ID:           uuid.NewString(),
		InvocationID: out.InvocationID,
		ActionID:     out.ActionID,
		CardID:       out.Context.Card().ID,
		State:        string(out.State),
		Dispatch:     string(out.Dispatch),
		Degraded:     out.Degraded,
		ErrorCode:    out.ErrorCode,
		Duration:     out.Duration,
		CreatedAt:    r.now().UTC(),
	}
	if !out.Validation.Valid {
		e.MissingKeys = out.Validation.MissingKeys
	}
	if rctx := model.RequestContextFrom(ctx); rctx != nil {
		e.SubjectID = rctx.SubjectID
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), appendTimeout)
	defer cancel()
	if err := r.store.Append(ctx, e); err != nil {
		r.logger.Warn("failed to record action history",
			zap.String("invocation_id", out.InvocationID),
			zap.String("action_id", out.ActionID),
			zap.Error(err),
		)
	}
}
