package rules

import (
	"context"
	"errors"
	"fmt"

	"github.com/joshsymonds/inboxrules/internal/gmail"
)

// EmailService is the subset of the Gmail client the dispatcher drives.
type EmailService interface {
	FindLabel(ctx context.Context, name string) (gmail.LabelID, bool, error)
	CreateLabel(ctx context.Context, name string) (gmail.LabelID, error)
	AddLabel(ctx context.Context, id gmail.MessageID, label gmail.LabelID) error
	MarkRead(ctx context.Context, id gmail.MessageID) error
	MarkUnread(ctx context.Context, id gmail.MessageID) error
}

// ActionFailure pairs an action with the error it produced.
type ActionFailure struct {
	Action Action
	Err    error
}

// ApplyResult records what happened to one email's actions.
type ApplyResult struct {
	EmailID  gmail.MessageID
	Applied  []Action
	Failures []ActionFailure
}

// Err joins every action failure, or returns nil when all actions applied.
func (r ApplyResult) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, fmt.Errorf("%s: %w", f.Action.Type(), f.Err))
	}
	return errors.Join(errs...)
}

// Merge appends other's outcome to r.
func (r *ApplyResult) Merge(other ApplyResult) {
	r.Applied = append(r.Applied, other.Applied...)
	r.Failures = append(r.Failures, other.Failures...)
}

// Apply runs actions against email in order. A failed action is recorded and
// the remaining actions still run.
func Apply(ctx context.Context, actions []Action, email gmail.Email, svc EmailService) ApplyResult {
	res := ApplyResult{EmailID: email.ID}
	for _, action := range actions {
		if err := action.apply(ctx, email, svc); err != nil {
			res.Failures = append(res.Failures, ActionFailure{Action: action, Err: err})
			continue
		}
		res.Applied = append(res.Applied, action)
	}
	return res
}
