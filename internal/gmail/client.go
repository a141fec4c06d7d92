package gmail

import (
	"context"
	"errors"
	"fmt"
)

// Client is the narrow Gmail surface required by inboxrules.
type Client interface {
	Fetch(ctx context.Context, req FetchRequest) (Page, error)
	ListLabels(ctx context.Context) (map[string]LabelID, map[LabelID]string, error)
	FindLabel(ctx context.Context, name string) (LabelID, bool, error)
	CreateLabel(ctx context.Context, name string) (LabelID, error)
	AddLabel(ctx context.Context, id MessageID, label LabelID) error
	MarkRead(ctx context.Context, id MessageID) error
	MarkUnread(ctx context.Context, id MessageID) error
}

// TransientError reports a Gmail call that failed for reasons expected to
// clear on their own: rate limiting, server errors, network trouble or an
// open circuit breaker. The affected item is skipped.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("gmail %s: transient failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err wraps a *TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
