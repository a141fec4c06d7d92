package rules

import (
	"context"
	"fmt"
	"strings"

	"github.com/joshsymonds/inboxrules/internal/gmail"
)

// ActionType is the configuration tag of an action.
type ActionType string

const (
	ActionMoveMessage ActionType = "move_message"
	ActionMarkRead    ActionType = "mark_read"
	ActionMarkUnread  ActionType = "mark_unread"
)

var actionAliases = map[string]ActionType{
	"mark_as_read":   ActionMarkRead,
	"mark_as_unread": ActionMarkUnread,
}

// Action is a side effect applied to a matched email. The set of
// implementations is closed: MoveMessage, MarkRead and MarkUnread.
type Action interface {
	Type() ActionType
	apply(ctx context.Context, email gmail.Email, svc EmailService) error
}

// MoveMessage files the email under Label, creating the label on first use.
type MoveMessage struct {
	Label string
}

// MarkRead clears the unread state.
type MarkRead struct{}

// MarkUnread sets the unread state.
type MarkUnread struct{}

func (MoveMessage) Type() ActionType { return ActionMoveMessage }
func (MarkRead) Type() ActionType    { return ActionMarkRead }
func (MarkUnread) Type() ActionType  { return ActionMarkUnread }

func (a MoveMessage) String() string { return fmt.Sprintf("%s(%s)", ActionMoveMessage, a.Label) }
func (MarkRead) String() string      { return string(ActionMarkRead) }
func (MarkUnread) String() string    { return string(ActionMarkUnread) }

func (a MoveMessage) apply(ctx context.Context, email gmail.Email, svc EmailService) error {
	id, found, err := svc.FindLabel(ctx, a.Label)
	if err != nil {
		return fmt.Errorf("resolve label %q: %w", a.Label, err)
	}
	if !found {
		id, err = svc.CreateLabel(ctx, a.Label)
		if err != nil {
			return fmt.Errorf("create label %q: %w", a.Label, err)
		}
	}
	if err := svc.AddLabel(ctx, email.ID, id); err != nil {
		return fmt.Errorf("move %s to %q: %w", email.ID, a.Label, err)
	}
	return nil
}

func (MarkRead) apply(ctx context.Context, email gmail.Email, svc EmailService) error {
	if err := svc.MarkRead(ctx, email.ID); err != nil {
		return fmt.Errorf("mark %s read: %w", email.ID, err)
	}
	return nil
}

func (MarkUnread) apply(ctx context.Context, email gmail.Email, svc EmailService) error {
	if err := svc.MarkUnread(ctx, email.ID); err != nil {
		return fmt.Errorf("mark %s unread: %w", email.ID, err)
	}
	return nil
}

// actionDoc is the JSON shape of an action in the rules file.
type actionDoc struct {
	Type  string `json:"type"`
	Label string `json:"label,omitempty"`
}

func parseAction(doc actionDoc) (Action, error) {
	raw := strings.ToLower(strings.TrimSpace(doc.Type))
	t := ActionType(raw)
	if alias, ok := actionAliases[raw]; ok {
		t = alias
	}
	switch t {
	case ActionMoveMessage:
		label := strings.TrimSpace(doc.Label)
		if label == "" {
			return nil, &ConfigError{Path: "label", Msg: "move_message requires a label"}
		}
		return MoveMessage{Label: label}, nil
	case ActionMarkRead:
		return MarkRead{}, nil
	case ActionMarkUnread:
		return MarkUnread{}, nil
	case "":
		return nil, &ConfigError{Path: "type", Msg: "action type is required"}
	default:
		return nil, &ConfigError{Path: "type", Msg: fmt.Sprintf("unknown action type %q", doc.Type)}
	}
}

func actionToDoc(a Action) actionDoc {
	doc := actionDoc{Type: string(a.Type())}
	if mv, ok := a.(MoveMessage); ok {
		doc.Label = mv.Label
	}
	return doc
}
