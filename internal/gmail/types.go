package gmail

import (
	"strconv"
	"strings"
	"time"
)

type MessageID string
type LabelID string

// System label IDs that inboxrules manipulates directly.
const (
	LabelInbox  LabelID = "INBOX"
	LabelUnread LabelID = "UNREAD"
)

// Email is the immutable view of a fetched message that rules evaluate.
type Email struct {
	ID          MessageID
	Subject     string
	Sender      string
	Recipient   string
	BodySnippet string
	IsUnread    bool
	ReceivedAt  time.Time
	Labels      []string // label names where known, otherwise label IDs
}

// Field names accepted by Email.Field.
const (
	FieldID          = "id"
	FieldSubject     = "subject"
	FieldSender      = "sender"
	FieldRecipient   = "recipient"
	FieldBodySnippet = "body_snippet"
	FieldIsUnread    = "is_unread"
	FieldReceivedAt  = "received_at"
	FieldLabels      = "labels"
)

var fieldAliases = map[string]string{
	"from":          FieldSender,
	"to":            FieldRecipient,
	"body":          FieldBodySnippet,
	"received_date": FieldReceivedAt,
}

// CanonicalField maps a configured field name (including legacy aliases) to
// its canonical form. ok is false for names Email does not carry.
func CanonicalField(name string) (string, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if alias, found := fieldAliases[name]; found {
		name = alias
	}
	switch name {
	case FieldID, FieldSubject, FieldSender, FieldRecipient, FieldBodySnippet,
		FieldIsUnread, FieldReceivedAt, FieldLabels:
		return name, true
	default:
		return "", false
	}
}

// Field returns the string form of the named attribute. Unknown names report
// ok=false instead of failing so callers can treat them as non-matching.
func (e Email) Field(name string) (string, bool) {
	canonical, ok := CanonicalField(name)
	if !ok {
		return "", false
	}
	switch canonical {
	case FieldID:
		return string(e.ID), true
	case FieldSubject:
		return e.Subject, true
	case FieldSender:
		return e.Sender, true
	case FieldRecipient:
		return e.Recipient, true
	case FieldBodySnippet:
		return e.BodySnippet, true
	case FieldIsUnread:
		return strconv.FormatBool(e.IsUnread), true
	case FieldReceivedAt:
		if e.ReceivedAt.IsZero() {
			return "", true
		}
		return e.ReceivedAt.UTC().Format(time.RFC3339), true
	case FieldLabels:
		return strings.Join(e.Labels, ","), true
	}
	return "", false
}

// FetchRequest selects the next page of messages to process.
type FetchRequest struct {
	Since      time.Time // zero means no lower bound
	UnreadOnly bool
	Limit      int // remaining messages allowed this run; 0 means unbounded
	PageToken  string
	PageSize   int
}

// Page is one batch of fetched messages.
type Page struct {
	Emails        []Email
	Failed        int // listed messages that could not be loaded
	NextPageToken string
}

type Query struct {
	Raw string // Gmail search string, e.g. `after:2024/03/01 is:unread`
}

const queryDateLayout = "2006/01/02"

// BuildQuery renders the Gmail search string for a fetch request.
func BuildQuery(req FetchRequest) Query {
	var parts []string
	if !req.Since.IsZero() {
		parts = append(parts, "after:"+req.Since.Format(queryDateLayout))
	}
	if req.UnreadOnly {
		parts = append(parts, "is:unread")
	}
	return Query{Raw: strings.Join(parts, " ")}
}
