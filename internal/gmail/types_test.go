package gmail

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestEmailField(t *testing.T) {
	email := Email{
		ID:          "m1",
		Subject:     "Weekly Newsletter #42",
		Sender:      "News <news@example.com>",
		Recipient:   "me@example.com",
		BodySnippet: "hello",
		IsUnread:    true,
		ReceivedAt:  time.Date(2024, time.March, 9, 10, 0, 0, 0, time.UTC),
		Labels:      []string{"INBOX", "Newsletters"},
	}

	tests := []struct {
		field  string
		want   string
		wantOK bool
	}{
		{field: "subject", want: "Weekly Newsletter #42", wantOK: true},
		{field: "from", want: "News <news@example.com>", wantOK: true},
		{field: "To", want: "me@example.com", wantOK: true},
		{field: "body", want: "hello", wantOK: true},
		{field: "is_unread", want: "true", wantOK: true},
		{field: "received_date", want: "2024-03-09T10:00:00Z", wantOK: true},
		{field: "labels", want: "INBOX,Newsletters", wantOK: true},
		{field: "id", want: "m1", wantOK: true},
		{field: "cc", want: "", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			got, ok := email.Field(tt.field)
			if ok != tt.wantOK {
				t.Fatalf("ok mismatch for %q: got %v want %v", tt.field, ok, tt.wantOK)
			}
			if got != tt.want {
				t.Fatalf("value mismatch for %q: got %q want %q", tt.field, got, tt.want)
			}
		})
	}
}

func TestEmailFieldZeroReceivedAt(t *testing.T) {
	got, ok := Email{}.Field(FieldReceivedAt)
	if !ok || got != "" {
		t.Fatalf("expected empty present value, got %q ok=%v", got, ok)
	}
}

func TestBuildQuery(t *testing.T) {
	since := time.Date(2024, time.March, 2, 15, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		req  FetchRequest
		want string
	}{
		{name: "empty", req: FetchRequest{}, want: ""},
		{name: "since", req: FetchRequest{Since: since}, want: "after:2024/03/02"},
		{name: "unread", req: FetchRequest{UnreadOnly: true}, want: "is:unread"},
		{name: "both", req: FetchRequest{Since: since, UnreadOnly: true}, want: "after:2024/03/02 is:unread"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildQuery(tt.req).Raw; got != tt.want {
				t.Fatalf("query mismatch: got %q want %q", got, tt.want)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	base := errors.New("503")
	wrapped := fmt.Errorf("mark read: %w", &TransientError{Op: "modify", Err: base})
	if !IsTransient(wrapped) {
		t.Fatalf("expected wrapped transient error to be detected")
	}
	if !errors.Is(wrapped, base) {
		t.Fatalf("expected unwrap chain to reach base error")
	}
	if IsTransient(base) {
		t.Fatalf("plain error must not be transient")
	}
}
