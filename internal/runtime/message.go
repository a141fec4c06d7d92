package runtime

import (
	"encoding/base64"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/k3a/html2text"
	"google.golang.org/api/gmail/v1"

	gc "github.com/joshsymonds/inboxrules/internal/gmail"
)

const snippetLimit = 200

// emailFromMessage flattens a full-format Gmail message into the record rules
// evaluate. Label IDs without a known name are kept as IDs.
func emailFromMessage(msg *gmail.Message, labelNames map[gc.LabelID]string) gc.Email {
	e := gc.Email{ID: gc.MessageID(msg.Id)}

	headers := map[string]string{}
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			key := strings.ToLower(h.Name)
			if _, seen := headers[key]; !seen {
				headers[key] = h.Value
			}
		}
	}
	e.Subject = headers["subject"]
	e.Sender = headers["from"]
	e.Recipient = headers["to"]

	switch {
	case msg.InternalDate > 0:
		e.ReceivedAt = time.UnixMilli(msg.InternalDate).UTC()
	case headers["date"] != "":
		if t, err := mail.ParseDate(headers["date"]); err == nil {
			e.ReceivedAt = t.UTC()
		}
	}

	for _, id := range msg.LabelIds {
		if gc.LabelID(id) == gc.LabelUnread {
			e.IsUnread = true
		}
		if name, ok := labelNames[gc.LabelID(id)]; ok {
			e.Labels = append(e.Labels, name)
		} else {
			e.Labels = append(e.Labels, id)
		}
	}

	snippet := html2text.HTML2Text(msg.Snippet)
	if strings.TrimSpace(snippet) == "" {
		snippet = bodyText(msg.Payload)
	}
	e.BodySnippet = truncate(collapseSpace(snippet), snippetLimit)
	return e
}

// bodyText prefers the first text/plain part and falls back to text/html
// rendered as text.
func bodyText(part *gmail.MessagePart) string {
	if part == nil {
		return ""
	}
	if plain := findPart(part, "text/plain"); plain != "" {
		return plain
	}
	if html := findPart(part, "text/html"); html != "" {
		return html2text.HTML2Text(html)
	}
	return ""
}

func findPart(part *gmail.MessagePart, mimeType string) string {
	if strings.EqualFold(part.MimeType, mimeType) && part.Body != nil && part.Body.Data != "" {
		if s, ok := decodeBody(part.Body.Data); ok {
			return s
		}
	}
	for _, child := range part.Parts {
		if s := findPart(child, mimeType); s != "" {
			return s
		}
	}
	return ""
}

// decodeBody handles Gmail's base64url part data, padded or not.
func decodeBody(data string) (string, bool) {
	raw, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		raw, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
		if err != nil {
			return "", false
		}
	}
	return string(raw), true
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit])
}
