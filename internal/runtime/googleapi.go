package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	gax "github.com/googleapis/gax-go/v2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	gc "github.com/joshsymonds/inboxrules/internal/gmail"
	"github.com/joshsymonds/inboxrules/internal/rate"
)

const (
	defaultPageSize = 100
	maxPageSize     = 500
)

// ClientOptions tune the adapter. Zero values pick sensible defaults.
type ClientOptions struct {
	Limiter     rate.Limiter
	Backoff     gax.Backoff
	MaxAttempts int
	Logger      *slog.Logger
}

type googleClient struct {
	svc    *gmail.Service
	call   *caller
	logger *slog.Logger

	labelsLoaded bool
	labelByName  map[string]gc.LabelID // lower-cased names
	labelNames   map[gc.LabelID]string
}

func NewGoogleAPIClient(svc *gmail.Service, opts ClientOptions) *googleClient {
	if opts.Logger == nil {
		opts.Logger = DefaultLogger()
	}
	return &googleClient{
		svc:    svc,
		call:   newCaller(opts.Limiter, opts.Backoff, opts.MaxAttempts, opts.Logger),
		logger: opts.Logger,
	}
}

func (g *googleClient) Fetch(ctx context.Context, req gc.FetchRequest) (gc.Page, error) {
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	if req.Limit > 0 && req.Limit < pageSize {
		pageSize = req.Limit
	}
	if err := g.loadLabels(ctx); err != nil {
		return gc.Page{}, err
	}

	q := gc.BuildQuery(req)
	var res *gmail.ListMessagesResponse
	err := g.call.do(ctx, "list messages", func(ctx context.Context) error {
		call := g.svc.Users.Messages.List("me").MaxResults(int64(pageSize)).Context(ctx)
		if q.Raw != "" {
			call = call.Q(q.Raw)
		}
		if req.PageToken != "" {
			call = call.PageToken(req.PageToken)
		}
		var err error
		res, err = call.Do()
		return err
	})
	if err != nil {
		return gc.Page{}, err
	}

	page := gc.Page{NextPageToken: res.NextPageToken}
	for _, ref := range res.Messages {
		if ctx.Err() != nil {
			return page, ctx.Err()
		}
		var msg *gmail.Message
		err := g.call.do(ctx, "get message", func(ctx context.Context) error {
			var err error
			msg, err = g.svc.Users.Messages.Get("me", ref.Id).Format("full").Context(ctx).Do()
			return err
		})
		if err != nil {
			g.logger.WarnContext(ctx, "skipping message that could not be loaded", "id", ref.Id, "err", err)
			page.Failed++
			continue
		}
		page.Emails = append(page.Emails, emailFromMessage(msg, g.labelNames))
	}
	return page, nil
}

func (g *googleClient) ListLabels(ctx context.Context) (map[string]gc.LabelID, map[gc.LabelID]string, error) {
	if err := g.loadLabels(ctx); err != nil {
		return nil, nil, err
	}
	byName := make(map[string]gc.LabelID, len(g.labelNames))
	byID := make(map[gc.LabelID]string, len(g.labelNames))
	for id, name := range g.labelNames {
		byName[name] = id
		byID[id] = name
	}
	return byName, byID, nil
}

// FindLabel matches names case-insensitively against the cached label list.
func (g *googleClient) FindLabel(ctx context.Context, name string) (gc.LabelID, bool, error) {
	if err := g.loadLabels(ctx); err != nil {
		return "", false, err
	}
	id, ok := g.labelByName[strings.ToLower(name)]
	return id, ok, nil
}

func (g *googleClient) CreateLabel(ctx context.Context, name string) (gc.LabelID, error) {
	if err := g.loadLabels(ctx); err != nil {
		return "", err
	}
	var created *gmail.Label
	err := g.call.do(ctx, "create label", func(ctx context.Context) error {
		var err error
		created, err = g.svc.Users.Labels.Create("me", &gmail.Label{
			Name:                  name,
			LabelListVisibility:   "labelShow",
			MessageListVisibility: "show",
		}).Context(ctx).Do()
		return err
	})
	if err != nil {
		if isCode(err, http.StatusConflict) {
			// created elsewhere since we listed; reload and use it
			g.labelsLoaded = false
			if id, ok, ferr := g.FindLabel(ctx, name); ferr == nil && ok {
				return id, nil
			}
		}
		return "", err
	}
	id := gc.LabelID(created.Id)
	g.remember(id, created.Name)
	g.logger.InfoContext(ctx, "created label", "name", created.Name, "id", id)
	return id, nil
}

// AddLabel files the message under label and takes it out of the inbox.
func (g *googleClient) AddLabel(ctx context.Context, id gc.MessageID, label gc.LabelID) error {
	req := &gmail.ModifyMessageRequest{AddLabelIds: []string{string(label)}}
	if label != gc.LabelInbox {
		req.RemoveLabelIds = []string{string(gc.LabelInbox)}
	}
	return g.modify(ctx, "move message", id, req)
}

func (g *googleClient) MarkRead(ctx context.Context, id gc.MessageID) error {
	return g.modify(ctx, "mark read", id, &gmail.ModifyMessageRequest{RemoveLabelIds: []string{string(gc.LabelUnread)}})
}

func (g *googleClient) MarkUnread(ctx context.Context, id gc.MessageID) error {
	return g.modify(ctx, "mark unread", id, &gmail.ModifyMessageRequest{AddLabelIds: []string{string(gc.LabelUnread)}})
}

func (g *googleClient) modify(ctx context.Context, op string, id gc.MessageID, req *gmail.ModifyMessageRequest) error {
	return g.call.do(ctx, op, func(ctx context.Context) error {
		_, err := g.svc.Users.Messages.Modify("me", string(id), req).Context(ctx).Do()
		return err
	})
}

func (g *googleClient) loadLabels(ctx context.Context) error {
	if g.labelsLoaded {
		return nil
	}
	var lr *gmail.ListLabelsResponse
	err := g.call.do(ctx, "list labels", func(ctx context.Context) error {
		var err error
		lr, err = g.svc.Users.Labels.List("me").Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("load labels: %w", err)
	}
	g.labelByName = make(map[string]gc.LabelID, len(lr.Labels))
	g.labelNames = make(map[gc.LabelID]string, len(lr.Labels))
	for _, l := range lr.Labels {
		g.remember(gc.LabelID(l.Id), l.Name)
	}
	g.labelsLoaded = true
	return nil
}

func (g *googleClient) remember(id gc.LabelID, name string) {
	if g.labelByName == nil {
		g.labelByName = map[string]gc.LabelID{}
		g.labelNames = map[gc.LabelID]string{}
	}
	g.labelByName[strings.ToLower(name)] = id
	g.labelNames[id] = name
}

func isCode(err error, code int) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == code
}

var _ gc.Client = (*googleClient)(nil)
