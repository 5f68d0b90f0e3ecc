package youtrack

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// HistoryOptions controls a batch history fetch.
type HistoryOptions struct {
	Fields     string
	Categories []string
	// Since drops activities older than this instant. Zero keeps everything.
	// Activities without a timestamp are kept for the caller to judge.
	Since    time.Time
	PageSize int
	// Deadline bounds the whole batch. Zero means no deadline.
	Deadline time.Duration
}

// HistoryResult is the merged outcome of a batch history fetch.
//
// Activities has an entry for every requested issue whose task finished,
// successfully or not. A failed issue maps to an empty list and is named in
// Failed. Issues cut off by the batch deadline are absent from Activities
// and named in Incomplete.
type HistoryResult struct {
	Activities map[string][]Activity
	Failed     []string
	Incomplete []string
}

type historyOutcome struct {
	activities []Activity
	err        error
	// cutOff is set when the batch deadline ended the task, not its own
	// attempt budget.
	cutOff bool
}

// historyRequester routes history pages through the exponential 5xx policy.
type historyRequester struct{ c *Client }

func (h historyRequester) Request(ctx context.Context, endpoint string, params url.Values, method string) (*Result, error) {
	return h.c.request(ctx, endpoint, params, method, retryPolicy{exponentialServerErrors: true})
}

// FetchHistories fetches activity history for each issue concurrently.
// Concurrency is bounded by the client's connection pool. A failing issue
// never cancels its siblings; only ctx or the batch deadline does.
func (c *Client) FetchHistories(ctx context.Context, issueIDs []string, opts HistoryOptions) (*HistoryResult, error) {
	if opts.Fields == "" {
		opts.Fields = ActivityFields
	}
	if opts.Categories == nil {
		opts.Categories = DefaultCategories
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultHistoryPageSize
	}

	batchCtx := ctx
	if opts.Deadline > 0 {
		var cancel context.CancelFunc
		batchCtx, cancel = context.WithTimeout(ctx, opts.Deadline)
		defer cancel()
	}

	outcomes := make([]historyOutcome, len(issueIDs))
	var g errgroup.Group
	for i, id := range issueIDs {
		g.Go(func() error {
			acts, err := c.fetchHistory(batchCtx, id, opts)
			cutOff := err != nil && batchCtx.Err() != nil &&
				errors.Is(err, batchCtx.Err()) && !errors.Is(err, ErrRetriesExhausted)
			outcomes[i] = historyOutcome{activities: acts, err: err, cutOff: cutOff}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &HistoryResult{Activities: make(map[string][]Activity, len(issueIDs))}
	for i, id := range issueIDs {
		o := outcomes[i]
		switch {
		case o.cutOff:
			c.log.Warn("history fetch cut off by deadline", "issue", id)
			res.Incomplete = append(res.Incomplete, id)
		case o.err != nil:
			c.log.Warn("history fetch failed", "issue", id, "error", o.err)
			res.Activities[id] = []Activity{}
			res.Failed = append(res.Failed, id)
		default:
			res.Activities[id] = o.activities
		}
	}
	c.log.Debug("history batch complete",
		slog.Int("issues", len(issueIDs)),
		slog.Int("failed", len(res.Failed)),
		slog.Int("incomplete", len(res.Incomplete)),
	)
	return res, nil
}

func (c *Client) fetchHistory(ctx context.Context, issueID string, opts HistoryOptions) ([]Activity, error) {
	params := url.Values{}
	params.Set("fields", opts.Fields)
	if len(opts.Categories) > 0 {
		params.Set("categories", strings.Join(opts.Categories, ","))
	}

	acts, err := FetchAll[Activity](ctx, historyRequester{c}, PageQuery{
		Endpoint: "issues/" + issueID + "/activities",
		Params:   params,
		PageSize: opts.PageSize,
	})
	if err != nil {
		return nil, err
	}
	if opts.Since.IsZero() {
		return acts, nil
	}

	since := opts.Since.UnixMilli()
	kept := acts[:0]
	for _, a := range acts {
		if !a.Timestamp.Valid {
			c.log.Debug("keeping activity without timestamp", "issue", issueID, "id", a.ID)
			kept = append(kept, a)
			continue
		}
		if a.Timestamp.Value >= since {
			kept = append(kept, a)
		}
	}
	return kept, nil
}
