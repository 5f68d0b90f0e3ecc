package youtrack

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// PageQuery describes a paged collection endpoint.
type PageQuery struct {
	Endpoint string
	Params   url.Values // extra parameters sent with every page ($skip/$top are added)
	PageSize int
}

// FetchAll walks an endpoint with $skip/$top until a page comes back empty
// or shorter than the page size, and decodes every item as T.
//
// Any page failure aborts the walk; the error carries the offset reached.
func FetchAll[T any](ctx context.Context, r Requester, q PageQuery) ([]T, error) {
	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	var all []T
	for page, skip := 0, 0; page < MaxPages; page, skip = page+1, skip+pageSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		params := url.Values{}
		for k, vs := range q.Params {
			params[k] = append([]string(nil), vs...)
		}
		params.Set("$skip", strconv.Itoa(skip))
		params.Set("$top", strconv.Itoa(pageSize))

		res, err := r.Request(ctx, q.Endpoint, params, http.MethodGet)
		if err != nil {
			return nil, fmt.Errorf("fetch %s at offset %d: %w", q.Endpoint, skip, err)
		}
		items, err := res.Items()
		if err != nil {
			return nil, fmt.Errorf("fetch %s at offset %d: %w", q.Endpoint, skip, err)
		}
		for _, raw := range items {
			var item T
			if err := json.Unmarshal(raw, &item); err != nil {
				return nil, fmt.Errorf("decode %s item at offset %d: %w", q.Endpoint, skip, err)
			}
			all = append(all, item)
		}
		if len(items) < pageSize {
			return all, nil
		}
	}
	return nil, fmt.Errorf("fetch %s: exceeded %d pages", q.Endpoint, MaxPages)
}
