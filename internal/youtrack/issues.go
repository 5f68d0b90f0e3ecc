package youtrack

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// ProjectQuery builds the issue search query for a project id.
func ProjectQuery(projectID string) string {
	return "project: " + projectID
}

// FetchIssues returns every issue matching query, requesting fields
// (IssueFields when empty).
func (c *Client) FetchIssues(ctx context.Context, query, fields string, pageSize int) ([]Issue, error) {
	if fields == "" {
		fields = IssueFields
	}
	params := url.Values{}
	params.Set("fields", fields)
	if query != "" {
		params.Set("query", query)
	}
	issues, err := FetchAll[Issue](ctx, c, PageQuery{Endpoint: "issues", Params: params, PageSize: pageSize})
	if err != nil {
		return nil, fmt.Errorf("fetch issues: %w", err)
	}
	return issues, nil
}

// FetchProject returns project details. YouTrack accepts the internal id or
// the short name in the path; when that lookup fails the project list is
// searched by id, short name, and display name.
func (c *Client) FetchProject(ctx context.Context, id string) (*Project, error) {
	params := url.Values{}
	params.Set("fields", ProjectFields)

	res, err := c.Request(ctx, "admin/projects/"+url.PathEscape(id), params, http.MethodGet)
	if err == nil {
		var p Project
		if err := res.Decode(&p); err != nil {
			return nil, fmt.Errorf("fetch project %s: %w", id, err)
		}
		return &p, nil
	}
	c.log.Debug("project lookup failed, searching project list", "project", id, "error", err)

	projects, listErr := c.ListProjects(ctx)
	if listErr != nil {
		return nil, fmt.Errorf("fetch project %s: %w", id, err)
	}
	for i := range projects {
		p := &projects[i]
		if p.ID == id || strings.EqualFold(p.ShortName, id) || strings.EqualFold(p.Name, id) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("fetch project %s: %w", id, err)
}

// ListProjects returns every project visible to the token.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	params := url.Values{}
	params.Set("fields", "id,name,shortName,description")
	projects, err := FetchAll[Project](ctx, c, PageQuery{Endpoint: "admin/projects", Params: params, PageSize: 100})
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return projects, nil
}

// FetchBundles returns every custom field bundle with its values.
func (c *Client) FetchBundles(ctx context.Context) ([]Bundle, error) {
	params := url.Values{}
	params.Set("fields", BundleFields)
	bundles, err := FetchAll[Bundle](ctx, c, PageQuery{Endpoint: "admin/customFieldSettings/bundles", Params: params, PageSize: 100})
	if err != nil {
		return nil, fmt.Errorf("fetch bundles: %w", err)
	}
	return bundles, nil
}

// FindBundle returns the values of the bundle whose name matches field,
// ignoring case, surrounding whitespace, and a plural ending
// ("State" matches "States", "Priority" matches "Priorities").
func FindBundle(bundles []Bundle, field string) ([]BundleValue, bool) {
	want := bundleKey(field)
	if want == "" {
		return nil, false
	}
	for _, b := range bundles {
		if bundleKey(b.Name) == want {
			return b.Values, true
		}
	}
	return nil, false
}

func bundleKey(name string) string {
	k := strings.ToLower(strings.TrimSpace(name))
	if base, ok := strings.CutSuffix(k, "ies"); ok {
		return base + "y"
	}
	return strings.TrimSuffix(k, "s")
}

// FetchProjectSprints returns the sprints of every agile board that
// includes the project.
func (c *Client) FetchProjectSprints(ctx context.Context, projectID string) ([]Sprint, error) {
	params := url.Values{}
	params.Set("fields", AgileFields)
	agiles, err := FetchAll[Agile](ctx, c, PageQuery{Endpoint: "agiles", Params: params, PageSize: 100})
	if err != nil {
		return nil, fmt.Errorf("fetch agiles: %w", err)
	}

	var sprints []Sprint
	for _, a := range agiles {
		if !boardIncludes(a, projectID) {
			continue
		}
		sp := url.Values{}
		sp.Set("fields", SprintFields)
		got, err := FetchAll[Sprint](ctx, c, PageQuery{Endpoint: "agiles/" + a.ID + "/sprints", Params: sp, PageSize: 100})
		if err != nil {
			return nil, fmt.Errorf("fetch sprints for board %s: %w", a.Name, err)
		}
		sprints = append(sprints, got...)
	}
	return sprints, nil
}

func boardIncludes(a Agile, projectID string) bool {
	for _, p := range a.Projects {
		if p.ID == projectID || strings.EqualFold(p.ShortName, projectID) || strings.EqualFold(p.Name, projectID) {
			return true
		}
	}
	return false
}
