package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/steveyegge/pulse/internal/pipeline"
	"github.com/steveyegge/pulse/internal/report"
	"github.com/steveyegge/pulse/internal/snapshot"
	"github.com/steveyegge/pulse/internal/youtrack"
)

// outputJSON writes v as indented JSON.
func outputJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON: %w", err)
	}
	return nil
}

// outputJSONError writes {"error": ..., "code": ...} to w. The code is
// omitted when empty.
func outputJSONError(w io.Writer, err error, code string) {
	errObj := map[string]string{"error": err.Error()}
	if code != "" {
		errObj["code"] = code
	}
	_ = outputJSON(w, errObj)
}

// errorCode maps known failures to stable machine-readable codes.
func errorCode(err error) string {
	var apiErr *youtrack.APIError
	switch {
	case errors.Is(err, pipeline.ErrNoIssues):
		return "no_issues"
	case errors.Is(err, youtrack.ErrRetriesExhausted):
		return "retries_exhausted"
	case errors.As(err, &apiErr):
		return fmt.Sprintf("http_%d", apiErr.StatusCode)
	case errors.Is(err, snapshot.ErrNotFound):
		return "snapshot_not_found"
	case errors.Is(err, errStale):
		return "stale"
	case errors.Is(err, report.ErrAPIKeyRequired):
		return "api_key_required"
	}
	return ""
}
