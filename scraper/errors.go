package scraper

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aluiziolira/reviewdash/remote"
)

// ErrJobOutstanding rejects a submission while another job is in progress.
var ErrJobOutstanding = errors.New("scraper: a scrape job is already in progress")

// RequestError reports a non-success HTTP response from the backend.
type RequestError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("%s: backend returned status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: backend returned status %d: %s", e.Op, e.StatusCode, body)
}

// Unwrap exposes the status classification so remote.Label can name it.
func (e *RequestError) Unwrap() error {
	return remote.Classify(nil, e.StatusCode)
}

// UnknownStatusError reports a status string the backend should not send.
type UnknownStatusError struct {
	Raw string
}

func (e *UnknownStatusError) Error() string {
	return fmt.Sprintf("scraper: unknown job status %q", e.Raw)
}

// errorTypeLabel extends remote.Label with the backend-specific errors.
func errorTypeLabel(err error) string {
	var unknown *UnknownStatusError
	if errors.As(err, &unknown) {
		return "unknown_status"
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		if label := remote.Label(err); label != "other" {
			return label
		}
		return "request"
	}
	return remote.Label(err)
}
