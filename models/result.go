package models

import "time"

// ErrorKind is the coarse failure taxonomy surfaced per URL.
type ErrorKind string

const (
	KindTimeout         ErrorKind = "timeout"
	KindNetworkError    ErrorKind = "network_error"
	KindBlocked         ErrorKind = "blocked"
	KindNavigationError ErrorKind = "navigation_error"
	KindMalformedInput  ErrorKind = "malformed_input"
	KindInvalidRecord   ErrorKind = "invalid_record"
)

// Retryable reports whether a fetch failing with k may be attempted again.
func (k ErrorKind) Retryable() bool {
	return k == KindTimeout || k == KindNetworkError
}

// PageState tracks a URL through the coordinator.
type PageState string

const (
	StatePending  PageState = "pending"
	StateFetching PageState = "fetching"
	StateRetrying PageState = "retrying"
	StateParsing  PageState = "parsing"
	StateDone     PageState = "done"
	StateFailed   PageState = "failed"
)

// PageResult is the outcome of one URL after retries are exhausted.
type PageResult struct {
	SourceURL string    `json:"source_url"`
	Success   bool      `json:"success"`
	Records   []Product `json:"records,omitempty"`
	Error     ErrorKind `json:"error,omitempty"`
	Message   string    `json:"message,omitempty"`
	Attempts  int       `json:"attempts"`
}

// URLError pairs a failed URL with its terminal error kind.
type URLError struct {
	URL     string    `json:"url"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message,omitempty"`
}

// BatchResult holds the overall result of a coordinator run.
type BatchResult struct {
	RunID          string            `json:"run_id"`
	TotalURLs      int               `json:"total_urls"`
	SucceededURLs  int               `json:"succeeded_urls"`
	FailedURLs     int               `json:"failed_urls"`
	Records        []Product         `json:"records"`
	Errors         []URLError        `json:"errors"`
	Pages          []PageResult      `json:"-"`
	Canceled       bool              `json:"canceled"`
	StartTime      time.Time         `json:"start_time"`
	EndTime        time.Time         `json:"end_time"`
	RetryCount     int               `json:"retry_count"`
	RequestCount   int               `json:"request_count"`
	DuplicateCount int               `json:"duplicate_count"`
	ErrorsByKind   map[ErrorKind]int `json:"errors_by_kind,omitempty"`
}
