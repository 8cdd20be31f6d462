package cmab

import "fmt"

// FetchError reports that the prediction request could not be completed:
// a transport failure or a non-2xx status, after the retry budget (if any)
// was exhausted. Fetch errors are transient by nature and retryable.
type FetchError struct {
	RuleID string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("cmab prediction fetch failed for rule %q: %v", e.RuleID, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// InvalidResponseError reports a 2xx response whose body could not be used:
// unparsable JSON or a missing predictions[0].variation_id field. Response
// validity errors are not transient and are never retried.
type InvalidResponseError struct {
	RuleID string
	Reason string
}

func (e *InvalidResponseError) Error() string {
	return fmt.Sprintf("cmab prediction response for rule %q is invalid: %s", e.RuleID, e.Reason)
}
