package edgar

import (
	"errors"
	"fmt"
)

// ErrNotFound marks a 404 from EDGAR. Callers fall back to another
// source instead of retrying.
var ErrNotFound = errors.New("not found")

// TransientError is a failure worth retrying: a timeout, a network
// error, HTTP 429, or a 5xx. The client retries these with backoff;
// once retries are exhausted the error still carries this type so the
// pipeline can bucket it.
type TransientError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient: %s returned %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("transient: %s: %v", e.URL, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// LookupError reports that a SIC code resolved to no registrants.
type LookupError struct {
	SICCode int
	Reason  string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("sic %d: %s", e.SICCode, e.Reason)
}

// IsTransient reports whether err is, or wraps, a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
