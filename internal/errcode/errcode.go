// Package errcode holds the text codes shared by the facetcache packages and
// the helper used to match them on wrapped errors.
package errcode

import "github.com/goliatone/go-errors"

const (
	NotFound        = "NOT_FOUND"
	Transport       = "TRANSPORT"
	BatchNotApplied = "BATCH_NOT_APPLIED"
	BatchTooLarge   = "BATCH_TOO_LARGE"
	Conflict        = "UOW_CONFLICT"
	Done            = "UOW_DONE"
	Resolved        = "UOW_RESOLVED"
	Codec           = "CODEC"
	InvalidSchema   = "INVALID_SCHEMA"
)

// Has reports whether any *errors.Error in the chain of err carries code.
func Has(err error, code string) bool {
	for err != nil {
		var e *errors.Error
		if !errors.As(err, &e) {
			return false
		}
		if e.TextCode == code {
			return true
		}
		err = errors.Unwrap(e)
	}
	return false
}
