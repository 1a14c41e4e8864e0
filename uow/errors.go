package uow

import (
	"fmt"

	"github.com/goliatone/go-errors"

	"github.com/goliatone/go-facetcache/internal/errcode"
)

const (
	TextCodeDone     = errcode.Done
	TextCodeResolved = errcode.Resolved
	TextCodeConflict = errcode.Conflict
)

var (
	// ErrDone is reported when a finished unit of work is used again.
	ErrDone = errors.New("unit of work is done", errors.CategoryOperation).WithTextCode(TextCodeDone)
	// ErrResolved fails asynchronous handles outstanding when their unit of
	// work commits or aborts.
	ErrResolved = errors.New("unit of work already resolved", errors.CategoryOperation).WithTextCode(TextCodeResolved)
	// ErrConflict is the reason of a commit refused because a descendant did
	// not commit.
	ErrConflict = errors.New("unit of work has unresolved descendants", errors.CategoryConflict).WithTextCode(TextCodeConflict)
)

func doneError(u *UnitOfWork, op string) error {
	return errors.New(
		fmt.Sprintf("%s on unit of work %s: already %s", op, u.id, u.stateLocked()),
		errors.CategoryOperation,
	).WithTextCode(TextCodeDone)
}

func resolvedError(u *UnitOfWork) error {
	return errors.New(
		fmt.Sprintf("unit of work %s resolved before the operation completed", u.id),
		errors.CategoryOperation,
	).WithTextCode(TextCodeResolved)
}

func conflictError(u, offender *UnitOfWork) error {
	return errors.New(
		fmt.Sprintf("unit of work %s cannot commit: descendant %s is %s", u.id, offender.id, offender.stateLocked()),
		errors.CategoryConflict,
	).WithTextCode(TextCodeConflict)
}

func unaddressableError(schema string) error {
	return errors.New(
		fmt.Sprintf("%s entity has no bound identity group", schema),
		errors.CategoryBadInput,
	).WithTextCode(errcode.InvalidSchema)
}

// IsDone reports whether err reports use of a finished unit of work.
func IsDone(err error) bool {
	return errcode.Has(err, TextCodeDone)
}

// IsResolved reports whether err is the failure of a force-resolved handle.
func IsResolved(err error) bool {
	return errcode.Has(err, TextCodeResolved)
}

// IsConflict reports whether err is a refused commit.
func IsConflict(err error) bool {
	return errcode.Has(err, TextCodeConflict)
}
