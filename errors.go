package authority

import (
	"errors"
	"fmt"
	"net/url"
)

var (
	ErrInvalidSlug        = errors.New("invalid slug")
	ErrInvalidPermission  = errors.New("permission must have the form entity:action:scope")
	ErrEmptyUserID        = errors.New("user id is required")
	ErrRoleNotFound       = errors.New("role not found")
	ErrPermissionNotFound = errors.New("permission not found")
	ErrEmptyCatalog       = errors.New("catalog declares no permissions and no roles")
)

// StorageError reports a failure of the underlying database during a grant
// mutation, a lookup or a permission resolution.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	// validation errors raised by model hooks are not storage failures
	if errors.Is(err, ErrInvalidSlug) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// ReasonMissingPermission is the only denial reason the gate produces.
const ReasonMissingPermission = "missing_permission"

// ForbiddenError is returned by RequirePermission when the user does not
// hold the required permission. Callers turn it into an access-denied
// response; Location gives the view to send the user to.
type ForbiddenError struct {
	Reason     string
	Permission string

	path string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: %s %q", e.Reason, e.Permission)
}

// Location returns the access-denied URL carrying the reason and the
// denied permission as query parameters.
func (e *ForbiddenError) Location() string {
	path := e.path
	if path == "" {
		path = DefaultForbiddenPath
	}
	return path + "?reason=" + url.QueryEscape(e.Reason) + "&permission=" + url.QueryEscape(e.Permission)
}

// IsForbidden reports whether err is an enforcement denial.
func IsForbidden(err error) bool {
	var fe *ForbiddenError
	return errors.As(err, &fe)
}
