package shared

import (
	"errors"
	"fmt"

	"github.com/bevflow/bevflow/internal/platform/httpx"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrSessionUnavailable wraps session store failures. Guards answer with
	// the loading state while it persists.
	ErrSessionUnavailable = fmt.Errorf("session store: %w", httpx.ErrUnavailable)
	// ErrSessionCorrupt flags a stored payload that cannot be decoded.
	ErrSessionCorrupt = errors.New("session payload corrupt")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)
