package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies sync failures.
type ErrorKind string

const (
	ErrorKindNetworkDown ErrorKind = "NetworkDown"
	ErrorKindRateLimited ErrorKind = "RateLimited"
	ErrorKindRemote      ErrorKind = "Remote"
	ErrorKindDecode      ErrorKind = "Decode"
	ErrorKindInternal    ErrorKind = "Internal"
)

var (
	ErrNetworkDown     = errors.New("network down")
	ErrAccountNotFound = errors.New("account not found")
	ErrNoBridge        = errors.New("no bridge for currency family")
)

// SyncError attaches a kind to an underlying failure.
type SyncError struct {
	Kind ErrorKind
	Err  error
}

func NewSyncError(kind ErrorKind, err error) *SyncError {
	return &SyncError{Kind: kind, Err: err}
}

func (e *SyncError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err. Unclassified errors are Internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, ErrNetworkDown) {
		return ErrorKindNetworkDown
	}
	return ErrorKindInternal
}

// IsNetworkDown reports whether err means the remote was unreachable.
func IsNetworkDown(err error) bool {
	return KindOf(err) == ErrorKindNetworkDown
}
