package agent

import (
	"errors"
	"fmt"
)

var (
	ErrClosed           = errors.New("agent: closed")
	ErrAlreadyInstalled = errors.New("agent: install already attempted")
	ErrNotInstalled     = errors.New("agent: activate requires a completed install")
	ErrUnknownMessage   = errors.New("agent: unknown message")
	ErrActivationFailed = errors.New("agent: activation failed, caches reset")
	ErrInvalidOrigin    = errors.New("agent: origin must be an http(s) scheme://host[:port] without a path")
)

// InstallError reports the core shell resource that made install fail.
// Status is set when the network answered with anything but a complete 2xx
// response; Err is
// set for network failures and storage errors.
type InstallError struct {
	Key    string
	Status int
	Err    error
}

func (e *InstallError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("install: %v", e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("install %q: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("install %q: unexpected status %d", e.Key, e.Status)
}

func (e *InstallError) Unwrap() error { return e.Err }

// ActivationError wraps the failure that triggered the cache reset.
// errors.Is(err, ErrActivationFailed) holds for every ActivationError.
type ActivationError struct {
	Err error
}

func (e *ActivationError) Error() string {
	return fmt.Sprintf("%v: %v", ErrActivationFailed, e.Err)
}

func (e *ActivationError) Unwrap() []error { return []error{ErrActivationFailed, e.Err} }

// FetchError reports a non-2xx or partial answer during the offline prefetch.
type FetchError struct {
	Key    string
	Status int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %q: unexpected status %d", e.Key, e.Status)
}
