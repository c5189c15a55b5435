package model

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a monitor run could not complete normally.
type FailureKind string

const (
	FailureConfigMissing     FailureKind = "config_missing"
	FailureNetwork           FailureKind = "network"
	FailureRemoteRejected    FailureKind = "remote_rejected"
	FailureUpstreamError     FailureKind = "upstream_error"
	FailureMalformedResponse FailureKind = "malformed_response"
	FailureDeliveryFailed    FailureKind = "delivery_failed"
	FailureCanceled          FailureKind = "canceled"
)

// Failure is the typed error returned by every component of a monitor run.
// Detail carries the status code, upstream message, or missing field path.
type Failure struct {
	Kind       FailureKind `json:"kind"`
	Detail     string      `json:"detail"`
	StatusCode int         `json:"status_code,omitempty"`
	Err        error       `json:"-"`
}

func (f *Failure) Error() string {
	if f.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d)", f.Kind, f.Detail, f.StatusCode)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Detail)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// NewFailure builds a Failure of the given kind.
func NewFailure(kind FailureKind, detail string, err error) *Failure {
	return &Failure{Kind: kind, Detail: detail, Err: err}
}

// StatusFailure builds a Failure that carries an HTTP status code.
func StatusFailure(kind FailureKind, statusCode int, detail string) *Failure {
	return &Failure{Kind: kind, Detail: detail, StatusCode: statusCode}
}

// AsFailure extracts a *Failure from anywhere in err's chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// KindOf returns the FailureKind carried by err, or "" if err is nil or untyped.
func KindOf(err error) FailureKind {
	if f, ok := AsFailure(err); ok {
		return f.Kind
	}
	return ""
}

// IsKind reports whether err carries one of the given kinds.
func IsKind(err error, kinds ...FailureKind) bool {
	k := KindOf(err)
	if k == "" {
		return false
	}
	for _, want := range kinds {
		if k == want {
			return true
		}
	}
	return false
}
