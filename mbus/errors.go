// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package mbus

import (
	"errors"
	"fmt"
)

// ErrorKind classifies protocol and decoding failures.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindTimeout
	KindCollision
	KindChecksumMismatch
	KindMalformedHeader
	KindTransport
	KindUnknownState
	KindTruncated
	KindFieldOverflow
	KindUnsupportedDatatype
	KindUnexpectedControl
	KindUnexpectedCI
	KindApplicationError
	KindEncryptionSuspected
	KindOverrun
	KindNoMatch
	KindAmbiguousMatch
)

var kindNames = map[ErrorKind]string{
	KindUnknown:             "unknown",
	KindTimeout:             "timeout",
	KindCollision:           "collision",
	KindChecksumMismatch:    "checksum mismatch",
	KindMalformedHeader:     "malformed header",
	KindTransport:           "transport",
	KindUnknownState:        "unknown state",
	KindTruncated:           "truncated",
	KindFieldOverflow:       "field overflow",
	KindUnsupportedDatatype: "unsupported datatype",
	KindUnexpectedControl:   "unexpected control field",
	KindUnexpectedCI:        "unexpected control information field",
	KindApplicationError:    "application error",
	KindEncryptionSuspected: "encryption suspected",
	KindOverrun:             "overrun",
	KindNoMatch:             "no matching data record",
	KindAmbiguousMatch:      "multiple matching data records",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a classified M-Bus failure.
type Error struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := "mbus: " + e.Kind.String()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the sentinels below work with
// errors.Is regardless of detail.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrTimeout             = &Error{Kind: KindTimeout}
	ErrCollision           = &Error{Kind: KindCollision}
	ErrChecksumMismatch    = &Error{Kind: KindChecksumMismatch}
	ErrMalformedHeader     = &Error{Kind: KindMalformedHeader}
	ErrTransport           = &Error{Kind: KindTransport}
	ErrUnknownState        = &Error{Kind: KindUnknownState}
	ErrTruncated           = &Error{Kind: KindTruncated}
	ErrFieldOverflow       = &Error{Kind: KindFieldOverflow}
	ErrUnsupportedDatatype = &Error{Kind: KindUnsupportedDatatype}
	ErrUnexpectedControl   = &Error{Kind: KindUnexpectedControl}
	ErrUnexpectedCI        = &Error{Kind: KindUnexpectedCI}
	ErrApplicationError    = &Error{Kind: KindApplicationError}
	ErrEncryptionSuspected = &Error{Kind: KindEncryptionSuspected}
	ErrOverrun             = &Error{Kind: KindOverrun}
	ErrNoMatch             = &Error{Kind: KindNoMatch}
	ErrAmbiguousMatch      = &Error{Kind: KindAmbiguousMatch}
)

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
