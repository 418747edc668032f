// Package signal recognizes, extracts, parses and authenticates trade
// signals posted by the leader account.
package signal

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSignal means the text carries no signal fragment.
	ErrNoSignal = errors.New("no signal present")
	// ErrMalformedPayload means a fragment was found but is not a valid signal object.
	ErrMalformedPayload = errors.New("malformed signal payload")
	// ErrAuthenticationFailure means the signature is missing or does not match.
	ErrAuthenticationFailure = errors.New("signal authentication failed")
	// ErrMissingSignature is the ErrAuthenticationFailure case of an empty signature.
	ErrMissingSignature = fmt.Errorf("%w: missing signature", ErrAuthenticationFailure)
)

// Signal is one trade instruction. ID is assigned at broadcast time and is
// shared by every subscriber's inbox copy.
type Signal struct {
	ID        string  `json:"id,omitempty"`
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	Size      float64 `json:"size"`
	Price     float64 `json:"price"`
	Leverage  float64 `json:"leverage"`
	Signature string  `json:"signature,omitempty"`
}

// Source identifies who posted a message.
type Source struct {
	UserID   int64
	Username string
}
