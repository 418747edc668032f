package signal

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const DefaultSignatureLength = 16

const fieldSep = "|"

// Authenticator signs and verifies signals with HMAC-SHA-256.
//
// The signed message is the canonical form
//
//	symbol|side|size|price|leverage
//
// with strings verbatim and numbers in shortest decimal notation
// (strconv 'f', -1), so 1, 1.0 and 1e0 all read "1". The signature is the
// lowercase hex digest truncated to the configured length. Symbol and side
// must not contain "|": such a signal has no unambiguous canonical form,
// so Parse rejects it and Verify never accepts it.
type Authenticator struct {
	secret []byte
	length int
}

func NewAuthenticator(secret string, length int) (*Authenticator, error) {
	if secret == "" {
		return nil, errors.New("signal secret is empty")
	}
	if length <= 0 {
		length = DefaultSignatureLength
	}
	if length > sha256.Size*2 {
		return nil, errors.New("signature length exceeds 64 hex chars")
	}
	return &Authenticator{secret: []byte(secret), length: length}, nil
}

func Canonical(s Signal) string {
	return strings.Join([]string{
		s.Symbol,
		s.Side,
		formatNumber(s.Size),
		formatNumber(s.Price),
		formatNumber(s.Leverage),
	}, fieldSep)
}

func formatNumber(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func (a *Authenticator) Sign(s Signal) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(Canonical(s)))
	return hex.EncodeToString(mac.Sum(nil))[:a.length]
}

// Verify accepts s iff its declared signature equals the computed one.
func (a *Authenticator) Verify(s Signal) error {
	if s.Signature == "" {
		return ErrMissingSignature
	}
	if strings.Contains(s.Symbol, fieldSep) || strings.Contains(s.Side, fieldSep) {
		return fmt.Errorf("%w: ambiguous canonical form", ErrAuthenticationFailure)
	}
	want := a.Sign(s)
	if subtle.ConstantTimeCompare([]byte(s.Signature), []byte(want)) != 1 {
		return ErrAuthenticationFailure
	}
	return nil
}
