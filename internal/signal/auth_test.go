package signal

import (
	"errors"
	"strings"
	"testing"
)

func btcSignal() Signal {
	return Signal{Symbol: "BTCUSD", Side: "buy", Size: 1, Price: 50000, Leverage: 10}
}

func TestCanonical(t *testing.T) {
	t.Parallel()
	if got := Canonical(btcSignal()); got != "BTCUSD|buy|1|50000|10" {
		t.Fatalf("Canonical() = %q", got)
	}
	s := Signal{Symbol: "ETHUSD", Side: "sell", Size: 0.25, Price: 3120.5, Leverage: 3}
	if got := Canonical(s); got != "ETHUSD|sell|0.25|3120.5|3" {
		t.Fatalf("Canonical() = %q", got)
	}
}

func TestSignKnownVector(t *testing.T) {
	t.Parallel()
	a, err := NewAuthenticator("k", 16)
	if err != nil {
		t.Fatal(err)
	}
	if got := a.Sign(btcSignal()); got != "79ab97520e025b90" {
		t.Fatalf("Sign() = %q", got)
	}

	full, _ := NewAuthenticator("k", 64)
	if got := full.Sign(btcSignal()); got != "79ab97520e025b90c8b9e251e373a9be72191de6e7e2152d146bb78a3b154ae9" {
		t.Fatalf("full Sign() = %q", got)
	}
}

func TestVerify(t *testing.T) {
	t.Parallel()
	a, _ := NewAuthenticator("k", 16)

	good := btcSignal()
	good.Signature = "79ab97520e025b90"
	if err := a.Verify(good); err != nil {
		t.Fatalf("valid signal rejected: %v", err)
	}

	tampered := good
	tampered.Price = 50001
	if err := a.Verify(tampered); !errors.Is(err, ErrAuthenticationFailure) {
		t.Fatalf("tampered price accepted: %v", err)
	}

	forged := btcSignal()
	forged.Signature = strings.Repeat("0", 16)
	if err := a.Verify(forged); !errors.Is(err, ErrAuthenticationFailure) {
		t.Fatalf("all-zero signature accepted: %v", err)
	}

	unsigned := btcSignal()
	if err := a.Verify(unsigned); !errors.Is(err, ErrAuthenticationFailure) || !errors.Is(err, ErrMissingSignature) {
		t.Fatalf("missing signature err = %v", err)
	}

	other, _ := NewAuthenticator("not-k", 16)
	if err := other.Verify(good); !errors.Is(err, ErrAuthenticationFailure) {
		t.Fatalf("wrong secret accepted: %v", err)
	}
}

func TestVerifyFlipsOnAnyFieldChange(t *testing.T) {
	t.Parallel()
	a, _ := NewAuthenticator("k", 16)
	base := btcSignal()
	base.Signature = a.Sign(base)

	mutations := map[string]func(*Signal){
		"symbol":   func(s *Signal) { s.Symbol = "ETHUSD" },
		"side":     func(s *Signal) { s.Side = "sell" },
		"size":     func(s *Signal) { s.Size = 2 },
		"price":    func(s *Signal) { s.Price = 49999.5 },
		"leverage": func(s *Signal) { s.Leverage = 20 },
	}
	for field, mutate := range mutations {
		s := base
		mutate(&s)
		if err := a.Verify(s); err == nil {
			t.Fatalf("changing %s kept the signature valid", field)
		}
	}
}

func TestNewAuthenticatorRejectsBadConfig(t *testing.T) {
	t.Parallel()
	if _, err := NewAuthenticator("", 16); err == nil {
		t.Fatal("empty secret accepted")
	}
	if _, err := NewAuthenticator("k", 65); err == nil {
		t.Fatal("length > 64 accepted")
	}
	if a, err := NewAuthenticator("k", 0); err != nil || len(a.Sign(btcSignal())) != DefaultSignatureLength {
		t.Fatalf("default length not applied: %v", err)
	}
}

func TestVerifyRejectsSeparatorInFields(t *testing.T) {
	t.Parallel()
	a, _ := NewAuthenticator("k", 16)

	signed := Signal{Symbol: "A", Side: "B|C", Size: 1, Price: 1, Leverage: 1}
	shifted := Signal{Symbol: "A|B", Side: "C", Size: 1, Price: 1, Leverage: 1}
	if Canonical(signed) != Canonical(shifted) {
		t.Fatal("expected colliding canonical forms")
	}
	shifted.Signature = a.Sign(signed)
	if err := a.Verify(shifted); !errors.Is(err, ErrAuthenticationFailure) {
		t.Fatalf("shifted separator accepted: %v", err)
	}
	signed.Signature = shifted.Signature
	if err := a.Verify(signed); !errors.Is(err, ErrAuthenticationFailure) {
		t.Fatalf("separator in side accepted: %v", err)
	}
}
