package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewAndErrorFormatting(t *testing.T) {
	err := New(KindTransport, "ws.accept", "upgrade rejected")
	msg := err.Error()
	if !strings.Contains(msg, "transport") || !strings.Contains(msg, "ws.accept") {
		t.Fatalf("unexpected message: %s", msg)
	}
}

func TestWrapPreservesTypedErrors(t *testing.T) {
	inner := New(KindProvider, "asr.flush", "call failed")
	wrapped := Wrap(KindDomain, "session.handle", "flush", fmt.Errorf("outer: %w", inner))
	if wrapped.Kind != KindProvider {
		t.Fatalf("expected inner typed error to win, got kind %s", wrapped.Kind)
	}
}

func TestWrapNil(t *testing.T) {
	if got := Wrap(KindStorage, "store.save", "save", nil); got != nil {
		t.Fatalf("wrapping nil should return nil, got %v", got)
	}
}

func TestIsKind(t *testing.T) {
	base := New(KindAuth, "auth.verify", "denied")
	chained := fmt.Errorf("request failed: %w", base)
	if !IsKind(chained, KindAuth) {
		t.Fatalf("expected auth kind in chain")
	}
	if IsKind(chained, KindStorage) {
		t.Fatalf("unexpected storage kind in chain")
	}
	if IsKind(errors.New("plain"), KindAuth) {
		t.Fatalf("plain errors carry no kind")
	}
}
