package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestConfigError(t *testing.T) {
	err := NewConfigError("REDIS_URL", "cannot be empty")
	if !IsConfig(err) {
		t.Error("expected IsConfig to be true")
	}
	if IsConfig(stderrors.New("plain")) {
		t.Error("expected IsConfig to be false for plain error")
	}

	wrapped := fmt.Errorf("loading config: %w", err)
	if !IsConfig(wrapped) {
		t.Error("expected IsConfig to see through wrapping")
	}
}

func TestStartupError(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := &StartupError{Attempts: 5, Err: cause}

	if !IsStartup(err) {
		t.Error("expected IsStartup to be true")
	}
	if !stderrors.Is(err, cause) {
		t.Error("expected Unwrap to expose the cause")
	}
}

func TestTerminal(t *testing.T) {
	if Terminal(nil) != nil {
		t.Error("Terminal(nil) should be nil")
	}

	err := Terminalf("series %s not found", "abc")
	if !IsTerminal(err) {
		t.Error("expected IsTerminal to be true")
	}

	wrapped := fmt.Errorf("handling job: %w", err)
	if !IsTerminal(wrapped) {
		t.Error("expected IsTerminal to see through wrapping")
	}

	if IsTerminal(stderrors.New("transient")) {
		t.Error("plain errors must not be terminal")
	}
}

func TestRecoverPanic(t *testing.T) {
	var recovered error
	func() {
		defer func() {
			recovered = RecoverPanic()
		}()
		panic("boom")
	}()

	if recovered == nil {
		t.Fatal("expected an error from RecoverPanic")
	}

	var pe *PanicError
	if !stderrors.As(recovered, &pe) {
		t.Fatal("expected a PanicError")
	}
	if pe.Value != "boom" {
		t.Errorf("expected panic value 'boom', got %v", pe.Value)
	}
	if pe.Stacktrace == "" {
		t.Error("expected a stack trace")
	}
}

func TestRecoverPanic_NoPanic(t *testing.T) {
	var recovered error
	func() {
		defer func() {
			recovered = RecoverPanic()
		}()
	}()

	if recovered != nil {
		t.Errorf("expected nil, got %v", recovered)
	}
}
