package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestWrapKeepsCodeAndCause(t *testing.T) {
	t.Parallel()

	cause := stdErrors.New("connection refused")
	err := Wrap(CodeStorageFailure, cause, "insert wallet")

	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable")
	}
	if !stdErrors.Is(fmt.Errorf("outer: %w", err), New(CodeStorageFailure, "")) {
		t.Fatalf("expected code match through wrapping")
	}
	if got := CodeOf(err); got != CodeStorageFailure {
		t.Fatalf("unexpected code %s", got)
	}
	if !RetryableError(err) {
		t.Fatalf("storage failures are retryable")
	}
	if got := ClassOf(err); got != ClassTransient {
		t.Fatalf("unexpected class %s", got)
	}
}

func TestRegisterAndMetadata(t *testing.T) {
	t.Parallel()

	const code Code = "TEST_REGISTERED"
	Register(code, Attributes{Message: "registered", Severity: SeverityWarning, Class: ClassAmbiguous, Alert: true})

	err := New(code, "", WithMetadata("tx_id", "0.0.2@1700000000.000000001"))
	if err.Message() != "registered" {
		t.Fatalf("default message not applied: %q", err.Message())
	}
	if !ShouldAlert(err) || ClassOf(err) != ClassAmbiguous {
		t.Fatalf("registered attributes not applied")
	}
	if v, ok := MetadataValue(fmt.Errorf("ctx: %w", err), "tx_id"); !ok || v != "0.0.2@1700000000.000000001" {
		t.Fatalf("metadata lookup failed: %q %v", v, ok)
	}
}

func TestUnknownErrorsAreFatal(t *testing.T) {
	t.Parallel()

	err := stdErrors.New("plain")
	if CodeOf(err) != CodeUnknown || ClassOf(err) != ClassFatal {
		t.Fatalf("plain errors must classify as unknown/fatal")
	}
}

func TestSeverityAndMetadataCopy(t *testing.T) {
	t.Parallel()

	err := New(CodeTimeout, "receipt wait", WithMetadata("tx_id", "a"))
	if SeverityOf(err) != SeverityWarning {
		t.Fatalf("unexpected severity %s", SeverityOf(err))
	}
	if SeverityOf(stdErrors.New("plain")) != SeverityCritical {
		t.Fatalf("plain errors take the unknown severity")
	}

	md := err.Metadata()
	md["tx_id"] = "b"
	if v, _ := MetadataValue(err, "tx_id"); v != "a" {
		t.Fatalf("metadata must be returned as a copy, got %q", v)
	}
	if New(CodeNotFound, "").Metadata() != nil {
		t.Fatalf("expected nil metadata")
	}
}
