package errors

import (
	stdErrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewUsesRegisteredDefaults(t *testing.T) {
	err := New(CodeInsufficientSignatures, "")
	if err.Message() != "insufficient verified signatures" {
		t.Fatalf("unexpected default message: %q", err.Message())
	}
	if err.Severity() != SeverityWarning {
		t.Fatalf("unexpected severity: %s", err.Severity())
	}
	if !err.ShouldAlert() {
		t.Fatalf("insufficient signatures should alert")
	}
	if err.Retryable() {
		t.Fatalf("insufficient signatures is not retryable")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stdErrors.New("connection refused")
	err := Wrap(CodeStorageFailure, cause, "写入快照失败")

	if !stdErrors.Is(err, cause) {
		t.Fatalf("wrapped cause should be reachable via errors.Is")
	}
	if !strings.Contains(err.Error(), "STORAGE_FAILURE") || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("unexpected rendering: %s", err.Error())
	}
	if CodeOf(err) != CodeStorageFailure {
		t.Fatalf("unexpected code: %s", CodeOf(err))
	}
}

func TestIsMatchesByCode(t *testing.T) {
	a := New(CodeNotFound, "first")
	b := New(CodeNotFound, "second")
	if !stdErrors.Is(a, b) {
		t.Fatalf("errors with the same code should match")
	}
	if stdErrors.Is(a, New(CodeConflict, "")) {
		t.Fatalf("errors with different codes must not match")
	}
}

func TestFromUnwrapsNestedErrors(t *testing.T) {
	inner := New(CodeDecisionFailure, "bad target")
	outer := fmt.Errorf("step failed: %w", inner)

	extracted, ok := From(outer)
	if !ok {
		t.Fatalf("expected to extract the typed error")
	}
	if extracted.Code() != CodeDecisionFailure {
		t.Fatalf("unexpected code: %s", extracted.Code())
	}

	if _, ok := From(stdErrors.New("plain")); ok {
		t.Fatalf("plain errors must not convert")
	}
	if CodeOf(stdErrors.New("plain")) != CodeUnknown {
		t.Fatalf("plain errors should report UNKNOWN")
	}
}

func TestOptionsOverrideDefaults(t *testing.T) {
	err := New(CodeTimeout, "slow backend",
		WithRetryable(false),
		WithAlert(false),
		WithSeverity(SeverityInfo),
		WithMetadata("backend", "mysql"),
	)

	if err.Retryable() {
		t.Fatalf("retryable override not applied")
	}
	if err.ShouldAlert() {
		t.Fatalf("alert override not applied")
	}
	if err.Severity() != SeverityInfo {
		t.Fatalf("severity override not applied: %s", err.Severity())
	}
	if err.Metadata()["backend"] != "mysql" {
		t.Fatalf("metadata missing: %v", err.Metadata())
	}

	// The returned metadata map must be a copy.
	err.Metadata()["backend"] = "tampered"
	if err.Metadata()["backend"] != "mysql" {
		t.Fatalf("metadata leaked a mutable reference")
	}
}

func TestRegisterCustomCode(t *testing.T) {
	const code Code = "TEST_CUSTOM"
	Register(code, Attributes{Message: "custom failure", Severity: SeverityCritical, Retryable: true, Alert: true})

	attr := AttributesOf(code)
	if attr.Message != "custom failure" || !attr.Retryable {
		t.Fatalf("unexpected attributes: %+v", attr)
	}
	if AttributesOf("NEVER_REGISTERED") != AttributesOf(CodeUnknown) {
		t.Fatalf("unregistered codes should fall back to UNKNOWN attributes")
	}
}

func TestHelpersOnNil(t *testing.T) {
	var err *Error
	if err.Error() != "" || err.Code() != CodeUnknown || err.Retryable() {
		t.Fatalf("nil receiver helpers misbehave")
	}
	if RetryableError(nil) || ShouldAlert(nil) {
		t.Fatalf("nil error helpers misbehave")
	}
}
