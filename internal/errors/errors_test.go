package errors

import (
	stdErrors "errors"
	"strings"
	"testing"
)

func TestNewUsesRegisteredDefaults(t *testing.T) {
	err := New(CodeIdentifierExtraction, "")
	if err.Message() != "payment identifier not found in transaction logs" {
		t.Fatalf("unexpected default message: %s", err.Message())
	}
	if err.Severity() != SeverityCritical || !err.ShouldAlert() || err.Retryable() {
		t.Fatalf("unexpected attributes: %s %v %v", err.Severity(), err.ShouldAlert(), err.Retryable())
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stdErrors.New("connection refused")
	err := Wrap(CodeConfirmationFailed, cause, "等待交易确认失败")

	if !stdErrors.Is(err, cause) {
		t.Fatal("wrapped cause must be reachable via errors.Is")
	}
	if CodeOf(err) != CodeConfirmationFailed {
		t.Fatalf("unexpected code: %s", CodeOf(err))
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("cause must appear in message: %s", err.Error())
	}
}

func TestCodeOfForeignError(t *testing.T) {
	if CodeOf(stdErrors.New("plain")) != CodeUnknown {
		t.Fatal("foreign errors must map to UNKNOWN")
	}
	if CodeOf(nil) != CodeUnknown {
		t.Fatal("nil must map to UNKNOWN")
	}
}

func TestOptionOverrides(t *testing.T) {
	err := New(CodeWalletRejected, "rejected",
		WithRetryable(false),
		WithAlert(true),
		WithSeverity(SeverityCritical),
		WithMetadata("chain", "16602"),
	)
	if err.Retryable() {
		t.Fatal("retryable override must win")
	}
	if !err.ShouldAlert() || err.Severity() != SeverityCritical {
		t.Fatalf("unexpected overrides: %v %s", err.ShouldAlert(), err.Severity())
	}
	if err.Metadata()["chain"] != "16602" {
		t.Fatalf("unexpected metadata: %v", err.Metadata())
	}
}

func TestIsMatchesByCode(t *testing.T) {
	a := New(CodeRunInFlight, "busy")
	b := New(CodeRunInFlight, "other message")
	if !stdErrors.Is(a, b) {
		t.Fatal("errors with the same code must match")
	}
	if stdErrors.Is(a, New(CodeConflict, "conflict")) {
		t.Fatal("different codes must not match")
	}
}

func TestDisplayMessageTruncates(t *testing.T) {
	cause := stdErrors.New(strings.Repeat("x", 500) + "\nsecond line")
	err := Wrap(CodeWalletRejected, cause, "交易提交失败")

	msg := DisplayMessage(err, 160)
	if len(msg) > 160 {
		t.Fatalf("message too long: %d", len(msg))
	}
	if strings.Contains(msg, "\n") {
		t.Fatal("display message must be a single line")
	}
	if !strings.HasSuffix(msg, "...") {
		t.Fatalf("expected truncation marker: %s", msg)
	}
}

func TestDisplayMessagePlainError(t *testing.T) {
	msg := DisplayMessage(stdErrors.New("first\nsecond"), 160)
	if msg != "first" {
		t.Fatalf("unexpected message: %s", msg)
	}
	if DisplayMessage(nil, 10) != "" {
		t.Fatal("nil error must yield empty message")
	}
}
