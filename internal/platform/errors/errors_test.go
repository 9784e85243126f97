package errors

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := New(CodeNodeNotOpenable, "node n1 is not openable")
	wrapped := fmt.Errorf("open node: %w", err)

	if !stderrors.Is(wrapped, &Error{Code: CodeNodeNotOpenable}) {
		t.Fatal("expected wrapped error to match by code")
	}
	if stderrors.Is(wrapped, &Error{Code: CodeNodeNotReady}) {
		t.Fatal("expected different code not to match")
	}
}

func TestHasCodeSearchesJoinedErrors(t *testing.T) {
	joined := stderrors.Join(
		New(CodeOutOfRange, "success chance out of range"),
		New(CodeDuplicateID, "duplicate id"),
	)
	if !HasCode(joined, CodeDuplicateID) {
		t.Fatal("expected joined error to contain duplicate id code")
	}
	if HasCode(joined, CodeInvalidColor) {
		t.Fatal("did not expect invalid color code")
	}
}

func TestCodeOfAndCategory(t *testing.T) {
	tests := []struct {
		err  error
		code Code
		cat  Category
	}{
		{New(CodeDuplicateLocalKey, "dup"), CodeDuplicateLocalKey, CategoryValidation},
		{fmt.Errorf("x: %w", New(CodeActionNotFound, "missing")), CodeActionNotFound, CategoryPrecondition},
		{Wrap(CodeOutdatedContext, "stale", stderrors.New("cause")), CodeOutdatedContext, CategoryOutdated},
		{New(CodeNotFound, "nf"), CodeNotFound, CategoryNotFound},
		{stderrors.New("plain"), CodeUnknown, CategoryInternal},
	}
	for _, tt := range tests {
		if got := CodeOf(tt.err); got != tt.code {
			t.Fatalf("CodeOf(%v) = %q, want %q", tt.err, got, tt.code)
		}
		if !IsCategory(tt.err, tt.cat) {
			t.Fatalf("expected %v to be in category %q", tt.err, tt.cat)
		}
	}
}

func TestWrapUnwrapsCause(t *testing.T) {
	cause := stderrors.New("boom")
	err := Wrap(CodeUnknown, "wrapped", cause)
	if !stderrors.Is(err, cause) {
		t.Fatal("expected cause in chain")
	}
}

func TestIsOutdatedFollowsWrapping(t *testing.T) {
	err := fmt.Errorf("script: %w", New(CodeOutdatedContext, "instance changed"))
	if !IsOutdated(err) {
		t.Fatal("expected wrapped outdated context to be detected")
	}
	if IsOutdated(New(CodeNotFound, "nf")) {
		t.Fatal("did not expect not found to be outdated")
	}
}

func TestAttrRendersCodeAndMetadata(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	err := fmt.Errorf("run effect: %w", WithMetadata(CodeNodeNotFound, "node x not found",
		map[string]string{"node_id": "x", "force_id": "blue"}))

	logger.Info("failed", Attr(err))

	got := buf.String()
	for _, want := range []string{
		`error.message="run effect: node x not found"`,
		"error.code=NODE_NOT_FOUND",
		"error.force_id=blue error.node_id=x",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("log = %q, want %q", got, want)
		}
	}
}

func TestAttrPlainError(t *testing.T) {
	attr := Attr(stderrors.New("plain"))
	if attr.Key != "error" || attr.Value.String() != "plain" {
		t.Fatalf("attr = %v, want error=plain", attr)
	}
	if got := Attr(nil); !got.Equal(slog.Attr{}) {
		t.Fatalf("Attr(nil) = %v, want empty", got)
	}
}
