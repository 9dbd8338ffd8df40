package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	t.Parallel()

	err := New(CodeLockHeld, "lock already held")
	target := New(CodeLockHeld, "different message")
	if !stderrors.Is(err, target) {
		t.Fatal("expected errors with matching codes to match")
	}

	other := New(CodeNotYourLock, "lock already held")
	if stderrors.Is(err, other) {
		t.Fatal("expected errors with different codes not to match")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	t.Parallel()

	cause := stderrors.New("row missing")
	err := Wrap(CodeNotFound, "load lock", cause)
	if !stderrors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be reachable")
	}
}

func TestCodeOfUnwrapsChain(t *testing.T) {
	t.Parallel()

	inner := New(CodeRateLimited, "too soon")
	wrapped := fmt.Errorf("acquire: %w", inner)
	if got := CodeOf(wrapped); got != CodeRateLimited {
		t.Fatalf("expected CodeRateLimited, got %s", got)
	}
	if got := CodeOf(stderrors.New("plain")); got != CodeUnknown {
		t.Fatalf("expected CodeUnknown for plain error, got %s", got)
	}
}

func TestGRPCCodeMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		code Code
		want codes.Code
	}{
		{CodeEmptyContent, codes.InvalidArgument},
		{CodeContentTooLong, codes.InvalidArgument},
		{CodePhaseMismatch, codes.FailedPrecondition},
		{CodeTimeGateExpired, codes.FailedPrecondition},
		{CodeLockNotHeld, codes.FailedPrecondition},
		{CodeNotAssigned, codes.PermissionDenied},
		{CodeNotYourLock, codes.PermissionDenied},
		{CodeRateLimited, codes.ResourceExhausted},
		{CodeLockHeld, codes.AlreadyExists},
		{CodeSceneNotFound, codes.NotFound},
		{Code("BOGUS"), codes.Unknown},
	}
	for _, tc := range cases {
		if got := tc.code.GRPCCode(); got != tc.want {
			t.Errorf("code %s: expected %s, got %s", tc.code, tc.want, got)
		}
	}
}

func TestToGRPCStatusCarriesErrorInfo(t *testing.T) {
	t.Parallel()

	err := WithMetadata(CodeLockHeld, "lock already held", map[string]string{
		"scene_id": "scene-1",
	})
	st, ok := status.FromError(err.ToGRPCStatus())
	if !ok {
		t.Fatal("expected a grpc status error")
	}
	if st.Code() != codes.AlreadyExists {
		t.Fatalf("expected AlreadyExists, got %s", st.Code())
	}
	if st.Message() != "lock already held" {
		t.Fatalf("unexpected status message %q", st.Message())
	}
	if len(st.Details()) != 1 {
		t.Fatalf("expected one detail, got %d", len(st.Details()))
	}
}
