package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("execution reverted")
	err := Wrap(CodeSlippageExceeded, "add liquidity", cause)
	if !stderrors.Is(err, cause) {
		t.Fatal("expected wrapped cause to satisfy errors.Is")
	}
	if err.Error() != "add liquidity: execution reverted" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestAsFindsTypedErrorThroughWrapping(t *testing.T) {
	inner := New(CodeUnauthorized, "caller is not the vault owner")
	outer := fmt.Errorf("invest: %w", inner)
	typed, ok := As(outer)
	if !ok {
		t.Fatal("expected typed error through fmt wrapping")
	}
	if typed.Code != CodeUnauthorized {
		t.Fatalf("expected unauthorized code, got %d", typed.Code)
	}
}

func TestCodeOf(t *testing.T) {
	if CodeOf(nil) != CodeSuccess {
		t.Fatal("nil error should map to success")
	}
	if CodeOf(stderrors.New("boom")) != CodeInternal {
		t.Fatal("untyped error should map to internal")
	}
	if CodeOf(New(CodeNothingToInvest, "no balances")) != CodeNothingToInvest {
		t.Fatal("typed error should keep its code")
	}
	if ExitCode(New(CodeWrapFailed, "wrap")) != int(CodeWrapFailed) {
		t.Fatal("exit code should follow the typed code")
	}
}
