package execution

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"

	clierr "github.com/ratherlabs/rathervault/internal/errors"
)

type fakeDataError struct {
	msg  string
	data interface{}
}

func (e *fakeDataError) Error() string          { return e.msg }
func (e *fakeDataError) ErrorData() interface{} { return e.data }

func encodeRevertString(t *testing.T, reason string) []byte {
	t.Helper()
	stringTy, err := abi.NewType("string", "", nil)
	if err != nil {
		t.Fatalf("new string type: %v", err)
	}
	packed, err := (abi.Arguments{{Type: stringTy}}).Pack(reason)
	if err != nil {
		t.Fatalf("pack revert string: %v", err)
	}
	return append(append([]byte{}, revertSelectorError...), packed...)
}

func TestDecodeRevertDataErrorString(t *testing.T) {
	data := encodeRevertString(t, "UniswapV2Router: EXPIRED")
	if got := decodeRevertData(data); got != "UniswapV2Router: EXPIRED" {
		t.Fatalf("unexpected reason: %q", got)
	}
}

func TestDecodeRevertDataPanic(t *testing.T) {
	uintTy, err := abi.NewType("uint256", "", nil)
	if err != nil {
		t.Fatalf("new uint256 type: %v", err)
	}
	packed, err := (abi.Arguments{{Type: uintTy}}).Pack(big.NewInt(0x11))
	if err != nil {
		t.Fatalf("pack panic code: %v", err)
	}
	data := append(append([]byte{}, revertSelectorPanic...), packed...)
	if got := decodeRevertData(data); !strings.Contains(got, "0x11") {
		t.Fatalf("expected panic code in reason, got %q", got)
	}
}

func TestDecodeRevertDataCustomSelector(t *testing.T) {
	got := decodeRevertData([]byte{0xde, 0xad, 0xbe, 0xef})
	if !strings.Contains(got, "deadbeef") {
		t.Fatalf("expected custom selector in reason, got %q", got)
	}
}

func TestDecodeRevertDataTooShort(t *testing.T) {
	if got := decodeRevertData([]byte{0x01}); got != "" {
		t.Fatalf("expected empty reason, got %q", got)
	}
}

func TestRevertReasonFromErrorData(t *testing.T) {
	cause := &fakeDataError{
		msg:  "execution reverted",
		data: fmt.Sprintf("0x%x", encodeRevertString(t, "ds-math-sub-underflow")),
	}
	wrapped := wrapEVMExecutionError(clierr.CodeSimulation, "simulate unstake step", cause)
	if got := RevertReason(wrapped); got != "ds-math-sub-underflow" {
		t.Fatalf("unexpected reason: %q", got)
	}
	if clierr.CodeOf(wrapped) != clierr.CodeSimulation {
		t.Fatalf("unexpected code: %d", clierr.CodeOf(wrapped))
	}
}

func TestRevertReasonFromMessageFallback(t *testing.T) {
	err := errors.New("call failed: execution reverted: TransferHelper: TRANSFER_FROM_FAILED")
	if got := RevertReason(err); got != "TransferHelper: TRANSFER_FROM_FAILED" {
		t.Fatalf("unexpected reason: %q", got)
	}
}

func TestRevertReasonNone(t *testing.T) {
	if got := RevertReason(errors.New("connection refused")); got != "" {
		t.Fatalf("expected empty reason, got %q", got)
	}
}
