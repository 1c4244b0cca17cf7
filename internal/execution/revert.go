package execution

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ratherlabs/rathervault/internal/errors"
)

var (
	// Error(string) and Panic(uint256) selectors.
	revertSelectorError = common.FromHex("0x08c379a0")
	revertSelectorPanic = common.FromHex("0x4e487b71")
)

// decodeRevertData turns raw revert bytes into a human-readable reason.
func decodeRevertData(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	selector, payload := data[:4], data[4:]
	if bytes.Equal(selector, revertSelectorError) {
		stringTy, err := abi.NewType("string", "", nil)
		if err != nil {
			return ""
		}
		out, err := (abi.Arguments{{Type: stringTy}}).Unpack(payload)
		if err != nil || len(out) == 0 {
			return ""
		}
		if reason, ok := out[0].(string); ok {
			return reason
		}
		return ""
	}
	if bytes.Equal(selector, revertSelectorPanic) {
		uintTy, err := abi.NewType("uint256", "", nil)
		if err != nil {
			return ""
		}
		out, err := (abi.Arguments{{Type: uintTy}}).Unpack(payload)
		if err != nil || len(out) == 0 {
			return fmt.Sprintf("panic 0x%x", payload)
		}
		if code, ok := out[0].(*big.Int); ok {
			return fmt.Sprintf("panic code 0x%x", code)
		}
		return ""
	}
	return fmt.Sprintf("custom error 0x%x", selector)
}

// decodeRevertFromError extracts a revert reason from a JSON-RPC error that
// carries revert data (go-ethereum surfaces it via ErrorData()).
func decodeRevertFromError(err error) string {
	type dataError interface {
		ErrorData() interface{}
	}
	var de dataError
	if !errors.As(err, &de) {
		return ""
	}
	switch data := de.ErrorData().(type) {
	case string:
		return decodeRevertData(common.FromHex(data))
	case []byte:
		return decodeRevertData(data)
	default:
		return ""
	}
}

// wrapEVMExecutionError attaches the decoded revert reason, when one exists,
// so the failure surfaces verbatim to the caller.
func wrapEVMExecutionError(code clierr.Code, message string, cause error) error {
	if reason := decodeRevertFromError(cause); reason != "" {
		return clierr.Wrap(code, fmt.Sprintf("%s: %s", message, reason), cause)
	}
	if cause != nil && strings.Contains(cause.Error(), "execution reverted:") {
		return clierr.Wrap(code, message, cause)
	}
	return clierr.Wrap(code, message, cause)
}

// RevertReason pulls the decoded reason out of an execution error, if any.
func RevertReason(err error) string {
	if err == nil {
		return ""
	}
	for unwrapped := err; unwrapped != nil; unwrapped = errors.Unwrap(unwrapped) {
		if reason := decodeRevertFromError(unwrapped); reason != "" {
			return reason
		}
	}
	msg := err.Error()
	if i := strings.Index(msg, "execution reverted:"); i >= 0 {
		return strings.TrimSpace(msg[i+len("execution reverted:"):])
	}
	return ""
}
