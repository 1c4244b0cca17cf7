package app

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	clierr "github.com/ratherlabs/rathervault/internal/errors"
)

const (
	testKeyHex  = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testKeyAddr = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"
)

func isolateHome(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	t.Setenv("RATHER_PRIVATE_KEY", "")
	t.Setenv("RATHER_PRIVATE_KEY_FILE", "")
	t.Setenv("RATHER_VAULT_PRIVATE_KEY", "")
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	code := r.Run(args)
	return code, stdout.String(), stderr.String()
}

func TestSchemaCommand(t *testing.T) {
	isolateHome(t)
	code, stdout, stderr := runCLI(t, "schema", "invest")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
	}
	var env map[string]any
	if err := json.Unmarshal([]byte(stdout), &env); err != nil {
		t.Fatalf("parse envelope: %v output=%s", err, stdout)
	}
	data, ok := env["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected schema object, got %v", env["data"])
	}
	if data["path"] != "rathervault invest" {
		t.Fatalf("unexpected schema path: %v", data["path"])
	}
}

func TestTrimRootPath(t *testing.T) {
	if got := trimRootPath("rathervault deposit-token"); got != "deposit-token" {
		t.Fatalf("unexpected trim result: %s", got)
	}
	if got := trimRootPath("rathervault"); got != "" {
		t.Fatalf("root path should trim to empty, got %s", got)
	}
}

func TestVersionCommand(t *testing.T) {
	isolateHome(t)
	code, stdout, stderr := runCLI(t, "version")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
	}
	if !strings.Contains(stdout, "0.1.0") {
		t.Fatalf("unexpected version output: %s", stdout)
	}
}

func TestPlansEmptyJournal(t *testing.T) {
	isolateHome(t)
	code, stdout, stderr := runCLI(t, "plans")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
	}
	var env map[string]any
	if err := json.Unmarshal([]byte(stdout), &env); err != nil {
		t.Fatalf("parse envelope: %v output=%s", err, stdout)
	}
	if env["success"] != true {
		t.Fatalf("expected success envelope, got %v", env)
	}
}

func TestInvalidVariantIsUsageError(t *testing.T) {
	isolateHome(t)
	code, _, stderr := runCLI(t,
		"invest",
		"0x1000000000000000000000000000000000000001",
		"0x2000000000000000000000000000000000000002",
		"--variant", "v3",
	)
	if code != int(clierr.CodeUsage) {
		t.Fatalf("expected usage exit, got %d stderr=%s", code, stderr)
	}
	var env map[string]any
	if err := json.Unmarshal([]byte(stderr), &env); err != nil {
		t.Fatalf("parse error envelope: %v output=%s", err, stderr)
	}
	errBody, _ := env["error"].(map[string]any)
	if errBody == nil || errBody["type"] != "usage_error" {
		t.Fatalf("expected usage_error, got %v", env)
	}
}

func TestDepositETHRequiresAmount(t *testing.T) {
	isolateHome(t)
	code, _, stderr := runCLI(t, "deposit-eth")
	if code != int(clierr.CodeUsage) {
		t.Fatalf("expected usage exit, got %d stderr=%s", code, stderr)
	}
}

func TestInvalidTokenAddressIsUsageError(t *testing.T) {
	isolateHome(t)
	code, _, _ := runCLI(t, "deposit-token", "not-an-address", "--amount", "1")
	if code != int(clierr.CodeUsage) {
		t.Fatalf("expected usage exit, got %d", code)
	}
}

func TestTransferOwnershipUnauthorized(t *testing.T) {
	isolateHome(t)
	t.Setenv("RATHER_PRIVATE_KEY", testKeyHex)
	code, _, stderr := runCLI(t,
		"transfer-ownership", "0x1000000000000000000000000000000000000001",
		"--owner", "0x2000000000000000000000000000000000000002",
	)
	if code != int(clierr.CodeUnauthorized) {
		t.Fatalf("expected unauthorized exit, got %d stderr=%s", code, stderr)
	}
}

func TestTransferOwnershipRewritesConfig(t *testing.T) {
	isolateHome(t)
	t.Setenv("RATHER_PRIVATE_KEY", testKeyHex)
	newOwner := "0x1000000000000000000000000000000000000001"

	code, stdout, stderr := runCLI(t, "transfer-ownership", newOwner, "--owner", testKeyAddr)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
	}
	var env map[string]any
	if err := json.Unmarshal([]byte(stdout), &env); err != nil {
		t.Fatalf("parse envelope: %v output=%s", err, stdout)
	}
	data, _ := env["data"].(map[string]any)
	if data == nil || !strings.EqualFold(data["new_owner"].(string), newOwner) {
		t.Fatalf("unexpected data: %v", env)
	}

	cfgPath := filepath.Join(os.Getenv("XDG_CONFIG_HOME"), "rathervault", "config.yaml")
	buf, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if !strings.Contains(strings.ToLower(string(buf)), strings.ToLower(newOwner)) {
		t.Fatalf("config does not carry new owner: %s", buf)
	}
}

func TestTransferOwnershipRejectsZeroAddress(t *testing.T) {
	isolateHome(t)
	t.Setenv("RATHER_PRIVATE_KEY", testKeyHex)
	code, _, _ := runCLI(t, "transfer-ownership", "0x0000000000000000000000000000000000000000", "--owner", testKeyAddr)
	if code != int(clierr.CodeUsage) {
		t.Fatalf("expected usage exit for zero address, got %d", code)
	}
}

func TestErrorTypeNames(t *testing.T) {
	cases := map[clierr.Code]string{
		clierr.CodeUnauthorized:       "unauthorized",
		clierr.CodeNothingToInvest:    "nothing_to_invest",
		clierr.CodeSlippageExceeded:   "slippage_exceeded",
		clierr.CodeDeadlineExpired:    "deadline_expired",
		clierr.CodeInsufficientStaked: "insufficient_staked_balance",
	}
	for code, want := range cases {
		if got := errorType(code); got != want {
			t.Fatalf("errorType(%d) = %s, want %s", code, got, want)
		}
	}
}
