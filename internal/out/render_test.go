package out

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ratherlabs/rathervault/internal/model"
)

func TestRenderJSONEnvelope(t *testing.T) {
	var buf bytes.Buffer
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: true,
		Data:    map[string]string{"plan_id": "plan_abc"},
		Meta:    model.EnvelopeMeta{Timestamp: time.Unix(0, 0).UTC(), Command: "invest", ChainID: 1},
	}
	if err := Render(&buf, env, "json"); err != nil {
		t.Fatalf("render: %v", err)
	}
	var decoded model.Envelope
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid json: %v", err)
	}
	if !decoded.Success || decoded.Meta.Command != "invest" {
		t.Fatalf("unexpected envelope: %+v", decoded)
	}
}

func TestRenderPlainSortsKeys(t *testing.T) {
	var buf bytes.Buffer
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Error:   &model.ErrorBody{Code: 10, Type: "unauthorized", Message: "caller is not the vault owner"},
	}
	if err := Render(&buf, env, "plain"); err != nil {
		t.Fatalf("render: %v", err)
	}
	line := buf.String()
	if !strings.Contains(line, "success=false") {
		t.Fatalf("expected success=false in plain output: %q", line)
	}
	if strings.Index(line, "error=") > strings.Index(line, "success=") {
		t.Fatalf("expected sorted keys, got %q", line)
	}
}
