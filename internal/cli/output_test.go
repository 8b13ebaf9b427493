package cli

import (
	"bytes"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/tapecell/undotx/internal/envelope"
)

func newGoldie(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func render(t *testing.T, format string, resp envelope.Response) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := printResponse(&buf, format, resp); err != nil {
		t.Fatalf("printResponse() failed: %v", err)
	}
	return buf.Bytes()
}

func TestPrintResponse_TextSimple(t *testing.T) {
	g := newGoldie(t)
	out := render(t, "text", envelope.New(envelope.CodeNoChange, "No change"))
	g.Assert(t, "response_nochange_text", out)
}

func TestPrintResponse_TextWithPayload(t *testing.T) {
	g := newGoldie(t)
	out := render(t, "text", envelope.OK().WithPayload([]string{"t1", "t2"}))
	g.Assert(t, "response_list_text", out)
}

func TestPrintResponse_JSON(t *testing.T) {
	g := newGoldie(t)
	resp := envelope.New(envelope.CodeWrongStatus, "wrong status").
		WithExtra(envelope.ExtraRollback, false)
	out := render(t, "json", resp)
	g.Assert(t, "response_wrongstatus_json", out)
}

func TestRespond_FailureExitCode(t *testing.T) {
	var buf bytes.Buffer
	err := respond(&buf, "text", envelope.New(envelope.CodeNoSuchTx, "no such transaction: x"))
	if err == nil {
		t.Fatal("expected error for non-success response")
	}
	exitErr, ok := err.(*ExitError)
	if !ok {
		t.Fatalf("error type = %T", err)
	}
	if exitErr.Code != ExitFailure {
		t.Errorf("exit code = %d, want %d", exitErr.Code, ExitFailure)
	}
}

func TestRespond_Success(t *testing.T) {
	var buf bytes.Buffer
	if err := respond(&buf, "text", envelope.OK()); err != nil {
		t.Fatalf("respond() = %v", err)
	}
}
