package envelope

import (
	"reflect"
	"testing"
)

func TestSuccess(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{CodeOK, true},
		{CodeNoChange, true},
		{CodeBadRequest, false},
		{CodeConflict, false},
		{CodeEnvironment, false},
	}
	for _, c := range cases {
		if got := New(c.code, "x").Success(); got != c.want {
			t.Errorf("Success() for %d = %v, want %v", c.code, got, c.want)
		}
	}
}

func TestWithExtra_DoesNotMutateOriginal(t *testing.T) {
	r := OK()
	r2 := r.WithExtra(ExtraRollback, false)

	if r.Extra != nil {
		t.Errorf("original Extra modified: %v", r.Extra)
	}
	if !r2.SkipRollback() {
		t.Error("SkipRollback() = false after WithExtra(rollback, false)")
	}
	if r.SkipRollback() {
		t.Error("original SkipRollback() = true")
	}
}

func TestList_ElidesTrailingEmpty(t *testing.T) {
	if got := OK().List(); len(got) != 2 {
		t.Errorf("List() = %v, want 2 elements", got)
	}
	if got := OK().WithPayload([]string{"a"}).List(); len(got) != 3 {
		t.Errorf("List() with payload = %v, want 3 elements", got)
	}
	if got := OK().WithExtra("k", 1).List(); len(got) != 4 {
		t.Errorf("List() with extra = %v, want 4 elements", got)
	}
}

func TestFromList_RoundTrip(t *testing.T) {
	orig := Newf(CodeWrongStatus, "bad status").
		WithPayload("p").
		WithExtra(ExtraRollback, false)

	parsed, err := FromList(orig.List())
	if err != nil {
		t.Fatalf("FromList() failed: %v", err)
	}
	if !reflect.DeepEqual(parsed, orig) {
		t.Errorf("round trip mismatch: got %+v, want %+v", parsed, orig)
	}
}

func TestFromList_Errors(t *testing.T) {
	if _, err := FromList([]any{200}); err == nil {
		t.Error("expected error for short list")
	}
	if _, err := FromList([]any{"200", "OK"}); err == nil {
		t.Error("expected error for non-numeric code")
	}
	if _, err := FromList([]any{200, 5}); err == nil {
		t.Error("expected error for non-string message")
	}
}

func TestFromList_FloatCode(t *testing.T) {
	// Codes arrive as float64 after generic JSON decoding.
	r, err := FromList([]any{float64(304), "No change"})
	if err != nil {
		t.Fatalf("FromList() failed: %v", err)
	}
	if r.Code != CodeNoChange {
		t.Errorf("Code = %d, want %d", r.Code, CodeNoChange)
	}
}
