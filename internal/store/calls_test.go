package store

import (
	"context"
	"testing"

	"github.com/tapecell/undotx/internal/status"
)

func insertCalls(t *testing.T, s *Store, table Table, serID int64, fs ...string) []int64 {
	t.Helper()
	ctx := context.Background()
	ids := make([]int64, 0, len(fs))
	for _, f := range fs {
		id, err := s.InsertCall(ctx, table, serID, nil, s.Now(), f, "{}")
		if err != nil {
			t.Fatalf("InsertCall(%s) failed: %v", f, err)
		}
		ids = append(ids, id)
	}
	return ids
}

func TestTable_Opposite(t *testing.T) {
	if CallTable.Opposite() != UndoCallTable || UndoCallTable.Opposite() != CallTable {
		t.Error("Opposite() broken")
	}
	if CallTable.String() != "call" || UndoCallTable.String() != "undo_call" {
		t.Errorf("table names = %s, %s", CallTable, UndoCallTable)
	}
}

func TestSelectCalls_Order(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	rtx := insertTestRtx(t, s, "t1", status.InProgress)

	insertCalls(t, s, CallTable, rtx.SerID, "f.a", "f.b", "f.c")

	forward, err := s.SelectCalls(ctx, CallTable, rtx.SerID, false, nil)
	if err != nil {
		t.Fatalf("SelectCalls() failed: %v", err)
	}
	if len(forward) != 3 {
		t.Fatalf("forward = %d rows", len(forward))
	}
	for i, want := range []string{"f.a", "f.b", "f.c"} {
		if forward[i].F != want {
			t.Errorf("forward[%d] = %s, want %s", i, forward[i].F, want)
		}
	}

	reversed, err := s.SelectCalls(ctx, CallTable, rtx.SerID, true, nil)
	if err != nil {
		t.Fatalf("SelectCalls(reversed) failed: %v", err)
	}
	for i, want := range []string{"f.c", "f.b", "f.a"} {
		if reversed[i].F != want {
			t.Errorf("reversed[%d] = %s, want %s", i, reversed[i].F, want)
		}
	}
}

func TestSelectCalls_ScopedToTx(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	t1 := insertTestRtx(t, s, "t1", status.InProgress)
	t2 := insertTestRtx(t, s, "t2", status.InProgress)

	insertCalls(t, s, CallTable, t1.SerID, "f.a")
	insertCalls(t, s, CallTable, t2.SerID, "f.b", "f.c")

	rows, err := s.SelectCalls(ctx, CallTable, t1.SerID, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].F != "f.a" {
		t.Errorf("t1 rows = %+v", rows)
	}
}

// The resume marker points at the last completed call: reversed
// processing resumes with strictly older rows, and the marker row
// itself is never replayed.
func TestSelectCalls_ResumeReversed(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	rtx := insertTestRtx(t, s, "t1", status.Undoing)

	ids := insertCalls(t, s, UndoCallTable, rtx.SerID, "f.a", "f.b", "f.c")

	// Reversed processing completed f.c, then f.b, then crashed.
	rows, err := s.SelectCalls(ctx, UndoCallTable, rtx.SerID, true, &ids[1])
	if err != nil {
		t.Fatalf("SelectCalls() failed: %v", err)
	}
	if len(rows) != 1 || rows[0].F != "f.a" {
		t.Fatalf("resume rows = %+v, want only f.a", rows)
	}
}

func TestSelectCalls_ResumeForward(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	rtx := insertTestRtx(t, s, "t1", status.InProgress)

	ids := insertCalls(t, s, CallTable, rtx.SerID, "f.a", "f.b", "f.c")

	rows, err := s.SelectCalls(ctx, CallTable, rtx.SerID, false, &ids[0])
	if err != nil {
		t.Fatalf("SelectCalls() failed: %v", err)
	}
	if len(rows) != 2 || rows[0].F != "f.b" || rows[1].F != "f.c" {
		t.Fatalf("resume rows = %+v, want f.b, f.c", rows)
	}
}

func TestSelectCalls_ResumeMarkerFromOtherTable(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	rtx := insertTestRtx(t, s, "t1", status.InProgress)

	insertCalls(t, s, CallTable, rtx.SerID, "f.a", "f.b")

	// A marker id that does not exist in this table applies no
	// filtering.
	bogus := int64(9999)
	rows, err := s.SelectCalls(ctx, CallTable, rtx.SerID, false, &bogus)
	if err != nil {
		t.Fatalf("SelectCalls() failed: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("rows = %d, want 2", len(rows))
	}
}

func TestDeleteCalls(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	rtx := insertTestRtx(t, s, "t1", status.InProgress)

	insertCalls(t, s, CallTable, rtx.SerID, "f.a", "f.b")
	insertCalls(t, s, UndoCallTable, rtx.SerID, "f.u")

	if err := s.DeleteCalls(ctx, CallTable, rtx.SerID); err != nil {
		t.Fatalf("DeleteCalls() failed: %v", err)
	}
	n, err := s.CountCalls(ctx, CallTable, rtx.SerID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("call rows = %d after delete", n)
	}
	n, err = s.CountCalls(ctx, UndoCallTable, rtx.SerID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("undo_call rows = %d, want 1", n)
	}
}

func TestInsertCall_SavepointLabel(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	rtx := insertTestRtx(t, s, "t1", status.InProgress)

	sp := "sp1"
	if _, err := s.InsertCall(ctx, CallTable, rtx.SerID, &sp, s.Now(), "f.a", "{}"); err != nil {
		t.Fatalf("InsertCall() with sp failed: %v", err)
	}
	rows, err := s.SelectCalls(ctx, CallTable, rtx.SerID, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !rows[0].SP.Valid || rows[0].SP.String != "sp1" {
		t.Errorf("sp = %+v, want sp1", rows[0].SP)
	}

	// sp is unique per table.
	if _, err := s.InsertCall(ctx, CallTable, rtx.SerID, &sp, s.Now(), "f.b", "{}"); err == nil {
		t.Error("duplicate sp accepted")
	}
}
