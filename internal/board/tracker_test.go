package board

import "testing"

func TestTrackerStartOverwritesPriorStroke(t *testing.T) {
	tr := newTracker()
	tr.Start("u1", strokeOp("u1", Point{X: 1, Y: 1}))
	tr.Start("u1", strokeOp("u1", Point{X: 9, Y: 9}))

	op, ok := tr.Commit("u1")
	if !ok {
		t.Fatalf("expected an active stroke to commit")
	}
	if len(op.Points) != 1 || op.Points[0].X != 9 {
		t.Fatalf("expected the second start to win, got points %+v", op.Points)
	}
}

func TestTrackerAppendPointWithoutActiveStroke(t *testing.T) {
	tr := newTracker()
	if _, ok := tr.AppendPoint("ghost", Point{X: 1, Y: 1}); ok {
		t.Fatalf("expected append with no active stroke to be a no-op")
	}
}

func TestTrackerCommitTransfersOwnership(t *testing.T) {
	tr := newTracker()
	tr.Start("u1", strokeOp("u1", Point{X: 0, Y: 0}))
	tr.AppendPoint("u1", Point{X: 5, Y: 5})

	op, ok := tr.Commit("u1")
	if !ok {
		t.Fatalf("expected commit to return the stroke")
	}
	if len(op.Points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(op.Points))
	}
	if _, ok := tr.Commit("u1"); ok {
		t.Fatalf("expected second commit to find nothing")
	}
}

func TestTrackerCancelIsIdempotent(t *testing.T) {
	tr := newTracker()
	tr.Start("u1", strokeOp("u1", Point{X: 0, Y: 0}))

	tr.Cancel("u1")
	tr.Cancel("u1")

	if _, ok := tr.Commit("u1"); ok {
		t.Fatalf("expected cancelled stroke to be gone")
	}
	if len(tr.Snapshot()) != 0 {
		t.Fatalf("expected empty snapshot after cancel")
	}
}

func TestTrackerSnapshotSummarizesHeads(t *testing.T) {
	tr := newTracker()
	op := strokeOp("u1", Point{X: 0, Y: 0})
	op.Color = "#abc"
	op.Width = 7
	op.Mode = ModeErase
	tr.Start("u1", op)
	tr.AppendPoint("u1", Point{X: 3, Y: 4})

	snap := tr.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 active entry, got %d", len(snap))
	}
	got := snap[0]
	if got.UserID != "u1" || got.Head.X != 3 || got.Head.Y != 4 {
		t.Fatalf("expected head to be the last point, got %+v", got)
	}
	if got.Color != "#abc" || got.Width != 7 || got.Mode != ModeErase {
		t.Fatalf("expected style summary carried over, got %+v", got)
	}
}
