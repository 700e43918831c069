package board

import (
	"encoding/json"
	"testing"
)

func raw(s string) json.RawMessage { return json.RawMessage(s) }

func findEvent(t *testing.T, outs []Outbound, event string) Outbound {
	t.Helper()
	for _, out := range outs {
		if out.Event == event {
			return out
		}
	}
	t.Fatalf("expected event %q in %d outbounds", event, len(outs))
	return Outbound{}
}

func TestJoinBroadcasts(t *testing.T) {
	reg := NewRegistry()
	user, outs := reg.Join("r")

	if len(outs) != 3 {
		t.Fatalf("expected init, user:joined and users:list, got %d events", len(outs))
	}

	init := findEvent(t, outs, EvInit)
	if init.Audience != ToSelf {
		t.Fatalf("init must go to the joiner only")
	}
	payload, ok := init.Data.(InitPayload)
	if !ok {
		t.Fatalf("unexpected init payload type %T", init.Data)
	}
	if payload.You.UserID != user.UserID || payload.RoomID != "r" {
		t.Fatalf("init payload mismatch: %+v", payload)
	}

	if findEvent(t, outs, EvUserJoined).Audience != ToOthers {
		t.Fatalf("user:joined must exclude the joiner")
	}
	if findEvent(t, outs, EvUsersList).Audience != ToAll {
		t.Fatalf("users:list must reach the whole room")
	}
}

func TestInitPayloadIncludesOpsAndActiveStrokes(t *testing.T) {
	reg := NewRegistry()
	first, _ := reg.Join("r")
	reg.Handle("r", first.UserID, EvShapeRect, raw(`{"x":1,"y":1,"w":2,"h":2}`))
	reg.Handle("r", first.UserID, EvStrokeStart, raw(`{"x":0,"y":0}`))

	_, outs := reg.Join("r")
	payload := findEvent(t, outs, EvInit).Data.(InitPayload)

	if len(payload.Ops) != 1 {
		t.Fatalf("expected 1 committed op in init, got %d", len(payload.Ops))
	}
	if len(payload.Active) != 1 || payload.Active[0].UserID != first.UserID {
		t.Fatalf("expected the first user's live stroke in init, got %+v", payload.Active)
	}
	if len(payload.Users) != 2 {
		t.Fatalf("expected both users in init, got %d", len(payload.Users))
	}
}

func TestCursorRelayedToOthersOnly(t *testing.T) {
	reg := NewRegistry()
	user, _ := reg.Join("r")

	outs := reg.Handle("r", user.UserID, EvCursor, raw(`{"x":12,"y":34}`))
	if len(outs) != 1 || outs[0].Audience != ToOthers {
		t.Fatalf("expected a single others-only cursor relay, got %+v", outs)
	}
	cur := outs[0].Data.(cursorEvent)
	if cur.UserID != user.UserID || cur.X != 12 || cur.Y != 34 {
		t.Fatalf("cursor payload mismatch: %+v", cur)
	}
}

func TestStrokeLifecycle(t *testing.T) {
	reg := NewRegistry()
	user, _ := reg.Join("r")

	outs := reg.Handle("r", user.UserID, EvStrokeStart, raw(`{"x":0,"y":0,"width":6,"color":"#f00"}`))
	start := findEvent(t, outs, EvStrokeStart)
	if start.Audience != ToOthers {
		t.Fatalf("stroke:start goes to others only")
	}
	ev := start.Data.(strokeStartEvent)
	if ev.Width != 6 || ev.Color != "#f00" || ev.Mode != ModeDraw {
		t.Fatalf("stroke:start payload mismatch: %+v", ev)
	}

	outs = reg.Handle("r", user.UserID, EvStrokePoint, raw(`{"x":10,"y":10}`))
	if len(outs) != 1 || outs[0].Audience != ToOthers {
		t.Fatalf("stroke:point goes to others only, got %+v", outs)
	}

	outs = reg.Handle("r", user.UserID, EvStrokeEnd, nil)
	commit := findEvent(t, outs, EvOpCommit)
	if commit.Audience != ToAll {
		t.Fatalf("op:commit must reach the whole room")
	}
	op := commit.Data.(Operation)
	if op.Seq != 1 || len(op.Points) != 2 {
		t.Fatalf("expected seq 1 with 2 points, got %+v", op)
	}
	if findEvent(t, outs, EvUsersList).Audience != ToAll {
		t.Fatalf("stroke end refreshes the roster for everyone")
	}
}

func TestStrokeStartDefaultsToUserTool(t *testing.T) {
	reg := NewRegistry()
	user, _ := reg.Join("r")
	reg.Handle("r", user.UserID, EvToolUpdate, raw(`{"color":"#0f0","width":9}`))

	outs := reg.Handle("r", user.UserID, EvStrokeStart, raw(`{"x":0,"y":0,"width":"huge","tool":"eraser"}`))
	ev := findEvent(t, outs, EvStrokeStart).Data.(strokeStartEvent)
	if ev.Width != 9 {
		t.Fatalf("expected malformed width to fall back to the user's width, got %v", ev.Width)
	}
	if ev.Color != "#0f0" {
		t.Fatalf("expected color to fall back to the user's color, got %q", ev.Color)
	}
	if ev.Mode != ModeErase {
		t.Fatalf("expected eraser tool to map to erase mode, got %q", ev.Mode)
	}
}

func TestStrokeEventsWithoutActiveStrokeAreSilent(t *testing.T) {
	reg := NewRegistry()
	user, _ := reg.Join("r")

	if outs := reg.Handle("r", user.UserID, EvStrokePoint, raw(`{"x":1,"y":1}`)); outs != nil {
		t.Fatalf("expected no broadcast for a point with no active stroke, got %+v", outs)
	}
	if outs := reg.Handle("r", user.UserID, EvStrokeEnd, nil); outs != nil {
		t.Fatalf("expected no broadcast for an end with no active stroke, got %+v", outs)
	}
}

func TestStrokeStartFromUnknownUserIsSilent(t *testing.T) {
	reg := NewRegistry()
	reg.Join("r")

	if outs := reg.Handle("r", "gone", EvStrokeStart, raw(`{"x":0,"y":0}`)); outs != nil {
		t.Fatalf("expected events from an unknown user to be dropped, got %+v", outs)
	}
	if outs := reg.Handle("r", "gone", EvShapeRect, raw(`{"x":0,"y":0,"w":1,"h":1}`)); outs != nil {
		t.Fatalf("expected shape commits from an unknown user to be dropped, got %+v", outs)
	}
}

// The interleaved scenario: a committed stroke, a rect on top, a global
// undo of the rect, then a redo restoring it at its original position.
func TestUndoRedoScenario(t *testing.T) {
	reg := NewRegistry()
	a, _ := reg.Join("r")
	b, _ := reg.Join("r")

	reg.Handle("r", a.UserID, EvStrokeStart, raw(`{"x":0,"y":0}`))
	reg.Handle("r", a.UserID, EvStrokePoint, raw(`{"x":10,"y":10}`))
	reg.Handle("r", a.UserID, EvStrokeEnd, nil)

	outs := reg.Handle("r", b.UserID, EvShapeRect, raw(`{"x":5,"y":5,"w":20,"h":20}`))
	rect := findEvent(t, outs, EvOpCommit).Data.(Operation)
	if rect.Seq != 2 {
		t.Fatalf("expected the rect to commit at seq 2, got %d", rect.Seq)
	}

	outs = reg.Handle("r", a.UserID, EvUndo, nil)
	revertOut := findEvent(t, outs, EvOpRevert)
	if revertOut.Audience != ToAll {
		t.Fatalf("op:revert must reach the whole room")
	}
	revert := revertOut.Data.(Revert)
	if revert.OpID != rect.ID || revert.Seq != 2 {
		t.Fatalf("expected revert of the rect, got %+v", revert)
	}
	if got := len(reg.SnapshotOps("r")); got != 1 {
		t.Fatalf("expected 1 committed op after undo, got %d", got)
	}

	outs = reg.Handle("r", b.UserID, EvRedo, nil)
	redone := findEvent(t, outs, EvOpCommit).Data.(Operation)
	if redone.ID != rect.ID || redone.Seq != 2 {
		t.Fatalf("expected redo to restore the rect at seq 2, got %+v", redone)
	}
	if got := len(reg.SnapshotOps("r")); got != 2 {
		t.Fatalf("expected 2 committed ops after redo, got %d", got)
	}
}

func TestUndoOnEmptyRoomIsSilent(t *testing.T) {
	reg := NewRegistry()
	user, _ := reg.Join("r")

	if outs := reg.Handle("r", user.UserID, EvUndo, nil); outs != nil {
		t.Fatalf("expected undo with empty history to stay silent, got %+v", outs)
	}
	if outs := reg.Handle("r", user.UserID, EvRedo, nil); outs != nil {
		t.Fatalf("expected redo with empty stack to stay silent, got %+v", outs)
	}
}

func TestToolUpdateMergesOnlyRecognizedFields(t *testing.T) {
	reg := NewRegistry()
	user, _ := reg.Join("r")

	outs := reg.Handle("r", user.UserID, EvToolUpdate,
		raw(`{"color":"#123456","width":"not-a-number","tool":"eraser","evil":"__proto__"}`))

	toolOut := findEvent(t, outs, EvUserTool)
	if toolOut.Audience != ToOthers {
		t.Fatalf("user:tool goes to others only")
	}
	ev := toolOut.Data.(userToolEvent)
	if ev.Color == nil || *ev.Color != "#123456" {
		t.Fatalf("expected color applied, got %+v", ev)
	}
	if ev.Width != nil {
		t.Fatalf("expected wrong-typed width to be ignored, got %v", *ev.Width)
	}
	if ev.Tool == nil || *ev.Tool != "eraser" {
		t.Fatalf("expected tool applied, got %+v", ev)
	}

	users := findEvent(t, outs, EvUsersList).Data.([]User)
	if users[0].Color != "#123456" || users[0].Width != 4 || users[0].Tool != "eraser" {
		t.Fatalf("user record merge mismatch: %+v", users[0])
	}
}

func TestReplaceStateSanitizesAndResets(t *testing.T) {
	reg := NewRegistry()
	user, _ := reg.Join("r")
	reg.Handle("r", user.UserID, EvShapeRect, raw(`{"x":0,"y":0,"w":1,"h":1}`))
	reg.Handle("r", user.UserID, EvStrokeStart, raw(`{"x":0,"y":0}`))

	outs := reg.Handle("r", user.UserID, EvReplace, raw(`[
		{"type":"rect","x":1,"y":1,"w":"bad","h":5},
		{"type":"blob"}
	]`))

	reset := findEvent(t, outs, EvStateReset)
	if reset.Audience != ToAll {
		t.Fatalf("state:reset must reach the whole room")
	}
	ops := reset.Data.([]Operation)
	if len(ops) != 1 || ops[0].Seq != 1 || ops[0].W != 0 {
		t.Fatalf("expected one sanitized, renumbered rect, got %+v", ops)
	}

	// The live stroke was discarded along with the old history.
	if outs := reg.Handle("r", user.UserID, EvStrokeEnd, nil); outs != nil {
		t.Fatalf("expected the active stroke to be cleared by replace, got %+v", outs)
	}
}

func TestReplaceStateWithNonArrayPayloadIsSilent(t *testing.T) {
	reg := NewRegistry()
	user, _ := reg.Join("r")
	reg.Handle("r", user.UserID, EvShapeRect, raw(`{"x":0,"y":0,"w":1,"h":1}`))

	if outs := reg.Handle("r", user.UserID, EvReplace, raw(`{"not":"an array"}`)); outs != nil {
		t.Fatalf("expected non-array replace payload to be dropped, got %+v", outs)
	}
	if got := len(reg.SnapshotOps("r")); got != 1 {
		t.Fatalf("expected history untouched by rejected replace, got %d ops", got)
	}
}

func TestReplaceStateWithNullPayloadIsSilent(t *testing.T) {
	reg := NewRegistry()
	user, _ := reg.Join("r")
	reg.Handle("r", user.UserID, EvShapeRect, raw(`{"x":0,"y":0,"w":1,"h":1}`))
	reg.Handle("r", user.UserID, EvStrokeStart, raw(`{"x":0,"y":0}`))

	if outs := reg.Handle("r", user.UserID, EvReplace, raw(`null`)); outs != nil {
		t.Fatalf("expected null replace payload to be dropped, got %+v", outs)
	}
	if got := len(reg.SnapshotOps("r")); got != 1 {
		t.Fatalf("expected history untouched by null replace, got %d ops", got)
	}

	// The active stroke is untouched too; nothing mutated.
	outs := reg.Handle("r", user.UserID, EvStrokeEnd, nil)
	if op := findEvent(t, outs, EvOpCommit).Data.(Operation); op.Seq != 2 {
		t.Fatalf("expected the live stroke to survive and commit at seq 2, got %+v", op)
	}
}

func TestReplaceStateWithEmptyArrayClearsBoard(t *testing.T) {
	reg := NewRegistry()
	user, _ := reg.Join("r")
	reg.Handle("r", user.UserID, EvShapeRect, raw(`{"x":0,"y":0,"w":1,"h":1}`))

	outs := reg.Handle("r", user.UserID, EvReplace, raw(`[]`))
	reset := findEvent(t, outs, EvStateReset)
	if ops := reset.Data.([]Operation); len(ops) != 0 {
		t.Fatalf("expected an empty board after [] replace, got %+v", ops)
	}
	if got := len(reg.SnapshotOps("r")); got != 0 {
		t.Fatalf("expected history cleared by [] replace, got %d ops", got)
	}
}

func TestDisconnectMidStrokeLeavesNoTrace(t *testing.T) {
	reg := NewRegistry()
	user, _ := reg.Join("r")
	reg.Join("r")

	reg.Handle("r", user.UserID, EvStrokeStart, raw(`{"x":0,"y":0}`))
	reg.Handle("r", user.UserID, EvStrokePoint, raw(`{"x":1,"y":1}`))
	reg.Handle("r", user.UserID, EvStrokePoint, raw(`{"x":2,"y":2}`))

	outs := reg.Leave("r", user.UserID)
	if findEvent(t, outs, EvUserLeft).Audience != ToOthers {
		t.Fatalf("user:left goes to the remaining users")
	}

	if got := len(reg.SnapshotOps("r")); got != 0 {
		t.Fatalf("expected no trace of the abandoned stroke, got %d ops", got)
	}
	_, initOuts := reg.Join("r")
	payload := findEvent(t, initOuts, EvInit).Data.(InitPayload)
	if len(payload.Active) != 0 {
		t.Fatalf("expected no active strokes after disconnect, got %+v", payload.Active)
	}
}

func TestUnknownEventIsSilent(t *testing.T) {
	reg := NewRegistry()
	user, _ := reg.Join("r")

	if outs := reg.Handle("r", user.UserID, "teleport", raw(`{}`)); outs != nil {
		t.Fatalf("expected unknown events to be dropped, got %+v", outs)
	}
}
