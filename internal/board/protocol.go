package board

import (
	"encoding/json"
	"log/slog"
)

// Audience selects which room sockets receive an outbound event. The
// registry decides what to send to whom; the transport owns the actual
// sockets and executes the fan-out.
type Audience int

const (
	ToSelf Audience = iota
	ToOthers
	ToAll
)

// Outbound is one event to deliver after an inbound event was applied.
type Outbound struct {
	Audience Audience
	Event    string
	Data     any
}

func self(event string, data any) Outbound   { return Outbound{ToSelf, event, data} }
func others(event string, data any) Outbound { return Outbound{ToOthers, event, data} }
func all(event string, data any) Outbound    { return Outbound{ToAll, event, data} }

// Inbound event names.
const (
	EvCursor       = "cursor"
	EvStrokeStart  = "stroke:start"
	EvStrokePoint  = "stroke:point"
	EvStrokeEnd    = "stroke:end"
	EvShapeRect    = "shape:rect"
	EvShapeLine    = "shape:line"
	EvShapeEllipse = "shape:ellipse"
	EvToolUpdate   = "tool:update"
	EvUndo         = "op:undo"
	EvRedo         = "op:redo"
	EvReplace      = "state:replace"
)

// Outbound event names.
const (
	EvInit       = "init"
	EvUserJoined = "user:joined"
	EvUsersList  = "users:list"
	EvUserTool   = "user:tool"
	EvUserLeft   = "user:left"
	EvOpCommit   = "op:commit"
	EvOpRevert   = "op:revert"
	EvStateReset = "state:reset"
)

type cursorEvent struct {
	UserID string  `json:"userId"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

type strokeStartEvent struct {
	UserID string  `json:"userId"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Color  string  `json:"color"`
	Mode   string  `json:"mode"`
}

type strokePointEvent struct {
	UserID string  `json:"userId"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

type userJoinedEvent struct {
	User User `json:"user"`
}

type userLeftEvent struct {
	UserID string `json:"userId"`
}

type userToolEvent struct {
	UserID string   `json:"userId"`
	Color  *string  `json:"color,omitempty"`
	Width  *float64 `json:"width,omitempty"`
	Tool   *string  `json:"tool,omitempty"`
}

// Join registers a new user in roomID and returns the user plus the
// resulting broadcasts: the full snapshot to the joiner, the join
// notice to everyone else, and a refreshed roster to the whole room.
func (r *Registry) Join(roomID string) (User, []Outbound) {
	room := r.ensure(roomID)
	room.mu.Lock()
	defer room.mu.Unlock()
	room.touch(r.now())

	user := r.join(room)
	return *user, []Outbound{
		self(EvInit, room.initPayload(user)),
		others(EvUserJoined, userJoinedEvent{User: *user}),
		all(EvUsersList, room.usersPublic()),
	}
}

// Leave removes the user, discarding any in-progress stroke, and tells
// the remaining users. Safe to call twice for the same user.
func (r *Registry) Leave(roomID, userID string) []Outbound {
	room := r.ensure(roomID)
	room.mu.Lock()
	defer room.mu.Unlock()
	room.touch(r.now())

	room.leave(userID)
	return []Outbound{
		others(EvUserLeft, userLeftEvent{UserID: userID}),
		others(EvUsersList, room.usersPublic()),
	}
}

// Handle applies one inbound event for (roomID, userID) and returns
// the broadcasts it produced. The room lock is held for the whole
// step, so events for a single room apply atomically in arrival order;
// that order is the source of truth for sequence numbers and for the
// order clients see commits and reverts in.
//
// Malformed payloads are coerced or dropped, and events with nothing
// to do (undo on an empty history, a point with no active stroke, an
// unknown user) return nil. Nothing here is an error.
func (r *Registry) Handle(roomID, userID, event string, data json.RawMessage) []Outbound {
	room := r.ensure(roomID)
	room.mu.Lock()
	defer room.mu.Unlock()
	room.touch(r.now())

	switch event {
	case EvCursor:
		return room.handleCursor(userID, data)
	case EvStrokeStart:
		return room.handleStrokeStart(userID, data)
	case EvStrokePoint:
		return room.handleStrokePoint(userID, data)
	case EvStrokeEnd:
		return room.handleStrokeEnd(userID)
	case EvShapeRect:
		return room.handleShape(userID, ShapeRect, data)
	case EvShapeLine:
		return room.handleShape(userID, ShapeLine, data)
	case EvShapeEllipse:
		return room.handleShape(userID, ShapeEllipse, data)
	case EvToolUpdate:
		return room.handleToolUpdate(userID, data)
	case EvUndo:
		return room.handleUndo()
	case EvRedo:
		return room.handleRedo()
	case EvReplace:
		return room.handleReplace(data)
	default:
		slog.Debug("Dropping unknown event", "room_id", roomID, "user_id", userID, "event", event)
		return nil
	}
}

// Cursor positions are ephemeral: relayed to the others, never stored.
func (room *Room) handleCursor(userID string, data json.RawMessage) []Outbound {
	var p struct {
		X any `json:"x"`
		Y any `json:"y"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil
	}
	return []Outbound{others(EvCursor, cursorEvent{
		UserID: userID,
		X:      asNumber(p.X),
		Y:      asNumber(p.Y),
	})}
}

func (room *Room) handleStrokeStart(userID string, data json.RawMessage) []Outbound {
	user, ok := room.users[userID]
	if !ok {
		return nil
	}

	var p struct {
		X     any `json:"x"`
		Y     any `json:"y"`
		Width any `json:"width"`
		Color any `json:"color"`
		Tool  any `json:"tool"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil
	}

	mode := ModeDraw
	if p.Tool == "eraser" {
		mode = ModeErase
	}
	width := user.Width
	if n, isNum := p.Width.(float64); isNum {
		width = n
	}
	color := user.Color
	if s, isStr := p.Color.(string); isStr {
		color = s
	}
	x, y := asNumber(p.X), asNumber(p.Y)

	now := nowMillis()
	room.tracker.Start(userID, Operation{
		ID:     newOpID(),
		Type:   ShapeStroke,
		Mode:   mode,
		Color:  color,
		Width:  width,
		UserID: userID,
		TS:     now,
		Points: []Point{{X: x, Y: y, T: now}},
	})

	return []Outbound{others(EvStrokeStart, strokeStartEvent{
		UserID: userID,
		X:      x,
		Y:      y,
		Width:  width,
		Color:  color,
		Mode:   mode,
	})}
}

func (room *Room) handleStrokePoint(userID string, data json.RawMessage) []Outbound {
	var p struct {
		X any `json:"x"`
		Y any `json:"y"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil
	}
	x, y := asNumber(p.X), asNumber(p.Y)

	if _, ok := room.tracker.AppendPoint(userID, Point{X: x, Y: y, T: nowMillis()}); !ok {
		return nil
	}
	return []Outbound{others(EvStrokePoint, strokePointEvent{UserID: userID, X: x, Y: y})}
}

func (room *Room) handleStrokeEnd(userID string) []Outbound {
	op, ok := room.tracker.Commit(userID)
	if !ok {
		return nil
	}
	committed := room.history.Commit(op)
	return []Outbound{
		all(EvOpCommit, committed),
		all(EvUsersList, room.usersPublic()),
	}
}

// Shapes skip the tracker: the drag preview is client-local and the
// server only sees the finished geometry as one atomic commit.
func (room *Room) handleShape(userID, shape string, data json.RawMessage) []Outbound {
	if _, ok := room.users[userID]; !ok {
		return nil
	}

	var p rawOp
	if err := json.Unmarshal(data, &p); err != nil {
		return nil
	}

	op := Operation{
		ID:     newOpID(),
		Type:   shape,
		Mode:   asMode(p.Mode),
		Color:  asString(p.Color, defaultColor),
		Width:  asWidth(p.Width),
		UserID: userID,
		TS:     nowMillis(),
	}
	switch shape {
	case ShapeLine:
		op.X1 = asNumber(p.X1)
		op.Y1 = asNumber(p.Y1)
		op.X2 = asNumber(p.X2)
		op.Y2 = asNumber(p.Y2)
	default:
		op.X = asNumber(p.X)
		op.Y = asNumber(p.Y)
		op.W = asNumber(p.W)
		op.H = asNumber(p.H)
	}

	return []Outbound{all(EvOpCommit, room.history.Commit(op))}
}

func (room *Room) handleToolUpdate(userID string, data json.RawMessage) []Outbound {
	user, ok := room.users[userID]
	if !ok {
		return nil
	}

	var p struct {
		Color any `json:"color"`
		Width any `json:"width"`
		Tool  any `json:"tool"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil
	}

	// Merge only recognized, correctly-typed fields; everything else is
	// ignored without comment.
	update := userToolEvent{UserID: userID}
	if s, isStr := p.Color.(string); isStr {
		user.Color = s
		update.Color = &s
	}
	if n, isNum := p.Width.(float64); isNum {
		user.Width = n
		update.Width = &n
	}
	if s, isStr := p.Tool.(string); isStr {
		user.Tool = s
		update.Tool = &s
	}

	return []Outbound{
		others(EvUserTool, update),
		all(EvUsersList, room.usersPublic()),
	}
}

func (room *Room) handleUndo() []Outbound {
	revert, ok := room.history.Undo()
	if !ok {
		return nil
	}
	return []Outbound{all(EvOpRevert, revert)}
}

func (room *Room) handleRedo() []Outbound {
	op, ok := room.history.Redo()
	if !ok {
		return nil
	}
	return []Outbound{all(EvOpCommit, op)}
}

// handleReplace swaps in a client-supplied committed sequence. The
// payload is untrusted: unknown shapes are dropped, fields coerced,
// and active strokes discarded so the new state starts clean. Only a
// JSON array counts as a sequence; null decodes to a nil slice without
// error and must not wipe the room, while a literal [] legitimately
// clears it.
func (room *Room) handleReplace(data json.RawMessage) []Outbound {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		return nil
	}

	room.tracker.clear()
	ops := room.history.ReplaceAll(sanitizeOps(raw))
	return []Outbound{all(EvStateReset, ops)}
}

// Replace installs ops as roomID's committed sequence outside the
// normal event path, for archive restores. Same sanitation and
// broadcast as a state:replace event.
func (r *Registry) Replace(roomID string, raw []json.RawMessage) []Outbound {
	room := r.ensure(roomID)
	room.mu.Lock()
	defer room.mu.Unlock()
	room.touch(r.now())

	room.tracker.clear()
	ops := room.history.ReplaceAll(sanitizeOps(raw))
	return []Outbound{all(EvStateReset, ops)}
}
