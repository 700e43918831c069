package board

// Tracker holds the in-progress freehand stroke per user. A room owns
// exactly one Tracker; all access happens under the room lock, so the
// tracker itself carries no synchronization.
type Tracker struct {
	active map[string]*Operation
}

func newTracker() *Tracker {
	return &Tracker{active: make(map[string]*Operation)}
}

// Start registers op as the live stroke for userID. A prior active
// stroke for the same user is abandoned without committing it: a new
// start always wins.
func (t *Tracker) Start(userID string, op Operation) {
	t.active[userID] = &op
}

// AppendPoint appends p to the user's active stroke and returns it.
// With no active stroke this is a no-op and the caller must not
// broadcast anything.
func (t *Tracker) AppendPoint(userID string, p Point) (*Operation, bool) {
	op, ok := t.active[userID]
	if !ok {
		return nil, false
	}
	op.Points = append(op.Points, p)
	return op, true
}

// Commit removes and returns the user's active stroke, handing
// ownership to the caller. Returns false when there is nothing to
// commit.
func (t *Tracker) Commit(userID string) (Operation, bool) {
	op, ok := t.active[userID]
	if !ok {
		return Operation{}, false
	}
	delete(t.active, userID)
	return *op, true
}

// Cancel discards any active stroke for userID. Idempotent; used on
// disconnect so partial strokes never reach the history.
func (t *Tracker) Cancel(userID string) {
	delete(t.active, userID)
}

func (t *Tracker) clear() {
	clear(t.active)
}

// ActiveStroke is the live-cursor summary of an in-progress stroke:
// enough for a late joiner to render stroke heads without replaying
// every sample point.
type ActiveStroke struct {
	UserID string  `json:"userId"`
	Head   Point   `json:"head"`
	Color  string  `json:"color"`
	Width  float64 `json:"width"`
	Mode   string  `json:"mode"`
}

// Snapshot summarizes every active stroke for the initial payload.
func (t *Tracker) Snapshot() []ActiveStroke {
	out := make([]ActiveStroke, 0, len(t.active))
	for userID, op := range t.active {
		out = append(out, ActiveStroke{
			UserID: userID,
			Head:   op.Points[len(op.Points)-1],
			Color:  op.Color,
			Width:  op.Width,
			Mode:   op.Mode,
		})
	}
	return out
}
