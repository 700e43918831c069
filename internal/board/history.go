package board

// History is the per-room linear timeline of committed operations plus
// the redo stack feeding it back. Undo and redo are global for the
// room: any user's undo removes the most recently committed operation
// regardless of author.
//
// Like the Tracker, a History is owned by its room and accessed under
// the room lock.
type History struct {
	seq       int64
	committed []Operation
	redoStack []Operation
}

func newHistory() *History {
	return &History{}
}

// Revert identifies a committed operation clients should delete. The
// full operation is not retransmitted; clients already hold it.
type Revert struct {
	OpID string `json:"opId"`
	Seq  int64  `json:"seq"`
}

// Commit assigns the next sequence number, appends the operation, and
// clears the redo stack. Every commit path invalidates redo: redo is
// only valid for a contiguous run of undos.
func (h *History) Commit(op Operation) Operation {
	h.redoStack = h.redoStack[:0]
	h.seq++
	op.Seq = h.seq
	h.committed = append(h.committed, op)
	return op
}

// Undo moves the newest committed operation onto the redo stack and
// returns its revert descriptor. Returns false on an empty history;
// the caller must suppress the broadcast.
func (h *History) Undo() (Revert, bool) {
	if len(h.committed) == 0 {
		return Revert{}, false
	}
	last := h.committed[len(h.committed)-1]
	h.committed = h.committed[:len(h.committed)-1]
	h.redoStack = append(h.redoStack, last)
	return Revert{OpID: last.ID, Seq: last.Seq}, true
}

// Redo re-appends the most recently undone operation, keeping its
// original sequence number, and returns it in full so clients can
// redraw what they previously deleted. Returns false when there is
// nothing to redo.
func (h *History) Redo() (Operation, bool) {
	if len(h.redoStack) == 0 {
		return Operation{}, false
	}
	op := h.redoStack[len(h.redoStack)-1]
	h.redoStack = h.redoStack[:len(h.redoStack)-1]
	h.committed = append(h.committed, op)
	return op, true
}

// ReplaceAll installs ops as the new committed sequence, renumbering
// from 1 and discarding the redo stack. Callers sanitize ops first and
// clear the room's active strokes alongside.
func (h *History) ReplaceAll(ops []Operation) []Operation {
	h.committed = h.committed[:0]
	h.redoStack = h.redoStack[:0]
	h.seq = 0
	for _, op := range ops {
		h.seq++
		op.Seq = h.seq
		h.committed = append(h.committed, op)
	}
	return h.Snapshot()
}

// Snapshot returns a copy of the committed sequence for late joiners
// and exports.
func (h *History) Snapshot() []Operation {
	out := make([]Operation, len(h.committed))
	copy(out, h.committed)
	return out
}

// Len reports the number of committed operations.
func (h *History) Len() int {
	return len(h.committed)
}
