package board

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Display colors handed out round-robin by room population. Reuse only
// starts once a room outgrows the palette.
var colorPalette = []string{
	"#e53935", "#d81b60", "#8e24aa", "#5e35b1", "#3949ab", "#1e88e5",
	"#039be5", "#00acc1", "#00897b", "#43a047", "#7cb342", "#c0ca33",
	"#fdd835", "#ffb300", "#fb8c00", "#f4511e", "#6d4c41", "#757575",
	"#546e7a",
}

const (
	defaultTool      = "brush"
	defaultUserWidth = 4
)

// User is the public identity record for a connected participant.
// Tool, color and width are display state only; operations reference
// their author by id.
type User struct {
	UserID string  `json:"userId"`
	Name   string  `json:"name"`
	Color  string  `json:"color"`
	Width  float64 `json:"width"`
	Tool   string  `json:"tool"`
}

// Room binds the users, history and active strokes of one isolated
// session. All mutation goes through the Registry while holding the
// room lock, so events for one room apply strictly one at a time while
// separate rooms proceed in parallel.
type Room struct {
	ID string

	mu         sync.Mutex
	users      map[string]*User
	history    *History
	tracker    *Tracker
	lastActive time.Time
}

// Registry is the only place rooms are created or located. Rooms are
// created lazily on first reference and evicted by EvictIdle once empty
// and quiet for long enough.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room
	now   func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*Room),
		now:   time.Now,
	}
}

// ensure is an idempotent get-or-create; it never fails.
func (r *Registry) ensure(roomID string) *Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		room = &Room{
			ID:         roomID,
			users:      make(map[string]*User),
			history:    newHistory(),
			tracker:    newTracker(),
			lastActive: r.now(),
		}
		r.rooms[roomID] = room
	}
	return room
}

func (room *Room) touch(now time.Time) {
	room.lastActive = now
}

// Join allocates a user, assigns the next palette color, and registers
// the user in the room.
func (r *Registry) join(room *Room) *User {
	userID := uuid.New().String()[:8]
	user := &User{
		UserID: userID,
		Name:   "User-" + userID,
		Color:  colorPalette[len(room.users)%len(colorPalette)],
		Width:  defaultUserWidth,
		Tool:   defaultTool,
	}
	room.users[userID] = user
	return user
}

// leave removes the user and cancels any active stroke they held.
// Partial strokes are never committed. Idempotent.
func (room *Room) leave(userID string) {
	delete(room.users, userID)
	room.tracker.Cancel(userID)
}

// usersPublic lists every user in the room. Map iteration order is not
// stable; clients key on userId, not position.
func (room *Room) usersPublic() []User {
	out := make([]User, 0, len(room.users))
	for _, u := range room.users {
		out = append(out, *u)
	}
	return out
}

// InitPayload is the full state a newly joined client needs to render
// without gaps.
type InitPayload struct {
	RoomID string         `json:"roomId"`
	You    User           `json:"you"`
	Users  []User         `json:"users"`
	Ops    []Operation    `json:"ops"`
	Active []ActiveStroke `json:"active"`
}

func (room *Room) initPayload(you *User) InitPayload {
	return InitPayload{
		RoomID: room.ID,
		You:    *you,
		Users:  room.usersPublic(),
		Ops:    room.history.Snapshot(),
		Active: room.tracker.Snapshot(),
	}
}

// SnapshotOps returns the committed operation sequence for roomID. The
// export format is exactly this slice JSON-encoded; feeding it back
// through a state replace round-trips geometry and style.
func (r *Registry) SnapshotOps(roomID string) []Operation {
	room := r.ensure(roomID)
	room.mu.Lock()
	defer room.mu.Unlock()
	return room.history.Snapshot()
}

// RoomCount reports how many rooms currently exist.
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// EvictIdle drops rooms that have no connected users and have been
// inactive for at least retention. Rooms with users are never evicted,
// whatever their age. Returns the number of rooms removed.
func (r *Registry) EvictIdle(retention time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	evicted := 0
	for id, room := range r.rooms {
		room.mu.Lock()
		idle := len(room.users) == 0 && now.Sub(room.lastActive) >= retention
		room.mu.Unlock()
		if idle {
			delete(r.rooms, id)
			evicted++
		}
	}
	return evicted
}
