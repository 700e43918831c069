package board

import (
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/segmentio/ksuid"
)

// Shape tags.
const (
	ShapeStroke  = "stroke"
	ShapeRect    = "rect"
	ShapeLine    = "line"
	ShapeEllipse = "ellipse"
)

// Draw modes. Erase subtracts from the visible raster; it is a normal
// appended operation, never a negation of an earlier one.
const (
	ModeDraw  = "draw"
	ModeErase = "erase"
)

// Defaults applied when a client sends malformed style fields.
const (
	defaultColor = "#000"
	defaultWidth = 2
)

// Point is one freehand sample. T is unix milliseconds.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	T int64   `json:"t"`
}

// Operation is one drawable action. Committed operations are immutable:
// they can only be removed wholesale (undo) and re-inserted unchanged
// (redo). Seq is assigned by the history at commit time; it stays zero
// on an in-progress stroke.
//
// Geometry depends on Type: a stroke carries Points, rect and ellipse
// carry X/Y/W/H (W and H may be negative when the shape was dragged up
// or left; normalization happens at render time), a line carries
// X1/Y1/X2/Y2. Unused geometry fields are zero.
type Operation struct {
	ID     string  `json:"id"`
	Type   string  `json:"type"`
	Mode   string  `json:"mode"`
	Color  string  `json:"color"`
	Width  float64 `json:"width"`
	UserID string  `json:"userId"`
	Seq    int64   `json:"seq,omitempty"`
	TS     int64   `json:"ts"`

	Points []Point `json:"points,omitempty"`

	X float64 `json:"x,omitempty"`
	Y float64 `json:"y,omitempty"`
	W float64 `json:"w,omitempty"`
	H float64 `json:"h,omitempty"`

	X1 float64 `json:"x1,omitempty"`
	Y1 float64 `json:"y1,omitempty"`
	X2 float64 `json:"x2,omitempty"`
	Y2 float64 `json:"y2,omitempty"`
}

func newOpID() string {
	return ksuid.New().String()
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// Coercion helpers for client-supplied values. Inbound payloads cross a
// trust boundary: a field may be absent, the wrong type, or garbage, and
// none of that may ever take the room down.

// asNumber mirrors a unary plus with NaN mapped to 0: numbers pass
// through, numeric strings parse, everything else collapses to 0.
func asNumber(v any) float64 {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0
		}
		return n
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0
		}
		return f
	default:
		return 0
	}
}

func asString(v any, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}

func asMode(v any) string {
	if v == ModeErase {
		return ModeErase
	}
	return ModeDraw
}

func asWidth(v any) float64 {
	if n, ok := v.(float64); ok && !math.IsNaN(n) && !math.IsInf(n, 0) {
		return n
	}
	return defaultWidth
}

// rawOp is the loosely-typed shape imported state arrives in. Leaf
// fields stay `any` so a wrong-typed value coerces instead of failing
// the whole decode.
type rawOp struct {
	ID     any             `json:"id"`
	Type   string          `json:"type"`
	Mode   any             `json:"mode"`
	Color  any             `json:"color"`
	Width  any             `json:"width"`
	UserID any             `json:"userId"`
	TS     any             `json:"ts"`
	Points json.RawMessage `json:"points"`
	X      any             `json:"x"`
	Y      any             `json:"y"`
	W      any             `json:"w"`
	H      any             `json:"h"`
	X1     any             `json:"x1"`
	Y1     any             `json:"y1"`
	X2     any             `json:"x2"`
	Y2     any             `json:"y2"`
}

type rawPoint struct {
	X any `json:"x"`
	Y any `json:"y"`
	T any `json:"t"`
}

// sanitizeOps validates a client-supplied operation sequence for a full
// state replace. Elements with an unrecognized shape tag, or strokes
// without at least one point, are dropped. Everything else is coerced
// field by field; the caller renumbers via History.ReplaceAll.
func sanitizeOps(raw []json.RawMessage) []Operation {
	now := nowMillis()
	safe := make([]Operation, 0, len(raw))
	for _, element := range raw {
		var in rawOp
		if err := json.Unmarshal(element, &in); err != nil {
			continue
		}

		op := Operation{
			ID:     asString(in.ID, newOpID()),
			Type:   in.Type,
			Mode:   asMode(in.Mode),
			Color:  asString(in.Color, defaultColor),
			Width:  asWidth(in.Width),
			UserID: asString(in.UserID, "import"),
			TS:     asTimestamp(in.TS, now),
		}

		switch in.Type {
		case ShapeStroke:
			points, ok := sanitizePoints(in.Points, now)
			if !ok {
				continue
			}
			op.Points = points
		case ShapeRect, ShapeEllipse:
			op.X = asNumber(in.X)
			op.Y = asNumber(in.Y)
			op.W = asNumber(in.W)
			op.H = asNumber(in.H)
		case ShapeLine:
			op.X1 = asNumber(in.X1)
			op.Y1 = asNumber(in.Y1)
			op.X2 = asNumber(in.X2)
			op.Y2 = asNumber(in.Y2)
		default:
			continue
		}

		safe = append(safe, op)
	}
	return safe
}

func sanitizePoints(raw json.RawMessage, now int64) ([]Point, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var in []rawPoint
	if err := json.Unmarshal(raw, &in); err != nil || len(in) == 0 {
		return nil, false
	}
	points := make([]Point, 0, len(in))
	for _, p := range in {
		points = append(points, Point{
			X: asNumber(p.X),
			Y: asNumber(p.Y),
			T: asTimestamp(p.T, now),
		})
	}
	return points, true
}

func asTimestamp(v any, fallback int64) int64 {
	if n := asNumber(v); n != 0 {
		return int64(n)
	}
	return fallback
}
