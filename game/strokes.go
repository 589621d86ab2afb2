package game

import (
	"bytes"
	"encoding/json"
	"math"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/armando-rios/pinturillo/domain"
)

type Tool string

const (
	ToolPen         Tool = "pen"
	ToolEraser      Tool = "eraser"
	ToolHighlighter Tool = "highlighter"
)

const (
	defaultStrokeSize    = 2
	minStrokeSize        = 1
	maxStrokeSize        = 50
	maxPointsPerStroke   = 2000
	maxStrokesPerLog     = 5000
	defaultStrokeColor   = "#000000"
	complexityStrokeNorm = 50.0
	complexityPointNorm  = 1000.0
	complexityToolNorm   = 3.0
	complexityColorNorm  = 5.0
)

var colorPattern = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// Coord accepts either a JSON number or a numeric string.
type Coord float64

func (c *Coord) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return domain.Invalid("coordinate is not a number")
		}
		data = []byte(s)
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return domain.Invalid("coordinate %q is not a number", string(data))
	}
	*c = Coord(v)
	return nil
}

type PointInput struct {
	X         Coord      `json:"x"`
	Y         Coord      `json:"y"`
	Pressure  *float64   `json:"pressure,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// StrokeInput is what a drawer submits. Missing optional fields take their
// defaults when the stroke is built.
type StrokeInput struct {
	Tool      Tool         `json:"tool"`
	Color     string       `json:"color"`
	Size      *float64     `json:"size,omitempty"`
	Opacity   *float64     `json:"opacity,omitempty"`
	Points    []PointInput `json:"points"`
	Completed *bool        `json:"completed,omitempty"`
}

type Point struct {
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Pressure  float64   `json:"pressure"`
	Timestamp time.Time `json:"timestamp"`
}

type Stroke struct {
	ID        string    `json:"id"`
	Tool      Tool      `json:"tool"`
	Color     string    `json:"color"`
	Size      float64   `json:"size"`
	Opacity   float64   `json:"opacity"`
	Points    []Point   `json:"points"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"createdAt"`
}

type StrokeMetadata struct {
	TotalStrokes        int            `json:"totalStrokes"`
	TotalPoints         int            `json:"totalPoints"`
	ToolUsage           map[Tool]int   `json:"toolUsage"`
	ColorUsage          map[string]int `json:"colorUsage"`
	AverageStrokeLength float64        `json:"averageStrokeLength"`
	DurationSeconds     int            `json:"durationSeconds"`
}

func (in StrokeInput) build(id string, now time.Time) (Stroke, error) {
	switch in.Tool {
	case ToolPen, ToolEraser, ToolHighlighter:
	default:
		return Stroke{}, domain.Invalid("tool must be one of pen, eraser, highlighter")
	}

	color := in.Color
	if color == "" {
		color = defaultStrokeColor
	}
	if !colorPattern.MatchString(color) {
		return Stroke{}, domain.Invalid("color %q must be #RGB or #RRGGBB", in.Color)
	}

	size := float64(defaultStrokeSize)
	if in.Size != nil {
		size = *in.Size
	}
	if size < minStrokeSize || size > maxStrokeSize {
		return Stroke{}, domain.Invalid("size must be between %d and %d", minStrokeSize, maxStrokeSize)
	}

	opacity := 1.0
	if in.Opacity != nil {
		opacity = *in.Opacity
	}
	if opacity < 0 || opacity > 1 {
		return Stroke{}, domain.Invalid("opacity must be between 0 and 1")
	}

	if len(in.Points) == 0 {
		return Stroke{}, domain.Invalid("stroke must contain at least one point")
	}
	if len(in.Points) > maxPointsPerStroke {
		return Stroke{}, domain.Invalid("stroke cannot contain more than %d points", maxPointsPerStroke)
	}

	points := make([]Point, len(in.Points))
	for i, p := range in.Points {
		pressure := 1.0
		if p.Pressure != nil {
			pressure = min(max(*p.Pressure, 0), 1)
		}
		ts := now
		if p.Timestamp != nil {
			ts = *p.Timestamp
		}
		points[i] = Point{X: float64(p.X), Y: float64(p.Y), Pressure: pressure, Timestamp: ts}
	}

	completed := true
	if in.Completed != nil {
		completed = *in.Completed
	}

	return Stroke{
		ID:        id,
		Tool:      in.Tool,
		Color:     color,
		Size:      size,
		Opacity:   opacity,
		Points:    points,
		Completed: completed,
		CreatedAt: now,
	}, nil
}

// StrokeLog is the append-only drawing record of one round. Metadata is
// recomputed from the strokes after every mutation.
type StrokeLog struct {
	GameID      string         `json:"gameId"`
	RoundNumber int            `json:"roundNumber"`
	DrawerID    string         `json:"drawerId"`
	Strokes     []Stroke       `json:"strokes"`
	Completed   bool           `json:"completed"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
	Metadata    StrokeMetadata `json:"metadata"`
	seq         int
}

func newStrokeLog(gameID string, round int, drawerID string, now time.Time) *StrokeLog {
	l := &StrokeLog{
		GameID:      gameID,
		RoundNumber: round,
		DrawerID:    drawerID,
		Strokes:     []Stroke{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	l.recompute()
	return l
}

func (l *StrokeLog) checkWritable(userID string) error {
	if userID != l.DrawerID {
		return ErrNotDrawer
	}
	if l.Completed {
		return ErrDrawingComplete
	}
	return nil
}

func (l *StrokeLog) add(userID string, in StrokeInput, now time.Time) (Stroke, error) {
	if err := l.checkWritable(userID); err != nil {
		return Stroke{}, err
	}
	if len(l.Strokes) >= maxStrokesPerLog {
		return Stroke{}, ErrStrokeLimit
	}
	stroke, err := in.build("s"+strconv.Itoa(l.seq+1), now)
	if err != nil {
		return Stroke{}, err
	}

	l.seq++
	l.Strokes = append(l.Strokes, stroke)
	l.UpdatedAt = now
	l.recompute()
	return stroke, nil
}

func (l *StrokeLog) clear(userID string, now time.Time) error {
	if err := l.checkWritable(userID); err != nil {
		return err
	}
	l.Strokes = []Stroke{}
	l.UpdatedAt = now
	l.recompute()
	return nil
}

func (l *StrokeLog) complete(userID string, now time.Time) error {
	if err := l.checkWritable(userID); err != nil {
		return err
	}
	l.freeze(now)
	return nil
}

// freeze closes the log without an ownership check. Called when the round
// ends; a log that is already completed is left as is.
func (l *StrokeLog) freeze(now time.Time) {
	if l.Completed {
		return
	}
	l.Completed = true
	l.CompletedAt = &now
	l.UpdatedAt = now
	l.recompute()
}

func (l *StrokeLog) recompute() {
	md := StrokeMetadata{
		ToolUsage:  map[Tool]int{},
		ColorUsage: map[string]int{},
	}
	for _, s := range l.Strokes {
		md.TotalStrokes++
		md.TotalPoints += len(s.Points)
		md.ToolUsage[s.Tool]++
		md.ColorUsage[s.Color]++
	}
	if md.TotalStrokes > 0 {
		md.AverageStrokeLength = float64(md.TotalPoints) / float64(md.TotalStrokes)
	}
	end := l.UpdatedAt
	if l.CompletedAt != nil {
		end = *l.CompletedAt
	}
	if d := end.Sub(l.CreatedAt); d > 0 {
		md.DurationSeconds = int(d / time.Second)
	}
	l.Metadata = md
}

// Complexity scores the drawing from 0 to 100 by averaging four normalized
// measures: stroke count, point count, tool variety and color variety.
func (l *StrokeLog) Complexity() int {
	md := l.Metadata
	strokes := float64(md.TotalStrokes) / complexityStrokeNorm
	points := float64(md.TotalPoints) / complexityPointNorm
	tools := float64(len(md.ToolUsage)) / complexityToolNorm
	colors := float64(len(md.ColorUsage)) / complexityColorNorm

	score := math.Round((strokes + points + tools + colors) / 4 * 100)
	return int(min(score, 100))
}

// DominantColor is the most used color. Ties resolve to the
// lexicographically smallest color so the result is stable.
func (l *StrokeLog) DominantColor() string {
	if len(l.Metadata.ColorUsage) == 0 {
		return defaultStrokeColor
	}
	colors := make([]string, 0, len(l.Metadata.ColorUsage))
	for c := range l.Metadata.ColorUsage {
		colors = append(colors, c)
	}
	sort.Strings(colors)

	best := colors[0]
	for _, c := range colors[1:] {
		if l.Metadata.ColorUsage[c] > l.Metadata.ColorUsage[best] {
			best = c
		}
	}
	return best
}

func (l *StrokeLog) snapshot() StrokeLog {
	c := *l
	c.Strokes = make([]Stroke, len(l.Strokes))
	for i, s := range l.Strokes {
		s.Points = append([]Point(nil), s.Points...)
		c.Strokes[i] = s
	}
	if l.CompletedAt != nil {
		at := *l.CompletedAt
		c.CompletedAt = &at
	}
	c.Metadata.ToolUsage = make(map[Tool]int, len(l.Metadata.ToolUsage))
	for k, v := range l.Metadata.ToolUsage {
		c.Metadata.ToolUsage[k] = v
	}
	c.Metadata.ColorUsage = make(map[string]int, len(l.Metadata.ColorUsage))
	for k, v := range l.Metadata.ColorUsage {
		c.Metadata.ColorUsage[k] = v
	}
	return c
}
