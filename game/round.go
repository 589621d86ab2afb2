package game

import (
	"time"

	"github.com/armando-rios/pinturillo/domain"
)

type RoundPhase string

const (
	PhaseDrawing RoundPhase = "drawing"
	PhaseEnded   RoundPhase = "ended"
)

type EndReason string

const (
	EndAllGuessed EndReason = "all-guessed"
	EndTimeout    EndReason = "timeout"
	EndDrawerLeft EndReason = "drawer-left"
	EndGameEnded  EndReason = "game-ended"
)

type Guess struct {
	UserID      string    `json:"userId"`
	Username    string    `json:"username"`
	Text        string    `json:"text"`
	SubmittedAt time.Time `json:"submittedAt"`
	Correct     bool      `json:"correct"`
	Points      int       `json:"points"`
}

type Round struct {
	Number    int        `json:"number"`
	DrawerID  string     `json:"drawerId"`
	Word      string     `json:"word"`
	Phase     RoundPhase `json:"phase"`
	StartedAt time.Time  `json:"startedAt"`
	Deadline  time.Time  `json:"deadline"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
	TimeUsed  int        `json:"timeUsed"`
	EndReason EndReason  `json:"endReason,omitempty"`
	Guesses   []Guess    `json:"guesses"`
	Strokes   *StrokeLog `json:"-"`

	limit time.Duration
	timer Timer
}

func beginRound(number int, drawerID, word string, strokes *StrokeLog, now time.Time, limit time.Duration) *Round {
	return &Round{
		Number:    number,
		DrawerID:  drawerID,
		Word:      word,
		Phase:     PhaseDrawing,
		StartedAt: now,
		Deadline:  now.Add(limit),
		Guesses:   []Guess{},
		Strokes:   strokes,
		limit:     limit,
	}
}

func (r *Round) elapsed(now time.Time) time.Duration {
	return min(max(now.Sub(r.StartedAt), 0), r.limit)
}

func (r *Round) SecondsRemaining(now time.Time) int {
	if r.Phase != PhaseDrawing {
		return 0
	}
	left := r.Deadline.Sub(now)
	if left <= 0 {
		return 0
	}
	return int((left + time.Second - 1) / time.Second)
}

func (r *Round) solved(userID string) bool {
	for _, g := range r.Guesses {
		if g.UserID == userID && g.Correct {
			return true
		}
	}
	return false
}

func (r *Round) correctCount() int {
	n := 0
	for _, g := range r.Guesses {
		if g.Correct {
			n++
		}
	}
	return n
}

// checkGuess runs every rejection rule without touching the round.
func (r *Round) checkGuess(userID, text string, now time.Time) error {
	if NormalizeGuess(text) == "" {
		return ErrEmptyGuess
	}
	if userID == r.DrawerID {
		return ErrDrawerGuess
	}
	if r.Phase != PhaseDrawing {
		return ErrRoundNotDrawing
	}
	if !now.Before(r.Deadline) {
		return ErrRoundTimeOver
	}
	if r.solved(userID) {
		return ErrAlreadySolved
	}
	return nil
}

func (r *Round) submitGuess(userID, username, text string, now time.Time) (Guess, error) {
	if err := r.checkGuess(userID, text, now); err != nil {
		return Guess{}, err
	}

	g := Guess{
		UserID:      userID,
		Username:    username,
		Text:        NormalizeGuess(text),
		SubmittedAt: now,
		Correct:     IsCorrectGuess(text, r.Word),
	}
	if g.Correct {
		g.Points = GuessPoints(r.elapsed(now), r.correctCount())
	}
	r.Guesses = append(r.Guesses, g)
	return g, nil
}

// end moves the round to Ended. It reports false when the round had already
// ended, which makes every ending path safe to race.
func (r *Round) end(reason EndReason, at time.Time) bool {
	if r.Phase != PhaseDrawing {
		return false
	}
	if at.After(r.Deadline) {
		at = r.Deadline
	}
	if at.Before(r.StartedAt) {
		at = r.StartedAt
	}

	r.Phase = PhaseEnded
	r.EndedAt = &at
	r.EndReason = reason
	r.TimeUsed = int(at.Sub(r.StartedAt) / time.Second)
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if r.Strokes != nil {
		r.Strokes.freeze(at)
	}
	return true
}

// checkDrawing returns the stroke log when userID may draw at now. Like
// guesses, drawing stops at the deadline even if the timer has not fired.
func (r *Round) checkDrawing(userID string, now time.Time) (*StrokeLog, error) {
	if r.Phase != PhaseDrawing {
		return nil, ErrRoundNotDrawing
	}
	if !now.Before(r.Deadline) {
		return nil, ErrRoundTimeOver
	}
	if r.Strokes == nil {
		return nil, domain.NotFound("stroke-log-not-found")
	}
	if err := r.Strokes.checkWritable(userID); err != nil {
		return nil, err
	}
	return r.Strokes, nil
}

func (r *Round) snapshot() Round {
	c := *r
	c.Guesses = append([]Guess(nil), r.Guesses...)
	if r.EndedAt != nil {
		at := *r.EndedAt
		c.EndedAt = &at
	}
	c.Strokes = nil
	c.timer = nil
	return c
}
