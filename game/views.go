package game

import "time"

type RoomView struct {
	ID          string       `json:"id"`
	Code        string       `json:"code"`
	Name        string       `json:"name"`
	HostID      string       `json:"hostId"`
	Status      RoomStatus   `json:"status"`
	Settings    RoomSettings `json:"settings"`
	Players     []Player     `json:"players"`
	HasPassword bool         `json:"hasPassword"`
	GameID      string       `json:"gameId,omitempty"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// RoomSummary is the public listing entry of a room.
type RoomSummary struct {
	Code         string     `json:"code"`
	Name         string     `json:"name"`
	HostUsername string     `json:"hostUsername"`
	Players      int        `json:"players"`
	MaxPlayers   int        `json:"maxPlayers"`
	Rounds       int        `json:"rounds"`
	Difficulty   Difficulty `json:"difficulty"`
	Status       RoomStatus `json:"status"`
	HasPassword  bool       `json:"hasPassword"`
}

type RoundView struct {
	Number           int            `json:"number"`
	DrawerID         string         `json:"drawerId"`
	DrawerUsername   string         `json:"drawerUsername"`
	Phase            RoundPhase     `json:"phase"`
	Word             string         `json:"word,omitempty"`
	Hint             string         `json:"hint"`
	StartedAt        time.Time      `json:"startedAt"`
	Deadline         time.Time      `json:"deadline"`
	EndedAt          *time.Time     `json:"endedAt,omitempty"`
	SecondsRemaining int            `json:"secondsRemaining"`
	TimeUsed         int            `json:"timeUsed"`
	EndReason        EndReason      `json:"endReason,omitempty"`
	Guesses          []Guess        `json:"guesses"`
	Strokes          []Stroke       `json:"strokes"`
	DrawingCompleted bool           `json:"drawingCompleted"`
	StrokeMetadata   StrokeMetadata `json:"strokeMetadata"`
	Complexity       int            `json:"complexity"`
	DominantColor    string         `json:"dominantColor"`
}

type GameView struct {
	ID           string             `json:"id"`
	RoomCode     string             `json:"roomCode"`
	Status       GameStatus         `json:"status"`
	TotalRounds  int                `json:"totalRounds"`
	CurrentRound int                `json:"currentRound"`
	Players      []GamePlayer       `json:"players"`
	Leaderboard  []LeaderboardEntry `json:"leaderboard"`
	Round        *RoundView         `json:"round,omitempty"`
	IsDrawer     bool               `json:"isDrawer"`
	StartedAt    time.Time          `json:"startedAt"`
	FinishedAt   *time.Time         `json:"finishedAt,omitempty"`
}

func (r *Room) view() RoomView {
	v := RoomView{
		ID:          r.ID,
		Code:        r.Code,
		Name:        r.Name,
		HostID:      r.HostID,
		Status:      r.Status,
		Settings:    r.Settings.clone(),
		Players:     make([]Player, len(r.Players)),
		HasPassword: r.HasPassword,
		UpdatedAt:   r.UpdatedAt,
	}
	for i, p := range r.Players {
		v.Players[i] = *p
	}
	if r.Game != nil {
		v.GameID = r.Game.ID
	}
	return v
}

func (r *Room) summary() RoomSummary {
	s := RoomSummary{
		Code:        r.Code,
		Name:        r.Name,
		Players:     len(r.Players),
		MaxPlayers:  r.Settings.MaxPlayers,
		Rounds:      r.Settings.Rounds,
		Difficulty:  r.Settings.Difficulty,
		Status:      r.Status,
		HasPassword: r.HasPassword,
	}
	if host := r.player(r.HostID); host != nil {
		s.HostUsername = host.Username
	}
	return s
}

// view renders the game for one viewer. The word is visible to the drawer
// and to everyone once the round has ended; correct guesses are masked for
// other players while the round runs.
func (g *Game) view(viewerID string, now time.Time) GameView {
	v := GameView{
		ID:           g.ID,
		RoomCode:     g.RoomCode,
		Status:       g.Status,
		TotalRounds:  g.Settings.Rounds,
		CurrentRound: g.CurrentRoundIndex + 1,
		Players:      make([]GamePlayer, len(g.Players)),
		Leaderboard:  g.Leaderboard(),
		StartedAt:    g.StartedAt,
		FinishedAt:   g.FinishedAt,
	}
	for i, p := range g.Players {
		v.Players[i] = *p
	}

	r := g.CurrentRound()
	if r == nil {
		return v
	}
	v.IsDrawer = r.DrawerID == viewerID && r.Phase == PhaseDrawing

	rv := &RoundView{
		Number:           r.Number,
		DrawerID:         r.DrawerID,
		Phase:            r.Phase,
		Hint:             WordHint(r.Word),
		StartedAt:        r.StartedAt,
		Deadline:         r.Deadline,
		EndedAt:          r.EndedAt,
		SecondsRemaining: r.SecondsRemaining(now),
		TimeUsed:         r.TimeUsed,
		EndReason:        r.EndReason,
		Guesses:          make([]Guess, len(r.Guesses)),
	}
	if d := g.player(r.DrawerID); d != nil {
		rv.DrawerUsername = d.Username
	}
	revealed := r.Phase == PhaseEnded || r.DrawerID == viewerID
	if revealed {
		rv.Word = r.Word
	}
	for i, guess := range r.Guesses {
		if guess.Correct && !revealed && guess.UserID != viewerID {
			guess.Text = ""
		}
		rv.Guesses[i] = guess
	}
	if r.Strokes != nil {
		snap := r.Strokes.snapshot()
		rv.Strokes = snap.Strokes
		rv.DrawingCompleted = snap.Completed
		rv.StrokeMetadata = snap.Metadata
		rv.Complexity = r.Strokes.Complexity()
		rv.DominantColor = r.Strokes.DominantColor()
	}
	v.Round = rv
	return v
}
