package game

import (
	"sort"
	"time"
)

type GameStatus string

const (
	GameActive   GameStatus = "active"
	GameFinished GameStatus = "finished"
)

type GamePlayer struct {
	UserID         string `json:"userId"`
	Username       string `json:"username"`
	Score          int    `json:"score"`
	CorrectGuesses int    `json:"correctGuesses"`
	HasDrawn       bool   `json:"hasDrawn"`
	Connected      bool   `json:"connected"`
	JoinOrder      int    `json:"joinOrder"`
}

type LeaderboardEntry struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Score    int    `json:"score"`
	Position int    `json:"position"`
}

type Game struct {
	ID                string        `json:"id"`
	RoomCode          string        `json:"roomCode"`
	Status            GameStatus    `json:"status"`
	Settings          RoomSettings  `json:"settings"`
	Players           []*GamePlayer `json:"players"`
	Rounds            []*Round      `json:"rounds"`
	CurrentRoundIndex int           `json:"currentRoundIndex"`
	StartedAt         time.Time     `json:"startedAt"`
	FinishedAt        *time.Time    `json:"finishedAt,omitempty"`

	words      *WordPool
	strokeLogs map[int]*StrokeLog
}

// newGame snapshots the connected players in join order.
func newGame(id, roomCode string, players []*Player, settings RoomSettings, words *WordPool, now time.Time) *Game {
	g := &Game{
		ID:                id,
		RoomCode:          roomCode,
		Status:            GameActive,
		Settings:          settings.clone(),
		Rounds:            []*Round{},
		CurrentRoundIndex: -1,
		StartedAt:         now,
		words:             words,
		strokeLogs:        map[int]*StrokeLog{},
	}
	for _, p := range players {
		if !p.Connected {
			continue
		}
		g.Players = append(g.Players, &GamePlayer{
			UserID:    p.UserID,
			Username:  p.Username,
			Connected: true,
			JoinOrder: p.joinSeq,
		})
	}
	return g
}

func (g *Game) player(userID string) *GamePlayer {
	for _, p := range g.Players {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

func (g *Game) CurrentRound() *Round {
	if g.CurrentRoundIndex < 0 || g.CurrentRoundIndex >= len(g.Rounds) {
		return nil
	}
	return g.Rounds[g.CurrentRoundIndex]
}

func (g *Game) connectedCount() int {
	n := 0
	for _, p := range g.Players {
		if p.Connected {
			n++
		}
	}
	return n
}

func (g *Game) roundsLeft() bool {
	return len(g.Rounds) < g.Settings.Rounds
}

// nextDrawer picks the first connected player who has not drawn yet. When
// everyone connected has drawn, the flags reset and rotation restarts.
func (g *Game) nextDrawer() *GamePlayer {
	for _, p := range g.Players {
		if p.Connected && !p.HasDrawn {
			return p
		}
	}
	for _, p := range g.Players {
		p.HasDrawn = false
	}
	for _, p := range g.Players {
		if p.Connected {
			return p
		}
	}
	return nil
}

func (g *Game) openStrokeLog(round int, drawerID string, now time.Time) (*StrokeLog, error) {
	if _, exists := g.strokeLogs[round]; exists {
		return nil, ErrStrokeLogExists
	}
	l := newStrokeLog(g.ID, round, drawerID, now)
	g.strokeLogs[round] = l
	return l, nil
}

// startNextRound draws the next word and drawer and opens the round. The
// caller arms the round timer.
func (g *Game) startNextRound(now time.Time) (*Round, error) {
	if g.words.Remaining() == 0 {
		return nil, ErrWordPoolEmpty
	}
	drawer := g.nextDrawer()
	if drawer == nil {
		return nil, ErrNotEnoughPlayer
	}
	number := len(g.Rounds) + 1
	strokes, err := g.openStrokeLog(number, drawer.UserID, now)
	if err != nil {
		return nil, err
	}
	word, err := g.words.Pop()
	if err != nil {
		return nil, err
	}

	drawer.HasDrawn = true
	r := beginRound(number, drawer.UserID, word, strokes, now, g.Settings.DrawingDuration())
	g.Rounds = append(g.Rounds, r)
	g.CurrentRoundIndex = len(g.Rounds) - 1
	return r, nil
}

func (g *Game) submitGuess(userID, text string, now time.Time) (Guess, error) {
	if g.Status != GameActive {
		return Guess{}, ErrNoActiveGame
	}
	p := g.player(userID)
	if p == nil {
		return Guess{}, ErrNotInGame
	}
	r := g.CurrentRound()
	if r == nil {
		return Guess{}, ErrRoundNotDrawing
	}

	guess, err := r.submitGuess(p.UserID, p.Username, text, now)
	if err != nil {
		return Guess{}, err
	}
	if guess.Correct {
		p.Score += guess.Points
		p.CorrectGuesses++
	}
	return guess, nil
}

// allGuessed reports whether every connected player other than the drawer
// has solved the current round.
func (g *Game) allGuessed() bool {
	r := g.CurrentRound()
	if r == nil {
		return false
	}
	for _, p := range g.Players {
		if !p.Connected || p.UserID == r.DrawerID {
			continue
		}
		if !r.solved(p.UserID) {
			return false
		}
	}
	return true
}

func (g *Game) finish(now time.Time) {
	g.Status = GameFinished
	g.FinishedAt = &now
}

// Leaderboard ranks connected players by score. Equal scores keep join
// order.
func (g *Game) Leaderboard() []LeaderboardEntry {
	players := make([]*GamePlayer, 0, len(g.Players))
	for _, p := range g.Players {
		if p.Connected {
			players = append(players, p)
		}
	}
	sort.SliceStable(players, func(i, j int) bool {
		if players[i].Score != players[j].Score {
			return players[i].Score > players[j].Score
		}
		return players[i].JoinOrder < players[j].JoinOrder
	})

	board := make([]LeaderboardEntry, len(players))
	for i, p := range players {
		board[i] = LeaderboardEntry{
			UserID:   p.UserID,
			Username: p.Username,
			Score:    p.Score,
			Position: i + 1,
		}
	}
	return board
}

func (g *Game) snapshot() Game {
	c := *g
	c.Settings = g.Settings.clone()
	c.Players = make([]*GamePlayer, len(g.Players))
	for i, p := range g.Players {
		pc := *p
		c.Players[i] = &pc
	}
	c.Rounds = make([]*Round, len(g.Rounds))
	for i, r := range g.Rounds {
		rc := r.snapshot()
		c.Rounds[i] = &rc
	}
	if g.FinishedAt != nil {
		at := *g.FinishedAt
		c.FinishedAt = &at
	}
	c.words = nil
	c.strokeLogs = nil
	return c
}
