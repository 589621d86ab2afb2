package game

import (
	"time"

	"github.com/armando-rios/pinturillo/domain"
)

type RoomStatus string

const (
	RoomWaiting  RoomStatus = "waiting"
	RoomPlaying  RoomStatus = "playing"
	RoomFinished RoomStatus = "finished"
)

type Player struct {
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Connected bool      `json:"connected"`
	Ready     bool      `json:"ready"`
	Score     int       `json:"score"`
	JoinedAt  time.Time `json:"joinedAt"`

	joinSeq int
}

type Room struct {
	ID          string       `json:"id"`
	Code        string       `json:"code"`
	Name        string       `json:"name"`
	HostID      string       `json:"hostId"`
	Players     []*Player    `json:"players"`
	Settings    RoomSettings `json:"settings"`
	Status      RoomStatus   `json:"status"`
	HasPassword bool         `json:"hasPassword"`
	GameHistory []string     `json:"gameHistory"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`

	// Game is the active game, or the last finished one.
	Game *Game `json:"-"`

	nextSeq int
}

func newRoom(id, code, name string, host domain.Identity, settings RoomSettings, hasPassword bool, now time.Time) *Room {
	r := &Room{
		ID:          id,
		Code:        code,
		Name:        name,
		HostID:      host.UserID,
		Settings:    settings,
		Status:      RoomWaiting,
		HasPassword: hasPassword,
		GameHistory: []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.appendPlayer(host, now)
	return r
}

func (r *Room) appendPlayer(identity domain.Identity, now time.Time) *Player {
	r.nextSeq++
	p := &Player{
		UserID:    identity.UserID,
		Username:  identity.Username,
		Connected: true,
		JoinedAt:  now,
		joinSeq:   r.nextSeq,
	}
	r.Players = append(r.Players, p)
	return p
}

func (r *Room) player(userID string) *Player {
	for _, p := range r.Players {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

func (r *Room) activeGame() *Game {
	if r.Game != nil && r.Game.Status == GameActive {
		return r.Game
	}
	return nil
}

func (r *Room) connectedPlayers() []*Player {
	var out []*Player
	for _, p := range r.Players {
		if p.Connected {
			out = append(out, p)
		}
	}
	return out
}

func (r *Room) addPlayer(identity domain.Identity, now time.Time) error {
	if r.player(identity.UserID) != nil {
		return ErrAlreadyInRoom
	}
	if r.activeGame() != nil {
		return ErrGameActive
	}
	if len(r.Players) >= r.Settings.MaxPlayers {
		return ErrRoomFull
	}
	r.appendPlayer(identity, now)
	r.UpdatedAt = now
	return nil
}

// removePlayer drops the player and hands the host role over when needed.
// It reports whether the host changed.
func (r *Room) removePlayer(userID string, now time.Time) (bool, error) {
	idx := -1
	for i, p := range r.Players {
		if p.UserID == userID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, ErrNotInRoom
	}
	r.Players = append(r.Players[:idx], r.Players[idx+1:]...)
	r.UpdatedAt = now

	if r.HostID != userID {
		return false, nil
	}
	r.HostID = ""
	for _, p := range r.Players {
		if p.Connected {
			r.HostID = p.UserID
			return true, nil
		}
	}
	if len(r.Players) > 0 {
		r.HostID = r.Players[0].UserID
	}
	return true, nil
}

func (r *Room) toggleReady(userID string, now time.Time) (bool, error) {
	p := r.player(userID)
	if p == nil {
		return false, ErrNotInRoom
	}
	if r.activeGame() != nil {
		return false, ErrGameActive
	}
	p.Ready = !p.Ready
	r.UpdatedAt = now
	return p.Ready, nil
}

func (r *Room) updateSettings(userID string, patch SettingsPatch, now time.Time) error {
	if r.player(userID) == nil {
		return ErrNotInRoom
	}
	if r.HostID != userID {
		return ErrNotHost
	}
	if r.activeGame() != nil {
		return ErrGameActive
	}
	next, err := r.Settings.apply(patch, len(r.Players))
	if err != nil {
		return err
	}
	r.Settings = next
	r.UpdatedAt = now
	return nil
}

func (r *Room) setConnected(userID string, connected bool, now time.Time) error {
	p := r.player(userID)
	if p == nil {
		return ErrNotInRoom
	}
	p.Connected = connected
	r.UpdatedAt = now
	if g := r.activeGame(); g != nil {
		if gp := g.player(userID); gp != nil {
			gp.Connected = connected
		}
	}
	return nil
}

// checkStart validates a start request without changing anything.
func (r *Room) checkStart(userID string) error {
	if r.player(userID) == nil {
		return ErrNotInRoom
	}
	if r.HostID != userID {
		return ErrNotHost
	}
	if r.activeGame() != nil {
		return ErrGameActive
	}
	connected := r.connectedPlayers()
	if len(connected) < MinPlayers {
		return ErrNotEnoughPlayer
	}
	for _, p := range connected {
		if !p.Ready {
			return ErrPlayersNotReady
		}
	}
	return nil
}

func (r *Room) attachGame(g *Game, now time.Time) {
	r.Game = g
	r.Status = RoomPlaying
	r.GameHistory = append(r.GameHistory, g.ID)
	for _, p := range r.Players {
		p.Score = 0
	}
	r.UpdatedAt = now
}

// syncScores copies the game's running scores into the room players.
func (r *Room) syncScores() {
	if r.Game == nil {
		return
	}
	for _, p := range r.Players {
		if gp := r.Game.player(p.UserID); gp != nil {
			p.Score = gp.Score
		}
	}
}

// settle copies final scores back and returns the room to waiting.
func (r *Room) settle(now time.Time) {
	r.syncScores()
	for _, p := range r.Players {
		p.Ready = false
	}
	if len(r.Players) == 0 {
		r.Status = RoomFinished
	} else {
		r.Status = RoomWaiting
	}
	r.UpdatedAt = now
}

func (r *Room) snapshot() Room {
	c := *r
	c.Settings = r.Settings.clone()
	c.Players = make([]*Player, len(r.Players))
	for i, p := range r.Players {
		pc := *p
		c.Players[i] = &pc
	}
	c.GameHistory = append([]string(nil), r.GameHistory...)
	c.Game = nil
	return c
}
