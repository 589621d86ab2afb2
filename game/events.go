package game

import "time"

type EventType string

const (
	EventRoomUpdated    EventType = "roomUpdated"
	EventRoomClosed     EventType = "roomClosed"
	EventGameStarted    EventType = "gameStarted"
	EventTurnChanged    EventType = "turnChanged"
	EventStrokeAppended EventType = "strokeAppended"
	EventCanvasCleared  EventType = "canvasCleared"
	EventDrawingDone    EventType = "drawingCompleted"
	EventGuessResult    EventType = "guessResult"
	EventRoundEnded     EventType = "roundEnded"
	EventGameEnded      EventType = "gameEnded"
)

type Event struct {
	Type     EventType `json:"type"`
	RoomCode string    `json:"room"`
	At       time.Time `json:"at"`
	Payload  any       `json:"payload"`
}

// Scope selects the room members an event is delivered to. The zero value
// targets everyone.
type Scope struct {
	Only   string
	Except string
}

func ToAll() Scope                    { return Scope{} }
func ToUser(userID string) Scope      { return Scope{Only: userID} }
func ToAllExcept(userID string) Scope { return Scope{Except: userID} }

func (s Scope) Includes(userID string) bool {
	if s.Only != "" {
		return userID == s.Only
	}
	return userID != s.Except
}

// Broadcaster delivers room events. Implementations must not block: they
// are called from inside the room's command loop.
type Broadcaster interface {
	Broadcast(roomCode string, scope Scope, event Event)
}

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(string, Scope, Event) {}

type RoomUpdatedPayload struct {
	Room RoomView `json:"room"`
}

type RoomClosedPayload struct {
	Code string `json:"code"`
}

type GameStartedPayload struct {
	GameID      string       `json:"gameId"`
	TotalRounds int          `json:"totalRounds"`
	Players     []GamePlayer `json:"players"`
}

type TurnChangedPayload struct {
	Round          int       `json:"round"`
	DrawerID       string    `json:"drawerId"`
	DrawerUsername string    `json:"drawerUsername"`
	Hint           string    `json:"hint"`
	Word           string    `json:"word,omitempty"`
	Deadline       time.Time `json:"deadline"`
}

type StrokeAppendedPayload struct {
	Round  int    `json:"round"`
	Stroke Stroke `json:"stroke"`
}

type CanvasPayload struct {
	Round int `json:"round"`
}

type GuessResultPayload struct {
	PlayerID string `json:"playerId"`
	Username string `json:"username"`
	Correct  bool   `json:"correct"`
	Points   int    `json:"points"`
	Text     string `json:"text,omitempty"`
}

type RoundEndedPayload struct {
	Round       int                `json:"round"`
	Word        string             `json:"word"`
	Reason      EndReason          `json:"reason"`
	TimeUsed    int                `json:"timeUsed"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

type GameEndedPayload struct {
	GameID      string             `json:"gameId"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}
