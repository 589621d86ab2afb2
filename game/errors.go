package game

import "github.com/armando-rios/pinturillo/domain"

var (
	ErrRoomNotFound    = domain.NotFound("room-not-found")
	ErrNotInRoom       = domain.NotFound("not-in-room")
	ErrNoGame          = domain.NotFound("no-game")
	ErrRoomFull        = domain.Exhausted("room-full")
	ErrCodesExhausted  = domain.Exhausted("room-code-attempts-exceeded")
	ErrWordPoolEmpty   = domain.Exhausted("word-pool-empty")
	ErrStrokeLimit     = domain.Exhausted("stroke-limit-reached")
	ErrAlreadyInRoom   = domain.Conflict("already-in-room")
	ErrGameActive      = domain.Conflict("game-active")
	ErrNoActiveGame    = domain.Conflict("no-active-game")
	ErrNotEnoughPlayer = domain.Conflict("not-enough-players")
	ErrPlayersNotReady = domain.Conflict("players-not-ready")
	ErrRoundNotDrawing = domain.Conflict("round-not-drawing")
	ErrRoundTimeOver   = domain.Conflict("round-time-over")
	ErrAlreadySolved   = domain.Conflict("already-solved")
	ErrDrawingComplete = domain.Conflict("drawing-completed")
	ErrStrokeLogExists = domain.Conflict("stroke-log-exists")
	ErrNotHost         = domain.Forbidden("not-host")
	ErrNotDrawer       = domain.Forbidden("not-drawer")
	ErrDrawerGuess     = domain.Forbidden("drawer-cannot-guess")
	ErrNotInGame       = domain.Forbidden("not-in-game")
	ErrWrongPassword   = domain.Forbidden("wrong-password")
	ErrEmptyGuess      = domain.Invalid("guess text is required")
)
