package game

import (
	"context"
	"errors"
	"net/http"

	"github.com/armando-rios/pinturillo/auth"
	"github.com/armando-rios/pinturillo/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	ErrInvalidRequestFormatStr = "bad-request-format"
	ErrServerTimeoutStr        = "server-timeout"
	ErrUnknownOutcomeStr       = "unknown-outcome"
	ErrUnknownStr              = "unknown-error"
)

type GameHandler struct {
	registry *Registry
	hub      *Hub
	stats    StatsReader
	history  GameHistory
}

// NewGameHandler wires the HTTP adapter. hub and stats are optional.
func NewGameHandler(registry *Registry, hub *Hub, stats StatsReader) *GameHandler {
	return &GameHandler{registry: registry, hub: hub, stats: stats}
}

// WithHistory enables the read-only routes over finished games.
func (h *GameHandler) WithHistory(history GameHistory) *GameHandler {
	h.history = history
	return h
}

// Register mounts the room and game routes on an authenticated group.
func (h *GameHandler) Register(group *gin.RouterGroup) {
	group.GET("/rooms", h.ListRoomsHandler)
	group.POST("/rooms", h.CreateRoomHandler)
	group.GET("/rooms/current", h.RoomStateHandler)
	group.POST("/rooms/:code/join", h.JoinRoomHandler)
	group.POST("/rooms/current/leave", h.LeaveRoomHandler)
	group.POST("/rooms/current/ready", h.ToggleReadyHandler)
	group.PATCH("/rooms/current/settings", h.UpdateSettingsHandler)

	group.POST("/game/start", h.StartGameHandler)
	group.POST("/game/end", h.EndGameHandler)
	group.GET("/game", h.GameStateHandler)
	group.POST("/game/guesses", h.SubmitGuessHandler)
	group.POST("/game/strokes", h.AddStrokeHandler)
	group.POST("/game/canvas/clear", h.ClearCanvasHandler)
	group.POST("/game/canvas/complete", h.CompleteDrawingHandler)

	if h.stats != nil {
		group.GET("/stats/me", h.PlayerStatsHandler)
	}
	if h.history != nil {
		group.GET("/games/:id", h.GameHistoryHandler)
		group.GET("/games/:id/drawings", h.GameDrawingsHandler)
	}
	if h.hub != nil {
		group.GET("/ws", h.hub.ServeWS(h.registry))
	}
}

func identity(ctx *gin.Context) (domain.Identity, bool) {
	id, ok := auth.IdentityFrom(ctx)
	if !ok {
		log.Error().
			Str("ip", ctx.ClientIP()).
			Str("user_agent", ctx.Request.UserAgent()).
			Msg("identity missing on an authenticated route")
		ctx.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": ErrUnknownStr})
	}
	return id, ok
}

// errorStatus maps an error kind to its HTTP status and public code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, domain.ErrValidation.Error()
	case errors.Is(err, domain.ErrAuthorization):
		return http.StatusForbidden, domain.ErrAuthorization.Error()
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, domain.ErrNotFound.Error()
	case errors.Is(err, domain.ErrStateConflict):
		return http.StatusConflict, domain.ErrStateConflict.Error()
	case errors.Is(err, domain.ErrResourceExhausted):
		return http.StatusTooManyRequests, domain.ErrResourceExhausted.Error()
	case errors.Is(err, domain.ErrPersistence):
		return http.StatusServiceUnavailable, ErrUnknownOutcomeStr
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrServerTimeoutStr
	case errors.Is(err, context.Canceled):
		return 499, ""
	}
	return http.StatusInternalServerError, ErrUnknownStr
}

func writeError(ctx *gin.Context, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).
			Str("path", ctx.FullPath()).
			Str("ip", ctx.ClientIP()).
			Msg("request failed")
	}
	if code == "" {
		ctx.AbortWithStatus(status)
		return
	}
	ctx.AbortWithStatusJSON(status, gin.H{"error": code, "detail": err.Error()})
}

func badRequest(ctx *gin.Context) {
	ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": ErrInvalidRequestFormatStr})
}

func (h *GameHandler) ListRoomsHandler(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"rooms": h.registry.ListRooms()})
}

func (h *GameHandler) CreateRoomHandler(ctx *gin.Context) {
	id, ok := identity(ctx)
	if !ok {
		return
	}
	var req CreateRoomRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx)
		return
	}
	room, err := h.registry.CreateRoom(ctx.Request.Context(), id, req)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"room": room})
}

func (h *GameHandler) JoinRoomHandler(ctx *gin.Context) {
	id, ok := identity(ctx)
	if !ok {
		return
	}
	var req struct {
		Password string `json:"password"`
	}
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			badRequest(ctx)
			return
		}
	}
	room, err := h.registry.JoinRoom(ctx.Request.Context(), ctx.Param("code"), id, req.Password)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"room": room})
}

func (h *GameHandler) LeaveRoomHandler(ctx *gin.Context) {
	id, ok := identity(ctx)
	if !ok {
		return
	}
	code, _ := h.registry.RoomOf(id.UserID)
	err := h.registry.LeaveRoom(ctx.Request.Context(), id.UserID)
	if err == nil || errors.Is(err, domain.ErrPersistence) {
		h.detach(code, id.UserID)
	}
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (h *GameHandler) detach(code, userID string) {
	if h.hub != nil && code != "" {
		h.hub.Detach(code, userID)
	}
}

func (h *GameHandler) ToggleReadyHandler(ctx *gin.Context) {
	id, ok := identity(ctx)
	if !ok {
		return
	}
	ready, err := h.registry.ToggleReady(ctx.Request.Context(), id.UserID)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"ready": ready})
}

func (h *GameHandler) UpdateSettingsHandler(ctx *gin.Context) {
	id, ok := identity(ctx)
	if !ok {
		return
	}
	var patch SettingsPatch
	if err := ctx.ShouldBindJSON(&patch); err != nil {
		badRequest(ctx)
		return
	}
	settings, err := h.registry.UpdateSettings(ctx.Request.Context(), id.UserID, patch)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"settings": settings})
}

func (h *GameHandler) RoomStateHandler(ctx *gin.Context) {
	id, ok := identity(ctx)
	if !ok {
		return
	}
	room, err := h.registry.GetRoomState(ctx.Request.Context(), id.UserID)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"room": room})
}

func (h *GameHandler) StartGameHandler(ctx *gin.Context) {
	id, ok := identity(ctx)
	if !ok {
		return
	}
	game, err := h.registry.StartGame(ctx.Request.Context(), id.UserID)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"game": game})
}

func (h *GameHandler) EndGameHandler(ctx *gin.Context) {
	id, ok := identity(ctx)
	if !ok {
		return
	}
	if err := h.registry.EndGame(ctx.Request.Context(), id.UserID); err != nil {
		writeError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (h *GameHandler) GameStateHandler(ctx *gin.Context) {
	id, ok := identity(ctx)
	if !ok {
		return
	}
	game, err := h.registry.GetGameState(ctx.Request.Context(), id.UserID)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"game": game})
}

func (h *GameHandler) SubmitGuessHandler(ctx *gin.Context) {
	id, ok := identity(ctx)
	if !ok {
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx)
		return
	}
	guess, err := h.registry.SubmitGuess(ctx.Request.Context(), id.UserID, req.Text)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"correct": guess.Correct, "points": guess.Points})
}

func (h *GameHandler) AddStrokeHandler(ctx *gin.Context) {
	id, ok := identity(ctx)
	if !ok {
		return
	}
	var in StrokeInput
	if err := ctx.ShouldBindJSON(&in); err != nil {
		if errors.Is(err, domain.ErrValidation) {
			writeError(ctx, err)
			return
		}
		badRequest(ctx)
		return
	}
	stroke, err := h.registry.AddStroke(ctx.Request.Context(), id.UserID, in)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"stroke": stroke})
}

func (h *GameHandler) ClearCanvasHandler(ctx *gin.Context) {
	id, ok := identity(ctx)
	if !ok {
		return
	}
	if err := h.registry.ClearCanvas(ctx.Request.Context(), id.UserID); err != nil {
		writeError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (h *GameHandler) CompleteDrawingHandler(ctx *gin.Context) {
	id, ok := identity(ctx)
	if !ok {
		return
	}
	if err := h.registry.CompleteDrawing(ctx.Request.Context(), id.UserID); err != nil {
		writeError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (h *GameHandler) PlayerStatsHandler(ctx *gin.Context) {
	id, ok := identity(ctx)
	if !ok {
		return
	}
	stats, err := h.stats.PlayerStats(ctx.Request.Context(), id.UserID)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"stats": stats})
}

// finishedGame loads a game the user played in. Running games are served by
// GameStateHandler, which hides the word from guessers.
func (h *GameHandler) finishedGame(ctx context.Context, userID, gameID string) (Game, error) {
	g, _, err := h.history.LoadGame(ctx, gameID)
	if err != nil {
		return Game{}, err
	}
	if g.player(userID) == nil {
		return Game{}, ErrNotInGame
	}
	if g.Status != GameFinished {
		return Game{}, ErrGameActive
	}
	return g, nil
}

func (h *GameHandler) GameHistoryHandler(ctx *gin.Context) {
	id, ok := identity(ctx)
	if !ok {
		return
	}
	g, err := h.finishedGame(ctx.Request.Context(), id.UserID, ctx.Param("id"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"game": g, "leaderboard": g.Leaderboard()})
}

func (h *GameHandler) GameDrawingsHandler(ctx *gin.Context) {
	id, ok := identity(ctx)
	if !ok {
		return
	}
	g, err := h.finishedGame(ctx.Request.Context(), id.UserID, ctx.Param("id"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	logs, err := h.history.LoadStrokeLogs(ctx.Request.Context(), g.ID)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"drawings": logs})
}
