package game

import (
	"context"
	"time"
)

// StartGame builds the word pool outside the room, then starts the game
// if the room still matches the settings the pool was built for.
func (reg *Registry) StartGame(ctx context.Context, userID string) (GameView, error) {
	a, _, err := reg.actorOf(userID)
	if err != nil {
		return GameView{}, err
	}

	var settings RoomSettings
	if _, err := a.do(ctx, func(time.Time) error {
		if err := a.room.checkStart(userID); err != nil {
			return err
		}
		settings = a.room.Settings.clone()
		return nil
	}); err != nil {
		return GameView{}, err
	}

	words, err := reg.catalog.Words(ctx, settings.Difficulty)
	if err != nil {
		return GameView{}, err
	}
	pool := NewWordPool(words, settings.CustomWords, reg.shuffle)
	if pool.Remaining() < settings.Rounds {
		return GameView{}, ErrWordPoolEmpty
	}

	gameID := reg.newID()
	var view GameView
	c, err := a.do(ctx, func(now time.Time) error {
		if err := a.startGame(userID, gameID, settings, pool, now); err != nil {
			return err
		}
		view = a.room.Game.view(userID, now)
		return nil
	})
	if err != nil {
		return GameView{}, err
	}

	reg.log.Info().Str("room", a.code).Str("game", gameID).Msg("game started")
	return view, reg.persist(ctx, c)
}

func (reg *Registry) EndGame(ctx context.Context, userID string) error {
	return reg.exec(ctx, userID, func(a *roomActor, now time.Time) error {
		return a.endGame(userID, now)
	})
}

func (reg *Registry) SubmitGuess(ctx context.Context, userID, text string) (Guess, error) {
	var guess Guess
	err := reg.exec(ctx, userID, func(a *roomActor, now time.Time) error {
		var err error
		guess, err = a.guess(userID, text, now)
		return err
	})
	return guess, err
}

func (reg *Registry) AddStroke(ctx context.Context, userID string, in StrokeInput) (Stroke, error) {
	var stroke Stroke
	err := reg.exec(ctx, userID, func(a *roomActor, now time.Time) error {
		var err error
		stroke, err = a.addStroke(userID, in, now)
		return err
	})
	return stroke, err
}

func (reg *Registry) ClearCanvas(ctx context.Context, userID string) error {
	return reg.exec(ctx, userID, func(a *roomActor, now time.Time) error {
		return a.clearCanvas(userID, now)
	})
}

func (reg *Registry) CompleteDrawing(ctx context.Context, userID string) error {
	return reg.exec(ctx, userID, func(a *roomActor, now time.Time) error {
		return a.completeDrawing(userID, now)
	})
}

func (reg *Registry) GetGameState(ctx context.Context, userID string) (GameView, error) {
	var view GameView
	err := reg.exec(ctx, userID, func(a *roomActor, now time.Time) error {
		var err error
		view, err = a.gameState(userID, now)
		return err
	})
	return view, err
}
