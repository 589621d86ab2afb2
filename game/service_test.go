package game

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/armando-rios/pinturillo/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func penStroke(points ...PointInput) StrokeInput {
	if len(points) == 0 {
		points = []PointInput{{X: 10, Y: 10}, {X: 20, Y: 25}}
	}
	return StrokeInput{Tool: ToolPen, Color: "#ff0000", Points: points}
}

func TestFullGame(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	start := h.game(t, 2, alice, bob, carol)
	require.NotNil(t, start.Round)
	assert.Equal(t, 1, start.CurrentRound)
	assert.Equal(t, alice.UserID, start.Round.DrawerID)
	assert.Equal(t, "casa", start.Round.Word, "host is the first drawer and sees the word")
	assert.True(t, start.IsDrawer)

	h.clock.Skip(10 * time.Second)
	guess, err := h.reg.SubmitGuess(ctx, bob.UserID, "  CASA ")
	require.NoError(t, err)
	assert.True(t, guess.Correct)
	assert.Equal(t, 95, guess.Points)

	h.clock.Skip(4 * time.Second)
	guess, err = h.reg.SubmitGuess(ctx, carol.UserID, "casa")
	require.NoError(t, err)
	assert.Equal(t, 83, guess.Points)

	ended := h.events.ofType(EventRoundEnded)
	require.Len(t, ended, 1)
	first := ended[0].event.Payload.(RoundEndedPayload)
	assert.Equal(t, 1, first.Round)
	assert.Equal(t, "casa", first.Word)
	assert.Equal(t, EndAllGuessed, first.Reason)
	assert.Equal(t, 14, first.TimeUsed)

	view := h.state(t, carol)
	assert.Equal(t, 2, view.CurrentRound)
	require.NotNil(t, view.Round)
	assert.Equal(t, bob.UserID, view.Round.DrawerID)
	assert.Empty(t, view.Round.Word)
	assert.Equal(t, "pe___", view.Round.Hint)
	assert.Equal(t, 1, h.clock.pending(), "only the live round has a timer")

	h.clock.Advance(60 * time.Second)

	ended = h.events.ofType(EventRoundEnded)
	require.Len(t, ended, 2)
	second := ended[1].event.Payload.(RoundEndedPayload)
	assert.Equal(t, EndTimeout, second.Reason)
	assert.Equal(t, 60, second.TimeUsed)
	assert.Equal(t, "perro", second.Word)

	games := h.events.ofType(EventGameEnded)
	require.Len(t, games, 1)
	board := games[0].event.Payload.(GameEndedPayload).Leaderboard
	assert.Equal(t, []LeaderboardEntry{
		{UserID: bob.UserID, Username: "bob", Score: 95, Position: 1},
		{UserID: carol.UserID, Username: "carol", Score: 83, Position: 2},
		{UserID: alice.UserID, Username: "alice", Score: 0, Position: 3},
	}, board)

	final := h.state(t, alice)
	assert.Equal(t, GameFinished, final.Status)
	require.NotNil(t, final.FinishedAt)
	assert.Equal(t, testEpoch.Add(74*time.Second), *final.FinishedAt)
	assert.Equal(t, "perro", final.Round.Word, "ended rounds reveal the word")

	room, err := h.reg.GetRoomState(ctx, alice.UserID)
	require.NoError(t, err)
	assert.Equal(t, RoomWaiting, room.Status)
	for _, p := range room.Players {
		assert.False(t, p.Ready, p.UserID)
	}
	assert.Equal(t, 95, room.Players[1].Score)

	h.stats.AssertNumberOfCalls(t, "RecordGame", 1)
	h.stats.AssertCalled(t, "RecordGame", mock.Anything, start.ID, board)
	assert.Zero(t, h.clock.pending())

	// a new game can start from the same room
	h.readyAll(t, alice, bob, carol)
	again, err := h.reg.StartGame(ctx, alice.UserID)
	require.NoError(t, err)
	assert.NotEqual(t, start.ID, again.ID)
}

func TestTurnChangedRevealsWordOnlyToDrawer(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.game(t, 3, alice, bob, carol)

	drawer := h.events.deliveredTo(alice.UserID, EventTurnChanged)
	require.Len(t, drawer, 1)
	assert.Equal(t, "casa", drawer[0].Payload.(TurnChangedPayload).Word)

	for _, u := range []domain.Identity{bob, carol} {
		got := h.events.deliveredTo(u.UserID, EventTurnChanged)
		require.Len(t, got, 1, u.UserID)
		payload := got[0].Payload.(TurnChangedPayload)
		assert.Empty(t, payload.Word)
		assert.Equal(t, "ca__", payload.Hint)
		assert.Equal(t, "alice", payload.DrawerUsername)
		assert.Equal(t, testEpoch.Add(time.Minute), payload.Deadline)
	}
}

func TestStartGameRejections(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("alone", func(t *testing.T) {
		h := newHarness(t)
		h.room(t, alice)
		h.readyAll(t, alice)
		_, err := h.reg.StartGame(ctx, alice.UserID)
		assert.ErrorIs(t, err, ErrNotEnoughPlayer)
	})

	t.Run("not host", func(t *testing.T) {
		h := newHarness(t)
		h.room(t, alice, bob)
		h.readyAll(t, alice, bob)
		_, err := h.reg.StartGame(ctx, bob.UserID)
		assert.ErrorIs(t, err, ErrNotHost)
	})

	t.Run("not ready", func(t *testing.T) {
		h := newHarness(t)
		h.room(t, alice, bob)
		h.readyAll(t, alice)
		_, err := h.reg.StartGame(ctx, alice.UserID)
		assert.ErrorIs(t, err, ErrPlayersNotReady)
	})

	t.Run("disconnected players do not need to be ready", func(t *testing.T) {
		h := newHarness(t)
		h.room(t, alice, bob, carol)
		h.readyAll(t, alice, bob)
		require.NoError(t, h.reg.SetConnected(ctx, carol.UserID, false))
		view, err := h.reg.StartGame(ctx, alice.UserID)
		require.NoError(t, err)
		assert.Len(t, view.Players, 2)
	})

	t.Run("word pool too small", func(t *testing.T) {
		h := newHarness(t, func(o *Options) { o.Catalog = staticCatalog{"uno", "dos"} })
		h.room(t, alice, bob)
		h.readyAll(t, alice, bob)
		_, err := h.reg.StartGame(ctx, alice.UserID)
		assert.ErrorIs(t, err, ErrWordPoolEmpty)

		room, err := h.reg.GetRoomState(ctx, alice.UserID)
		require.NoError(t, err)
		assert.Equal(t, RoomWaiting, room.Status)
	})

	t.Run("custom words fill the pool", func(t *testing.T) {
		h := newHarness(t, func(o *Options) { o.Catalog = staticCatalog{"uno"} })
		h.room(t, alice, bob)
		_, err := h.reg.UpdateSettings(ctx, alice.UserID, SettingsPatch{CustomWords: &[]string{"dos", "UNO"}})
		require.NoError(t, err)
		h.readyAll(t, alice, bob)
		_, err = h.reg.StartGame(ctx, alice.UserID)
		assert.ErrorIs(t, err, ErrWordPoolEmpty, "duplicates do not count")

		_, err = h.reg.UpdateSettings(ctx, alice.UserID, SettingsPatch{CustomWords: &[]string{"dos", "tres"}})
		require.NoError(t, err)
		view, err := h.reg.StartGame(ctx, alice.UserID)
		require.NoError(t, err)
		assert.Equal(t, "uno", view.Round.Word)
	})

	t.Run("already playing", func(t *testing.T) {
		h := newHarness(t)
		h.game(t, 3, alice, bob)
		_, err := h.reg.StartGame(ctx, alice.UserID)
		assert.ErrorIs(t, err, ErrGameActive)
	})
}

func TestTimerAndGuessAtDeadlineAgree(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	// guess arrives first, exactly at the deadline
	first := newHarness(t)
	first.game(t, 1, alice, bob)
	first.clock.Skip(time.Minute)
	_, err := first.reg.SubmitGuess(ctx, bob.UserID, "casa")
	assert.ErrorIs(t, err, ErrRoundTimeOver)
	first.clock.Fire()

	// timer fires first
	second := newHarness(t)
	second.game(t, 1, alice, bob)
	second.clock.Advance(time.Minute)
	_, err = second.reg.SubmitGuess(ctx, bob.UserID, "casa")
	assert.ErrorIs(t, err, ErrNoActiveGame)

	a, b := first.state(t, alice), second.state(t, alice)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("final state differs (-guess first +timer first):\n%s", diff)
	}
	assert.Equal(t, GameFinished, a.Status)
	assert.Equal(t, 0, a.Players[1].Score)
	assert.Equal(t, EndTimeout, a.Round.EndReason)
}

func TestStaleTimerIsIgnored(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	start := h.game(t, 3, alice, bob)

	_, err := h.reg.SubmitGuess(ctx, bob.UserID, "casa")
	require.NoError(t, err)
	before := h.state(t, alice)

	a := h.actor(t, alice)
	a.fireTimeout(start.ID, 1)
	a.fireTimeout("another-game", 2)

	assert.Len(t, h.events.ofType(EventRoundEnded), 1)
	if diff := cmp.Diff(before, h.state(t, alice)); diff != "" {
		t.Errorf("stale timeout changed the game:\n%s", diff)
	}
}

func TestGuessRules(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.game(t, 3, alice, bob, carol)

	_, err := h.reg.SubmitGuess(ctx, bob.UserID, "   ")
	assert.ErrorIs(t, err, ErrEmptyGuess)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = h.reg.SubmitGuess(ctx, alice.UserID, "casa")
	assert.ErrorIs(t, err, ErrDrawerGuess)

	wrong, err := h.reg.SubmitGuess(ctx, carol.UserID, "Perro")
	require.NoError(t, err)
	assert.False(t, wrong.Correct)
	assert.Zero(t, wrong.Points)

	_, err = h.reg.SubmitGuess(ctx, bob.UserID, "casa")
	require.NoError(t, err)
	_, err = h.reg.SubmitGuess(ctx, bob.UserID, "casa")
	assert.ErrorIs(t, err, ErrAlreadySolved)

	results := h.events.ofType(EventGuessResult)
	require.Len(t, results, 2)
	assert.Equal(t, "perro", results[0].event.Payload.(GuessResultPayload).Text)
	assert.Empty(t, results[1].event.Payload.(GuessResultPayload).Text, "correct guesses are not leaked")

	carolView := h.state(t, carol)
	require.Len(t, carolView.Round.Guesses, 2)
	assert.Empty(t, carolView.Round.Guesses[1].Text)
	assert.Empty(t, carolView.Round.Word)

	bobView := h.state(t, bob)
	assert.Equal(t, "casa", bobView.Round.Guesses[1].Text, "own guesses stay visible")

	drawerView := h.state(t, alice)
	assert.Equal(t, "casa", drawerView.Round.Guesses[1].Text)

	_, err = h.reg.SubmitGuess(ctx, dave.UserID, "casa")
	assert.ErrorIs(t, err, ErrNotInRoom)
}

func TestGuessWithoutGame(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.room(t, alice, bob)

	_, err := h.reg.SubmitGuess(ctx, bob.UserID, "casa")
	assert.ErrorIs(t, err, ErrNoActiveGame)
	_, err = h.reg.GetGameState(ctx, bob.UserID)
	assert.ErrorIs(t, err, ErrNoGame)
	assert.ErrorIs(t, h.reg.EndGame(ctx, alice.UserID), ErrNoActiveGame)
}

func TestConcurrentCorrectGuessesEndRoundOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.game(t, 1, alice, bob, carol, dave)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		points []int
	)
	for _, u := range []domain.Identity{bob, carol, dave} {
		wg.Add(1)
		go func(u domain.Identity) {
			defer wg.Done()
			g, err := h.reg.SubmitGuess(ctx, u.UserID, "casa")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			points = append(points, g.Points)
			mu.Unlock()
		}(u)
	}
	wg.Wait()

	assert.ElementsMatch(t, []int{100, 90, 80}, points)
	assert.Len(t, h.events.ofType(EventRoundEnded), 1)
	assert.Len(t, h.events.ofType(EventGameEnded), 1)
}

func TestDrawerLeavingEndsRound(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.game(t, 3, alice, bob, carol)

	h.clock.Skip(5 * time.Second)
	require.NoError(t, h.reg.LeaveRoom(ctx, alice.UserID))

	ended := h.events.ofType(EventRoundEnded)
	require.Len(t, ended, 1)
	payload := ended[0].event.Payload.(RoundEndedPayload)
	assert.Equal(t, EndDrawerLeft, payload.Reason)
	assert.Equal(t, 5, payload.TimeUsed)

	view := h.state(t, bob)
	assert.Equal(t, GameActive, view.Status)
	assert.Equal(t, 2, view.CurrentRound)
	assert.Equal(t, bob.UserID, view.Round.DrawerID)
	assert.Len(t, view.Leaderboard, 2, "departed players leave the leaderboard")

	room, err := h.reg.GetRoomState(ctx, bob.UserID)
	require.NoError(t, err)
	assert.Equal(t, bob.UserID, room.HostID)
}

func TestGameEndsWhenTooFewPlayersRemain(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.game(t, 3, alice, bob)

	require.NoError(t, h.reg.LeaveRoom(ctx, bob.UserID))

	ended := h.events.ofType(EventRoundEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, EndGameEnded, ended[0].event.Payload.(RoundEndedPayload).Reason)
	require.Len(t, h.events.ofType(EventGameEnded), 1)

	view := h.state(t, alice)
	assert.Equal(t, GameFinished, view.Status)
	assert.Zero(t, h.clock.pending())

	room, err := h.reg.GetRoomState(ctx, alice.UserID)
	require.NoError(t, err)
	assert.Equal(t, RoomWaiting, room.Status)
}

func TestLeavingGuesserCanCompleteRound(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.game(t, 3, alice, bob, carol, dave)

	_, err := h.reg.SubmitGuess(ctx, bob.UserID, "casa")
	require.NoError(t, err)
	_, err = h.reg.SubmitGuess(ctx, carol.UserID, "casa")
	require.NoError(t, err)
	require.NoError(t, h.reg.LeaveRoom(ctx, dave.UserID))

	ended := h.events.ofType(EventRoundEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, EndAllGuessed, ended[0].event.Payload.(RoundEndedPayload).Reason)
}

func TestDisconnectedDrawerKeepsRound(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.game(t, 3, alice, bob, carol)

	require.NoError(t, h.reg.SetConnected(ctx, alice.UserID, false))
	view := h.state(t, bob)
	assert.Equal(t, GameActive, view.Status)
	assert.Equal(t, PhaseDrawing, view.Round.Phase)
	assert.Equal(t, alice.UserID, view.Round.DrawerID)

	h.clock.Advance(time.Minute)
	view = h.state(t, bob)
	assert.Equal(t, 2, view.CurrentRound)
	assert.Equal(t, bob.UserID, view.Round.DrawerID)

	require.NoError(t, h.reg.SetConnected(ctx, alice.UserID, true))
	require.NoError(t, h.reg.SetConnected(ctx, carol.UserID, false))
	require.NoError(t, h.reg.SetConnected(ctx, carol.UserID, true))
	view = h.state(t, alice)
	assert.Len(t, view.Leaderboard, 3)
}

func TestEndGame(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.game(t, 3, alice, bob)

	err := h.reg.EndGame(ctx, bob.UserID)
	assert.ErrorIs(t, err, ErrNotHost)

	h.clock.Skip(20 * time.Second)
	require.NoError(t, h.reg.EndGame(ctx, alice.UserID))
	ended := h.events.ofType(EventRoundEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, EndGameEnded, ended[0].event.Payload.(RoundEndedPayload).Reason)
	assert.Equal(t, 20, ended[0].event.Payload.(RoundEndedPayload).TimeUsed)

	assert.ErrorIs(t, h.reg.EndGame(ctx, alice.UserID), ErrNoActiveGame)
	view := h.state(t, bob)
	assert.Equal(t, GameFinished, view.Status)
}

func TestDrawingCommands(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.game(t, 3, alice, bob, carol)

	stroke, err := h.reg.AddStroke(ctx, alice.UserID, penStroke())
	require.NoError(t, err)
	assert.Equal(t, "s1", stroke.ID)
	assert.True(t, stroke.Completed)

	assert.Empty(t, h.events.deliveredTo(alice.UserID, EventStrokeAppended), "drawer does not get an echo")
	got := h.events.deliveredTo(bob.UserID, EventStrokeAppended)
	require.Len(t, got, 1)
	assert.Equal(t, stroke, got[0].Payload.(StrokeAppendedPayload).Stroke)

	_, err = h.reg.AddStroke(ctx, bob.UserID, penStroke())
	assert.ErrorIs(t, err, ErrNotDrawer)
	_, err = h.reg.AddStroke(ctx, alice.UserID, StrokeInput{Tool: "spray", Points: []PointInput{{X: 1, Y: 1}}})
	assert.ErrorIs(t, err, domain.ErrValidation)

	view := h.state(t, carol)
	require.Len(t, view.Round.Strokes, 1)
	assert.Equal(t, 1, view.Round.StrokeMetadata.TotalStrokes)
	assert.Equal(t, "#ff0000", view.Round.DominantColor)

	require.NoError(t, h.reg.ClearCanvas(ctx, alice.UserID))
	assert.Len(t, h.events.deliveredTo(alice.UserID, EventCanvasCleared), 1)
	assert.Len(t, h.events.deliveredTo(carol.UserID, EventCanvasCleared), 1)
	assert.Empty(t, h.state(t, carol).Round.Strokes)
	assert.ErrorIs(t, h.reg.ClearCanvas(ctx, carol.UserID), ErrNotDrawer)

	_, err = h.reg.AddStroke(ctx, alice.UserID, penStroke())
	require.NoError(t, err)
	require.NoError(t, h.reg.CompleteDrawing(ctx, alice.UserID))
	assert.Len(t, h.events.ofType(EventDrawingDone), 1)
	assert.True(t, h.state(t, bob).Round.DrawingCompleted)

	_, err = h.reg.AddStroke(ctx, alice.UserID, penStroke())
	assert.ErrorIs(t, err, ErrDrawingComplete)
	assert.ErrorIs(t, h.reg.ClearCanvas(ctx, alice.UserID), ErrDrawingComplete)

	// guessing continues after the drawing is marked complete
	_, err = h.reg.SubmitGuess(ctx, bob.UserID, "casa")
	assert.NoError(t, err)
}

func TestStrokesRejectedAfterRoundEnds(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.game(t, 1, alice, bob)

	_, err := h.reg.AddStroke(ctx, alice.UserID, penStroke())
	require.NoError(t, err)
	h.clock.Advance(time.Minute)

	_, err = h.reg.AddStroke(ctx, alice.UserID, penStroke())
	assert.ErrorIs(t, err, ErrNoActiveGame)

	view := h.state(t, alice)
	assert.True(t, view.Round.DrawingCompleted, "the log freezes with the round")
	assert.Len(t, view.Round.Strokes, 1)
}

func TestDrawingStopsAtDeadline(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.game(t, 1, alice, bob)

	h.clock.Skip(59 * time.Second)
	_, err := h.reg.AddStroke(ctx, alice.UserID, penStroke())
	require.NoError(t, err)

	// the deadline has passed but the timer has not fired yet
	h.clock.Skip(time.Second)
	_, err = h.reg.AddStroke(ctx, alice.UserID, penStroke())
	assert.ErrorIs(t, err, ErrRoundTimeOver)
	assert.ErrorIs(t, h.reg.ClearCanvas(ctx, alice.UserID), ErrRoundTimeOver)
	assert.ErrorIs(t, h.reg.CompleteDrawing(ctx, alice.UserID), ErrRoundTimeOver)
	assert.Len(t, h.events.ofType(EventStrokeAppended), 1)
	assert.Empty(t, h.events.ofType(EventCanvasCleared))
	assert.Empty(t, h.events.ofType(EventDrawingDone))

	h.clock.Fire()
	view := h.state(t, bob)
	assert.Equal(t, EndTimeout, view.Round.EndReason)
	assert.Len(t, view.Round.Strokes, 1)
}

func TestThreeRoundGame(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	start := h.game(t, 3, alice, bob, carol)
	assert.Equal(t, alice.UserID, start.Round.DrawerID)

	h.clock.Skip(10 * time.Second)
	_, err := h.reg.SubmitGuess(ctx, bob.UserID, "casa")
	require.NoError(t, err)
	h.clock.Advance(50 * time.Second)

	second := h.state(t, alice)
	assert.Equal(t, GameActive, second.Status)
	assert.Equal(t, 2, second.CurrentRound)
	assert.Equal(t, bob.UserID, second.Round.DrawerID)

	h.clock.Skip(20 * time.Second)
	_, err = h.reg.SubmitGuess(ctx, carol.UserID, "perro")
	require.NoError(t, err)
	h.clock.Advance(40 * time.Second)

	third := h.state(t, alice)
	assert.Equal(t, GameActive, third.Status)
	assert.Equal(t, 3, third.CurrentRound)
	assert.Equal(t, carol.UserID, third.Round.DrawerID)

	_, err = h.reg.SubmitGuess(ctx, alice.UserID, "gato")
	require.NoError(t, err)
	_, err = h.reg.SubmitGuess(ctx, bob.UserID, "gato")
	require.NoError(t, err)

	ended := h.events.ofType(EventRoundEnded)
	require.Len(t, ended, 3)
	var reasons []EndReason
	for _, e := range ended {
		reasons = append(reasons, e.event.Payload.(RoundEndedPayload).Reason)
	}
	assert.Equal(t, []EndReason{EndTimeout, EndTimeout, EndAllGuessed}, reasons)

	games := h.events.ofType(EventGameEnded)
	require.Len(t, games, 1)
	assert.Equal(t, []LeaderboardEntry{
		{UserID: bob.UserID, Username: "bob", Score: 185, Position: 1},
		{UserID: alice.UserID, Username: "alice", Score: 100, Position: 2},
		{UserID: carol.UserID, Username: "carol", Score: 90, Position: 3},
	}, games[0].event.Payload.(GameEndedPayload).Leaderboard)

	final := h.state(t, carol)
	assert.Equal(t, GameFinished, final.Status)
	assert.Equal(t, 3, final.CurrentRound)
	require.NotNil(t, final.FinishedAt)
	assert.Equal(t, testEpoch.Add(2*time.Minute), *final.FinishedAt)
	assert.Zero(t, h.clock.pending())
}

func TestRoomScoresFollowRunningGame(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.game(t, 3, alice, bob, carol)

	h.clock.Skip(10 * time.Second)
	_, err := h.reg.SubmitGuess(ctx, bob.UserID, "casa")
	require.NoError(t, err)
	_, err = h.reg.SubmitGuess(ctx, carol.UserID, "mesa")
	require.NoError(t, err)

	room, err := h.reg.GetRoomState(ctx, carol.UserID)
	require.NoError(t, err)
	assert.Equal(t, RoomPlaying, room.Status)
	scores := map[string]int{}
	for _, p := range room.Players {
		scores[p.UserID] = p.Score
	}
	assert.Equal(t, map[string]int{alice.UserID: 0, bob.UserID: 95, carol.UserID: 0}, scores)

	updates := h.events.ofType(EventRoomUpdated)
	require.NotEmpty(t, updates)
	last := updates[len(updates)-1].event.Payload.(RoomUpdatedPayload)
	assert.Equal(t, 95, last.Room.Players[1].Score)
}

func TestCommitsCarryIncreasingVersions(t *testing.T) {
	t.Parallel()
	var (
		mu       sync.Mutex
		versions []int64
		games    []int64
		logs     []StrokeLogRecord
	)
	repo := new(MockRepository)
	repo.On("SaveRoom", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		mu.Lock()
		versions = append(versions, args.Get(1).(RoomRecord).Version)
		mu.Unlock()
	}).Return(nil)
	repo.On("SaveGame", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		mu.Lock()
		games = append(games, args.Get(1).(GameRecord).Version)
		mu.Unlock()
	}).Return(nil)
	repo.On("SaveStrokeLog", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		mu.Lock()
		logs = append(logs, args.Get(1).(StrokeLogRecord))
		mu.Unlock()
	}).Return(nil)

	h := newHarness(t, func(o *Options) { o.Repository = repo })
	ctx := context.Background()
	h.game(t, 1, alice, bob)
	_, err := h.reg.AddStroke(ctx, alice.UserID, penStroke())
	require.NoError(t, err)
	_, err = h.reg.SubmitGuess(ctx, bob.UserID, "casa")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, versions)
	for i := 1; i < len(versions); i++ {
		assert.Greater(t, versions[i], versions[i-1])
	}
	require.NotEmpty(t, games)
	assert.Greater(t, games[0], versions[0], "game records follow the room that created them")
	require.NotEmpty(t, logs)
	last := logs[len(logs)-1]
	assert.Equal(t, 1, last.Log.RoundNumber)
	assert.True(t, last.Log.Completed)
	assert.Len(t, last.Log.Strokes, 1)
	repo.AssertNotCalled(t, "DeleteRoom", mock.Anything, mock.Anything, mock.Anything)
}

func TestPersistenceFailureKeepsState(t *testing.T) {
	t.Parallel()
	repo := new(MockRepository)
	repo.On("SaveRoom", mock.Anything, mock.Anything).Return(nil).Twice()
	repo.On("SaveRoom", mock.Anything, mock.Anything).Return(errors.New("connection refused"))

	h := newHarness(t, func(o *Options) { o.Repository = repo })
	ctx := context.Background()
	h.room(t, alice, bob)

	_, err := h.reg.ToggleReady(ctx, bob.UserID)
	assert.ErrorIs(t, err, domain.ErrPersistence)

	room, err := h.reg.GetRoomState(ctx, bob.UserID)
	require.NoError(t, err)
	assert.True(t, room.Players[1].Ready, "memory is authoritative")
}

func TestStaleWritesAreNotErrors(t *testing.T) {
	t.Parallel()
	repo := new(MockRepository)
	repo.On("SaveRoom", mock.Anything, mock.Anything).Return(domain.ErrStaleWrite)

	h := newHarness(t, func(o *Options) { o.Repository = repo })
	_, err := h.reg.CreateRoom(context.Background(), alice, CreateRoomRequest{Name: "stale"})
	assert.NoError(t, err)
}

func TestStatsFailureDoesNotFailCommand(t *testing.T) {
	t.Parallel()
	stats := new(MockStats)
	stats.On("RecordGame", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("stats down")).Once()

	h := newHarness(t, func(o *Options) { o.Stats = stats })
	ctx := context.Background()
	h.game(t, 3, alice, bob)
	assert.NoError(t, h.reg.EndGame(ctx, alice.UserID))
	stats.AssertExpectations(t)
}

func TestCommandsRespectContext(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.room(t, alice, bob)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	block := make(chan struct{})
	a := h.actor(t, alice)
	a.inbox <- func() { <-block }
	for i := 0; i < roomInboxSize; i++ {
		a.inbox <- func() {}
	}

	_, err := h.reg.ToggleReady(ctx, bob.UserID)
	assert.ErrorIs(t, err, context.Canceled)
	close(block)
}
