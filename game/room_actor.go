package game

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/armando-rios/pinturillo/domain"
	"github.com/rs/zerolog"
)

const roomInboxSize = 256

type change uint8

const (
	changeRoom change = 1 << iota
	changeGame
	changeStrokes
)

var ErrSettingsChanged = domain.Conflict("settings-changed")

type finishedGame struct {
	gameID      string
	leaderboard []LeaderboardEntry
}

// commit describes what a single command changed, as detached records that
// can be written after the room is released.
type commit struct {
	code     string
	version  int64
	room     *RoomRecord
	deleted  bool
	game     *GameRecord
	strokes  []StrokeLogRecord
	finished *finishedGame
}

func (c commit) empty() bool {
	return c.version == 0
}

// roomActor owns a room and everything below it. All reads and writes run
// on the loop goroutine, one command at a time, in the order received.
type roomActor struct {
	code         string
	passwordHash string

	room        *Room
	clock       Clock
	broadcaster Broadcaster
	log         zerolog.Logger
	onTimeout   func(c commit)

	inbox    chan func()
	quit     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
	summary  atomic.Pointer[RoomSummary]

	version  int64
	pending  change
	touched  []int
	finished *finishedGame
	closed   bool
}

func newRoomActor(room *Room, passwordHash string, clock Clock, broadcaster Broadcaster, log zerolog.Logger) *roomActor {
	a := &roomActor{
		code:         room.Code,
		passwordHash: passwordHash,
		room:         room,
		clock:        clock,
		broadcaster:  broadcaster,
		log:          log.With().Str("room", room.Code).Logger(),
		inbox:        make(chan func(), roomInboxSize),
		quit:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
	s := room.summary()
	a.summary.Store(&s)
	return a
}

func (a *roomActor) loop(wg *sync.WaitGroup) {
	if wg != nil {
		defer wg.Done()
	}
	defer close(a.stopped)
	defer a.stopTimers()

	for {
		select {
		case cmd := <-a.inbox:
			cmd()
			if a.closed {
				a.log.Debug().Msg("room closed")
				return
			}
		case <-a.quit:
			return
		}
	}
}

func (a *roomActor) stop() {
	a.stopOnce.Do(func() { close(a.quit) })
}

func (a *roomActor) stopTimers() {
	if a.room.Game == nil {
		return
	}
	if r := a.room.Game.CurrentRound(); r != nil && r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// do runs fn on the loop goroutine. fn must validate before mutating, so a
// returned error always means nothing changed.
func (a *roomActor) do(ctx context.Context, fn func(now time.Time) error) (commit, error) {
	var (
		c    commit
		err  error
		done = make(chan struct{})
	)
	cmd := func() {
		defer close(done)
		a.pending, a.touched, a.finished = 0, a.touched[:0], nil

		now := a.clock.Now()
		if err = fn(now); err != nil {
			return
		}
		c = a.collect(now)
	}

	select {
	case a.inbox <- cmd:
	case <-a.stopped:
		return commit{}, ErrRoomNotFound
	case <-ctx.Done():
		return commit{}, ctx.Err()
	}

	select {
	case <-done:
		return c, err
	case <-a.stopped:
		select {
		case <-done:
			return c, err
		default:
			return commit{}, ErrRoomNotFound
		}
	}
}

func (a *roomActor) mark(ch change) {
	a.pending |= ch
}

func (a *roomActor) touchLog(round int) {
	a.pending |= changeStrokes
	if !slices.Contains(a.touched, round) {
		a.touched = append(a.touched, round)
	}
}

func (a *roomActor) collect(now time.Time) commit {
	if a.pending == 0 && !a.closed {
		return commit{}
	}
	a.version++
	c := commit{code: a.code, version: a.version, finished: a.finished}

	if a.closed {
		c.deleted = true
	} else if a.pending&changeRoom != 0 {
		rec := RoomRecord{Room: a.room.snapshot(), PasswordHash: a.passwordHash, Version: a.version}
		if a.room.Game != nil {
			rec.CurrentGameID = a.room.Game.ID
		}
		c.room = &rec
		a.emit(ToAll(), EventRoomUpdated, RoomUpdatedPayload{Room: a.room.view()}, now)
		s := a.room.summary()
		a.summary.Store(&s)
	}

	if g := a.room.Game; g != nil {
		if a.pending&changeGame != 0 {
			c.game = &GameRecord{Game: g.snapshot(), Version: a.version}
		}
		for _, n := range a.touched {
			if l, ok := g.strokeLogs[n]; ok {
				c.strokes = append(c.strokes, StrokeLogRecord{Log: l.snapshot(), Version: a.version})
			}
		}
	}
	return c
}

func (a *roomActor) emit(scope Scope, t EventType, payload any, now time.Time) {
	a.broadcaster.Broadcast(a.code, scope, Event{Type: t, RoomCode: a.code, At: now, Payload: payload})
}

func (a *roomActor) join(identity domain.Identity, now time.Time) error {
	if err := a.room.addPlayer(identity, now); err != nil {
		return err
	}
	a.mark(changeRoom)
	return nil
}

func (a *roomActor) leave(userID string, now time.Time) error {
	if _, err := a.room.removePlayer(userID, now); err != nil {
		return err
	}
	a.mark(changeRoom)

	if g := a.room.activeGame(); g != nil {
		if gp := g.player(userID); gp != nil {
			gp.Connected = false
			a.mark(changeGame)
			a.afterDeparture(g, userID, now)
		}
	}

	if len(a.room.Players) == 0 {
		a.room.Status = RoomFinished
		a.closed = true
		a.emit(ToAll(), EventRoomClosed, RoomClosedPayload{Code: a.code}, now)
	}
	return nil
}

func (a *roomActor) setConnected(userID string, connected bool, now time.Time) error {
	p := a.room.player(userID)
	if p == nil {
		return ErrNotInRoom
	}
	if p.Connected == connected {
		return nil
	}
	if err := a.room.setConnected(userID, connected, now); err != nil {
		return err
	}
	a.mark(changeRoom)

	g := a.room.activeGame()
	if g == nil || g.player(userID) == nil {
		return nil
	}
	a.mark(changeGame)
	if connected {
		return nil
	}
	// A disconnected drawer keeps the round until its timer fires.
	if r := g.CurrentRound(); r != nil && r.Phase == PhaseDrawing && r.DrawerID != userID && g.allGuessed() {
		a.concludeRound(g, EndAllGuessed, now, now)
	}
	return nil
}

// afterDeparture reacts to a game player leaving the room for good.
func (a *roomActor) afterDeparture(g *Game, userID string, now time.Time) {
	if g.connectedCount() < MinPlayers {
		a.finishGame(g, now)
		return
	}
	r := g.CurrentRound()
	if r == nil || r.Phase != PhaseDrawing {
		return
	}
	if r.DrawerID == userID {
		a.concludeRound(g, EndDrawerLeft, now, now)
		return
	}
	if g.allGuessed() {
		a.concludeRound(g, EndAllGuessed, now, now)
	}
}

func (a *roomActor) toggleReady(userID string, now time.Time) (bool, error) {
	ready, err := a.room.toggleReady(userID, now)
	if err != nil {
		return false, err
	}
	a.mark(changeRoom)
	return ready, nil
}

func (a *roomActor) updateSettings(userID string, patch SettingsPatch, now time.Time) error {
	if err := a.room.updateSettings(userID, patch, now); err != nil {
		return err
	}
	a.mark(changeRoom)
	return nil
}

func (a *roomActor) startGame(userID, gameID string, settings RoomSettings, pool *WordPool, now time.Time) error {
	if err := a.room.checkStart(userID); err != nil {
		return err
	}
	if a.room.Settings.Difficulty != settings.Difficulty || !slices.Equal(a.room.Settings.CustomWords, settings.CustomWords) {
		return ErrSettingsChanged
	}
	if pool.Remaining() < a.room.Settings.Rounds {
		return ErrWordPoolEmpty
	}

	g := newGame(gameID, a.code, a.room.Players, a.room.Settings, pool, now)
	a.room.attachGame(g, now)
	a.mark(changeRoom | changeGame)

	players := make([]GamePlayer, len(g.Players))
	for i, p := range g.Players {
		players[i] = *p
	}
	a.emit(ToAll(), EventGameStarted, GameStartedPayload{GameID: g.ID, TotalRounds: g.Settings.Rounds, Players: players}, now)

	if err := a.startRound(g, now); err != nil {
		a.log.Error().Err(err).Str("game", g.ID).Msg("could not open first round")
		a.finishGame(g, now)
	}
	return nil
}

func (a *roomActor) startRound(g *Game, now time.Time) error {
	r, err := g.startNextRound(now)
	if err != nil {
		return err
	}
	gameID, number := g.ID, r.Number
	r.timer = a.clock.AfterFunc(g.Settings.DrawingDuration(), func() {
		a.fireTimeout(gameID, number)
	})
	a.mark(changeGame)
	a.touchLog(number)

	payload := TurnChangedPayload{
		Round:    number,
		DrawerID: r.DrawerID,
		Hint:     WordHint(r.Word),
		Deadline: r.Deadline,
	}
	if d := g.player(r.DrawerID); d != nil {
		payload.DrawerUsername = d.Username
	}
	a.emit(ToAllExcept(r.DrawerID), EventTurnChanged, payload, now)
	payload.Word = r.Word
	a.emit(ToUser(r.DrawerID), EventTurnChanged, payload, now)
	return nil
}

// fireTimeout runs on the timer goroutine and posts the timeout like any
// other command.
func (a *roomActor) fireTimeout(gameID string, round int) {
	c, err := a.do(context.Background(), func(now time.Time) error {
		a.timeout(gameID, round, now)
		return nil
	})
	if err != nil || c.empty() {
		return
	}
	if a.onTimeout != nil {
		a.onTimeout(c)
	}
}

// timeout is a no-op unless the tagged round is still the live one.
func (a *roomActor) timeout(gameID string, round int, now time.Time) {
	g := a.room.activeGame()
	if g == nil || g.ID != gameID {
		return
	}
	r := g.CurrentRound()
	if r == nil || r.Number != round || r.Phase != PhaseDrawing {
		return
	}
	a.concludeRound(g, EndTimeout, r.Deadline, now)
}

// concludeRound ends the current round at the given instant and moves the
// game on. A round that already ended is left untouched.
func (a *roomActor) concludeRound(g *Game, reason EndReason, at, now time.Time) {
	r := g.CurrentRound()
	if r == nil || !r.end(reason, at) {
		return
	}
	a.mark(changeGame)
	a.touchLog(r.Number)
	a.emit(ToAll(), EventRoundEnded, RoundEndedPayload{
		Round:       r.Number,
		Word:        r.Word,
		Reason:      reason,
		TimeUsed:    r.TimeUsed,
		Leaderboard: g.Leaderboard(),
	}, now)

	if !g.roundsLeft() {
		a.finishGame(g, now)
		return
	}
	if err := a.startRound(g, now); err != nil {
		a.log.Warn().Err(err).Str("game", g.ID).Msg("could not open next round, finishing game")
		a.finishGame(g, now)
	}
}

func (a *roomActor) finishGame(g *Game, now time.Time) {
	if g.Status != GameActive {
		return
	}
	if r := g.CurrentRound(); r != nil && r.Phase == PhaseDrawing {
		r.end(EndGameEnded, now)
		a.touchLog(r.Number)
		a.emit(ToAll(), EventRoundEnded, RoundEndedPayload{
			Round:       r.Number,
			Word:        r.Word,
			Reason:      EndGameEnded,
			TimeUsed:    r.TimeUsed,
			Leaderboard: g.Leaderboard(),
		}, now)
	}

	g.finish(now)
	a.room.settle(now)
	board := g.Leaderboard()
	a.finished = &finishedGame{gameID: g.ID, leaderboard: board}
	a.mark(changeRoom | changeGame)
	a.emit(ToAll(), EventGameEnded, GameEndedPayload{GameID: g.ID, Leaderboard: board}, now)
}

func (a *roomActor) endGame(userID string, now time.Time) error {
	if a.room.player(userID) == nil {
		return ErrNotInRoom
	}
	if a.room.HostID != userID {
		return ErrNotHost
	}
	g := a.room.activeGame()
	if g == nil {
		return ErrNoActiveGame
	}
	a.finishGame(g, now)
	return nil
}

func (a *roomActor) guess(userID, text string, now time.Time) (Guess, error) {
	if a.room.player(userID) == nil {
		return Guess{}, ErrNotInRoom
	}
	g := a.room.activeGame()
	if g == nil {
		return Guess{}, ErrNoActiveGame
	}
	guess, err := g.submitGuess(userID, text, now)
	if err != nil {
		return Guess{}, err
	}
	a.mark(changeGame)
	if guess.Correct {
		a.room.syncScores()
		a.mark(changeRoom)
	}

	payload := GuessResultPayload{
		PlayerID: guess.UserID,
		Username: guess.Username,
		Correct:  guess.Correct,
		Points:   guess.Points,
	}
	if !guess.Correct {
		payload.Text = guess.Text
	}
	a.emit(ToAll(), EventGuessResult, payload, now)

	if guess.Correct && g.allGuessed() {
		a.concludeRound(g, EndAllGuessed, now, now)
	}
	return guess, nil
}

func (a *roomActor) drawing(userID string, now time.Time) (*Round, *StrokeLog, error) {
	if a.room.player(userID) == nil {
		return nil, nil, ErrNotInRoom
	}
	g := a.room.activeGame()
	if g == nil {
		return nil, nil, ErrNoActiveGame
	}
	r := g.CurrentRound()
	if r == nil {
		return nil, nil, ErrRoundNotDrawing
	}
	l, err := r.checkDrawing(userID, now)
	if err != nil {
		return nil, nil, err
	}
	return r, l, nil
}

func (a *roomActor) addStroke(userID string, in StrokeInput, now time.Time) (Stroke, error) {
	r, l, err := a.drawing(userID, now)
	if err != nil {
		return Stroke{}, err
	}
	stroke, err := l.add(userID, in, now)
	if err != nil {
		return Stroke{}, err
	}
	a.touchLog(r.Number)
	a.emit(ToAllExcept(userID), EventStrokeAppended, StrokeAppendedPayload{Round: r.Number, Stroke: stroke}, now)
	return stroke, nil
}

func (a *roomActor) clearCanvas(userID string, now time.Time) error {
	r, l, err := a.drawing(userID, now)
	if err != nil {
		return err
	}
	if err := l.clear(userID, now); err != nil {
		return err
	}
	a.touchLog(r.Number)
	a.emit(ToAll(), EventCanvasCleared, CanvasPayload{Round: r.Number}, now)
	return nil
}

func (a *roomActor) completeDrawing(userID string, now time.Time) error {
	r, l, err := a.drawing(userID, now)
	if err != nil {
		return err
	}
	if err := l.complete(userID, now); err != nil {
		return err
	}
	a.touchLog(r.Number)
	a.emit(ToAll(), EventDrawingDone, CanvasPayload{Round: r.Number}, now)
	return nil
}

func (a *roomActor) gameState(userID string, now time.Time) (GameView, error) {
	if a.room.player(userID) == nil {
		return GameView{}, ErrNotInRoom
	}
	if a.room.Game == nil {
		return GameView{}, ErrNoGame
	}
	return a.room.Game.view(userID, now), nil
}
