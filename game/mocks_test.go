package game

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/armando-rios/pinturillo/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	alice = domain.Identity{UserID: "u-alice", Username: "alice"}
	bob   = domain.Identity{UserID: "u-bob", Username: "bob"}
	carol = domain.Identity{UserID: "u-carol", Username: "carol"}
	dave  = domain.Identity{UserID: "u-dave", Username: "dave"}
)

var testEpoch = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// fakeClock only moves when told to. Due timers run on the goroutine that
// advances the clock, after the clock lock is released.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Skip moves time forward without running timers.
func (c *fakeClock) Skip(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Fire runs every timer that is due.
func (c *fakeClock) Fire() {
	c.mu.Lock()
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

func (c *fakeClock) Advance(d time.Duration) {
	c.Skip(d)
	c.Fire()
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type recorded struct {
	room  string
	scope Scope
	event Event
}

type recorder struct {
	mu     sync.Mutex
	events []recorded
}

func (r *recorder) Broadcast(room string, scope Scope, event Event) {
	r.mu.Lock()
	r.events = append(r.events, recorded{room: room, scope: scope, event: event})
	r.mu.Unlock()
}

func (r *recorder) ofType(t EventType) []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recorded
	for _, e := range r.events {
		if e.event.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// deliveredTo returns the events a given member would have received.
func (r *recorder) deliveredTo(userID string, t EventType) []Event {
	var out []Event
	for _, e := range r.ofType(t) {
		if e.scope.Includes(userID) {
			out = append(out, e.event)
		}
	}
	return out
}

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) SaveRoom(ctx context.Context, rec RoomRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *MockRepository) DeleteRoom(ctx context.Context, code string, version int64) error {
	return m.Called(ctx, code, version).Error(0)
}

func (m *MockRepository) SaveGame(ctx context.Context, rec GameRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *MockRepository) SaveStrokeLog(ctx context.Context, rec StrokeLogRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func newPermissiveRepository() *MockRepository {
	m := new(MockRepository)
	m.On("SaveRoom", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("DeleteRoom", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("SaveGame", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("SaveStrokeLog", mock.Anything, mock.Anything).Return(nil).Maybe()
	return m
}

type MockStats struct {
	mock.Mock
}

func (m *MockStats) RecordGame(ctx context.Context, gameID string, leaderboard []LeaderboardEntry) error {
	return m.Called(ctx, gameID, leaderboard).Error(0)
}

type MockHasher struct {
	mock.Mock
}

func (m *MockHasher) Hash(password string) (string, error) {
	args := m.Called(password)
	return args.String(0), args.Error(1)
}

func (m *MockHasher) Compare(hash, password string) (bool, error) {
	args := m.Called(hash, password)
	return args.Bool(0), args.Error(1)
}

// plainHasher stands in for argon2id in tests that do not assert on hashing.
type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "plain:" + password, nil }

func (plainHasher) Compare(hash, password string) (bool, error) {
	return hash == "plain:"+password, nil
}

type staticCatalog []string

func (c staticCatalog) Words(context.Context, Difficulty) ([]string, error) {
	return append([]string(nil), c...), nil
}

var testWords = staticCatalog{"casa", "perro", "gato", "sol", "luna", "mesa"}

type harness struct {
	reg    *Registry
	clock  *fakeClock
	events *recorder
	repo   *MockRepository
	stats  *MockStats
	codes  *MemoryCodeReserver
}

func newHarness(t *testing.T, configure ...func(*Options)) *harness {
	t.Helper()

	var ids, codes atomic.Int64
	nop := zerolog.Nop()
	h := &harness{
		clock:  newFakeClock(testEpoch),
		events: &recorder{},
		repo:   newPermissiveRepository(),
		stats:  new(MockStats),
		codes:  NewMemoryCodeReserver(),
	}
	h.stats.On("RecordGame", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	opts := Options{
		Clock:       h.clock,
		Broadcaster: h.events,
		Repository:  h.repo,
		Stats:       h.stats,
		Catalog:     testWords,
		Hasher:      plainHasher{},
		Codes:       h.codes,
		NewID:       func() string { return fmt.Sprintf("id-%d", ids.Add(1)) },
		NewCode:     func() string { return fmt.Sprintf("ROOM%02d", codes.Add(1)) },
		Shuffle:     func(int, func(i, j int)) {},
		Logger:      &nop,
	}
	for _, c := range configure {
		c(&opts)
	}
	h.reg = NewRegistry(opts)
	t.Cleanup(h.reg.Shutdown)
	return h
}

// room creates a room hosted by host and joins the others in order.
func (h *harness) room(t *testing.T, host domain.Identity, others ...domain.Identity) string {
	t.Helper()
	ctx := context.Background()
	view, err := h.reg.CreateRoom(ctx, host, CreateRoomRequest{Name: "test room"})
	require.NoError(t, err)
	for _, o := range others {
		_, err := h.reg.JoinRoom(ctx, view.Code, o, "")
		require.NoError(t, err)
	}
	return view.Code
}

func (h *harness) readyAll(t *testing.T, players ...domain.Identity) {
	t.Helper()
	for _, p := range players {
		ready, err := h.reg.ToggleReady(context.Background(), p.UserID)
		require.NoError(t, err)
		require.True(t, ready)
	}
}

// game creates a room with the given players, sets the round count and
// starts the game hosted by the first player.
func (h *harness) game(t *testing.T, rounds int, players ...domain.Identity) GameView {
	t.Helper()
	h.room(t, players[0], players[1:]...)
	_, err := h.reg.UpdateSettings(context.Background(), players[0].UserID, SettingsPatch{Rounds: &rounds})
	require.NoError(t, err)
	h.readyAll(t, players...)
	view, err := h.reg.StartGame(context.Background(), players[0].UserID)
	require.NoError(t, err)
	return view
}

func (h *harness) state(t *testing.T, viewer domain.Identity) GameView {
	t.Helper()
	view, err := h.reg.GetGameState(context.Background(), viewer.UserID)
	require.NoError(t, err)
	return view
}

func (h *harness) actor(t *testing.T, user domain.Identity) *roomActor {
	t.Helper()
	a, _, err := h.reg.actorOf(user.UserID)
	require.NoError(t, err)
	return a
}
