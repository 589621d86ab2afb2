package game

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"

	"github.com/armando-rios/pinturillo/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRandomCodeFormat(t *testing.T) {
	t.Parallel()
	pattern := regexp.MustCompile(`^[A-Z0-9]{6}$`)
	for i := 0; i < 200; i++ {
		assert.Regexp(t, pattern, RandomCode())
	}
}

func TestCreateRoom(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	view, err := h.reg.CreateRoom(ctx, alice, CreateRoomRequest{Name: "  Sala uno "})
	require.NoError(t, err)
	assert.Equal(t, "ROOM01", view.Code)
	assert.Equal(t, "Sala uno", view.Name)
	assert.Equal(t, alice.UserID, view.HostID)
	assert.Equal(t, RoomWaiting, view.Status)
	assert.Equal(t, DefaultSettings(), view.Settings)
	require.Len(t, view.Players, 1)
	assert.True(t, view.Players[0].Connected)
	assert.False(t, view.Players[0].Ready)

	code, ok := h.reg.RoomOf(alice.UserID)
	assert.True(t, ok)
	assert.Equal(t, view.Code, code)

	_, err = h.reg.CreateRoom(ctx, alice, CreateRoomRequest{Name: "another"})
	assert.ErrorIs(t, err, ErrAlreadyInRoom)
	assert.ErrorIs(t, err, domain.ErrStateConflict)
}

func TestCreateRoomValidatesBeforeClaiming(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.reg.CreateRoom(ctx, alice, CreateRoomRequest{Name: "x"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = h.reg.CreateRoom(ctx, alice, CreateRoomRequest{Name: "valid", Settings: RoomSettings{Rounds: 42}})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, ok := h.reg.RoomOf(alice.UserID)
	assert.False(t, ok, "failed creates must not leave a membership behind")

	_, err = h.reg.CreateRoom(ctx, alice, CreateRoomRequest{Name: "valid"})
	assert.NoError(t, err)
}

func TestCreateRoomGivesUpAfterTenCollisions(t *testing.T) {
	t.Parallel()
	attempts := 0
	h := newHarness(t, func(o *Options) {
		o.NewCode = func() string {
			attempts++
			return "TAKEN1"
		}
	})
	ok, err := h.codes.Reserve(context.Background(), "TAKEN1")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = h.reg.CreateRoom(context.Background(), alice, CreateRoomRequest{Name: "unlucky"})
	assert.ErrorIs(t, err, ErrCodesExhausted)
	assert.ErrorIs(t, err, domain.ErrResourceExhausted)
	assert.Equal(t, 10, attempts)

	_, member := h.reg.RoomOf(alice.UserID)
	assert.False(t, member)
}

func TestCreateRoomHashesPasswordOutsideTheRoom(t *testing.T) {
	t.Parallel()
	hasher := new(MockHasher)
	hasher.On("Hash", "secret").Return("hashed-secret", nil).Once()
	hasher.On("Compare", "hashed-secret", "wrong").Return(false, nil).Once()
	hasher.On("Compare", "hashed-secret", "secret").Return(true, nil).Once()
	h := newHarness(t, func(o *Options) { o.Hasher = hasher })
	ctx := context.Background()

	view, err := h.reg.CreateRoom(ctx, alice, CreateRoomRequest{Name: "locked", Password: "secret"})
	require.NoError(t, err)
	assert.True(t, view.HasPassword)

	_, err = h.reg.JoinRoom(ctx, view.Code, bob, "wrong")
	assert.ErrorIs(t, err, ErrWrongPassword)
	assert.ErrorIs(t, err, domain.ErrAuthorization)
	_, member := h.reg.RoomOf(bob.UserID)
	assert.False(t, member)

	joined, err := h.reg.JoinRoom(ctx, view.Code, bob, "secret")
	require.NoError(t, err)
	assert.Len(t, joined.Players, 2)
	hasher.AssertExpectations(t)

	assert.Empty(t, h.reg.ListRooms(), "password rooms are not listed")
}

func TestJoinRoomRejections(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("unknown code", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.reg.JoinRoom(ctx, "NOPE00", bob, "")
		assert.ErrorIs(t, err, ErrRoomNotFound)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("codes are case insensitive", func(t *testing.T) {
		h := newHarness(t)
		code := h.room(t, alice)
		_, err := h.reg.JoinRoom(ctx, " room01 ", bob, "")
		assert.NoError(t, err)
		assert.Equal(t, "ROOM01", code)
	})

	t.Run("already in a room", func(t *testing.T) {
		h := newHarness(t)
		code := h.room(t, alice, bob)
		_, err := h.reg.JoinRoom(ctx, code, bob, "")
		assert.ErrorIs(t, err, ErrAlreadyInRoom)

		other := h.room(t, carol)
		_, err = h.reg.JoinRoom(ctx, other, bob, "")
		assert.ErrorIs(t, err, ErrAlreadyInRoom)
	})

	t.Run("room full", func(t *testing.T) {
		h := newHarness(t)
		code := h.room(t, alice, bob)
		_, err := h.reg.UpdateSettings(ctx, alice.UserID, SettingsPatch{MaxPlayers: ptr(2)})
		require.NoError(t, err)

		_, err = h.reg.JoinRoom(ctx, code, carol, "")
		assert.ErrorIs(t, err, ErrRoomFull)
		assert.ErrorIs(t, err, domain.ErrResourceExhausted)
		_, member := h.reg.RoomOf(carol.UserID)
		assert.False(t, member)
	})

	t.Run("game in progress", func(t *testing.T) {
		h := newHarness(t)
		h.game(t, 3, alice, bob)
		_, err := h.reg.JoinRoom(ctx, "ROOM01", carol, "")
		assert.ErrorIs(t, err, ErrGameActive)
		assert.ErrorIs(t, err, domain.ErrStateConflict)
	})
}

func TestLeaveRoomTransfersHost(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.room(t, alice, bob, carol)

	require.NoError(t, h.reg.SetConnected(ctx, bob.UserID, false))
	require.NoError(t, h.reg.LeaveRoom(ctx, alice.UserID))

	view, err := h.reg.GetRoomState(ctx, carol.UserID)
	require.NoError(t, err)
	assert.Equal(t, carol.UserID, view.HostID, "earliest connected player becomes host")

	require.NoError(t, h.reg.SetConnected(ctx, bob.UserID, true))
	require.NoError(t, h.reg.SetConnected(ctx, bob.UserID, false))
	require.NoError(t, h.reg.LeaveRoom(ctx, carol.UserID))

	view, err = h.reg.GetRoomState(ctx, bob.UserID)
	require.NoError(t, err)
	assert.Equal(t, bob.UserID, view.HostID, "falls back to a disconnected player")

	_, err = h.reg.GetRoomState(ctx, alice.UserID)
	assert.ErrorIs(t, err, ErrNotInRoom)
}

func TestLastPlayerLeavingRemovesRoom(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	code := h.room(t, alice, bob)

	require.NoError(t, h.reg.LeaveRoom(ctx, bob.UserID))
	require.NoError(t, h.reg.LeaveRoom(ctx, alice.UserID))

	_, err := h.reg.JoinRoom(ctx, code, carol, "")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	closed := h.events.ofType(EventRoomClosed)
	require.Len(t, closed, 1)
	assert.Equal(t, code, closed[0].room)

	ok, err := h.codes.Reserve(ctx, code)
	require.NoError(t, err)
	assert.True(t, ok, "code is released for reuse")

	h.repo.AssertCalled(t, "DeleteRoom", mock.Anything, code, mock.Anything)

	assert.ErrorIs(t, h.reg.LeaveRoom(ctx, alice.UserID), ErrNotInRoom)
}

func TestToggleReadyAndSettingsPermissions(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.room(t, alice, bob)

	ready, err := h.reg.ToggleReady(ctx, bob.UserID)
	require.NoError(t, err)
	assert.True(t, ready)
	ready, err = h.reg.ToggleReady(ctx, bob.UserID)
	require.NoError(t, err)
	assert.False(t, ready)

	_, err = h.reg.UpdateSettings(ctx, bob.UserID, SettingsPatch{Rounds: ptr(5)})
	assert.ErrorIs(t, err, ErrNotHost)
	assert.ErrorIs(t, err, domain.ErrAuthorization)

	_, err = h.reg.UpdateSettings(ctx, alice.UserID, SettingsPatch{MaxPlayers: ptr(1)})
	assert.ErrorIs(t, err, domain.ErrValidation)

	settings, err := h.reg.UpdateSettings(ctx, alice.UserID, SettingsPatch{Rounds: ptr(5), Difficulty: ptr(DifficultyEasy)})
	require.NoError(t, err)
	assert.Equal(t, 5, settings.Rounds)
	assert.Equal(t, DifficultyEasy, settings.Difficulty)

	updates := h.events.ofType(EventRoomUpdated)
	require.NotEmpty(t, updates)
	last := updates[len(updates)-1].event.Payload.(RoomUpdatedPayload)
	assert.Equal(t, 5, last.Room.Settings.Rounds)
}

func TestReadyAndSettingsLockedDuringGame(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.game(t, 3, alice, bob)

	_, err := h.reg.ToggleReady(ctx, bob.UserID)
	assert.ErrorIs(t, err, ErrGameActive)
	_, err = h.reg.UpdateSettings(ctx, alice.UserID, SettingsPatch{Rounds: ptr(4)})
	assert.ErrorIs(t, err, ErrGameActive)
}

func TestListRooms(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.reg.CreateRoom(ctx, alice, CreateRoomRequest{Name: "bravo"})
	require.NoError(t, err)
	_, err = h.reg.CreateRoom(ctx, bob, CreateRoomRequest{Name: "alpha"})
	require.NoError(t, err)
	_, err = h.reg.CreateRoom(ctx, carol, CreateRoomRequest{Name: "hidden", Password: "pw"})
	require.NoError(t, err)

	rooms := h.reg.ListRooms()
	require.Len(t, rooms, 2)
	assert.Equal(t, "alpha", rooms[0].Name)
	assert.Equal(t, "bob", rooms[0].HostUsername)
	assert.Equal(t, "bravo", rooms[1].Name)
	assert.Equal(t, 1, rooms[1].Players)

	_, err = h.reg.JoinRoom(ctx, rooms[1].Code, dave, "")
	require.NoError(t, err)
	h.readyAll(t, alice, dave)
	_, err = h.reg.StartGame(ctx, alice.UserID)
	require.NoError(t, err)

	rooms = h.reg.ListRooms()
	require.Len(t, rooms, 1, "playing rooms are not listed")
	assert.Equal(t, "alpha", rooms[0].Name)
	assert.Len(t, h.reg.LiveCodes(), 3, "every running room has a live code")
}

func TestConcurrentCreatesGetUniqueCodes(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(o *Options) { o.NewCode = nil })
	ctx := context.Background()

	const hosts = 40
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		codes = make(map[string]string, hosts)
	)
	for i := 0; i < hosts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			host := domain.Identity{UserID: fmt.Sprintf("host-%d", i), Username: fmt.Sprintf("host%d", i)}
			view, err := h.reg.CreateRoom(ctx, host, CreateRoomRequest{Name: fmt.Sprintf("room %d", i)})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if other, dup := codes[view.Code]; dup {
				t.Errorf("code %s handed to %s and %s", view.Code, other, host.UserID)
			}
			codes[view.Code] = host.UserID
		}(i)
	}
	wg.Wait()

	assert.Len(t, codes, hosts)
	assert.Len(t, h.reg.LiveCodes(), hosts)
	for code := range codes {
		assert.Regexp(t, `^[A-Z0-9]{6}$`, code)
		reserved, err := h.codes.Reserve(ctx, code)
		require.NoError(t, err)
		assert.False(t, reserved, "live code %s is still held", code)
	}
}

func TestConcurrentJoinsRespectCapacity(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	code := h.room(t, alice)
	_, err := h.reg.UpdateSettings(ctx, alice.UserID, SettingsPatch{MaxPlayers: ptr(4)})
	require.NoError(t, err)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		joined int
		full   int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := domain.Identity{UserID: "u-" + string(rune('a'+i)), Username: "p"}
			_, err := h.reg.JoinRoom(ctx, code, user, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				joined++
			case errors.Is(err, ErrRoomFull):
				full++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 3, joined)
	assert.Equal(t, 9, full)
	view, err := h.reg.GetRoomState(ctx, alice.UserID)
	require.NoError(t, err)
	assert.Len(t, view.Players, 4)
}
