package game

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/armando-rios/pinturillo/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// pendingRoom marks a user whose room is still being created.
const pendingRoom = ""

const defaultPersistTimeout = 5 * time.Second

type Options struct {
	Clock          Clock
	Broadcaster    Broadcaster
	Repository     Repository
	Stats          StatsRecorder
	Catalog        WordCatalog
	Hasher         PasswordHasher
	Codes          CodeReserver
	Defaults       RoomSettings
	NewID          func() string
	NewCode        func() string
	Shuffle        func(n int, swap func(i, j int))
	WaitGroup      *sync.WaitGroup
	PersistTimeout time.Duration
	Logger         *zerolog.Logger
}

type CreateRoomRequest struct {
	Name     string       `json:"name"`
	Password string       `json:"password"`
	Settings RoomSettings `json:"settings"`
}

// Registry maps room codes to running rooms and users to the room they are
// in. Each room processes its own commands; the registry only routes them.
type Registry struct {
	locker  sync.RWMutex
	rooms   map[string]*roomActor
	members map[string]string

	clock          Clock
	broadcaster    Broadcaster
	repo           Repository
	stats          StatsRecorder
	catalog        WordCatalog
	hasher         PasswordHasher
	codes          codeGenerator
	reserver       CodeReserver
	defaults       RoomSettings
	newID          func() string
	shuffle        func(n int, swap func(i, j int))
	wg             *sync.WaitGroup
	persistTimeout time.Duration
	log            zerolog.Logger
}

func NewRegistry(opts Options) *Registry {
	reg := &Registry{
		rooms:          map[string]*roomActor{},
		members:        map[string]string{},
		clock:          opts.Clock,
		broadcaster:    opts.Broadcaster,
		repo:           opts.Repository,
		stats:          opts.Stats,
		catalog:        opts.Catalog,
		hasher:         opts.Hasher,
		reserver:       opts.Codes,
		defaults:       opts.Defaults,
		newID:          opts.NewID,
		shuffle:        opts.Shuffle,
		wg:             opts.WaitGroup,
		persistTimeout: opts.PersistTimeout,
		log:            log.Logger,
	}
	if opts.Logger != nil {
		reg.log = *opts.Logger
	}
	if reg.clock == nil {
		reg.clock = NewSystemClock()
	}
	if reg.broadcaster == nil {
		reg.broadcaster = nopBroadcaster{}
	}
	if reg.repo == nil {
		reg.repo = nopRepository{}
	}
	if reg.stats == nil {
		reg.stats = nopStats{}
	}
	if reg.catalog == nil {
		reg.catalog = NewBuiltinCatalog()
	}
	if reg.reserver == nil {
		reg.reserver = NewMemoryCodeReserver()
	}
	if reg.defaults.MaxPlayers == 0 {
		reg.defaults = DefaultSettings()
	}
	if reg.newID == nil {
		reg.newID = uuid.NewString
	}
	if reg.shuffle == nil {
		reg.shuffle = rand.Shuffle
	}
	if reg.persistTimeout == 0 {
		reg.persistTimeout = defaultPersistTimeout
	}
	newCode := opts.NewCode
	if newCode == nil {
		newCode = RandomCode
	}
	reg.codes = codeGenerator{reserver: reg.reserver, candidate: newCode}
	return reg
}

func (reg *Registry) claimMember(userID, code string) error {
	reg.locker.Lock()
	defer reg.locker.Unlock()
	if _, in := reg.members[userID]; in {
		return ErrAlreadyInRoom
	}
	reg.members[userID] = code
	return nil
}

func (reg *Registry) releaseMember(userID, code string) {
	reg.locker.Lock()
	if current, ok := reg.members[userID]; ok && current == code {
		delete(reg.members, userID)
	}
	reg.locker.Unlock()
}

func (reg *Registry) actorOf(userID string) (*roomActor, string, error) {
	reg.locker.RLock()
	defer reg.locker.RUnlock()
	code, ok := reg.members[userID]
	if !ok || code == pendingRoom {
		return nil, "", ErrNotInRoom
	}
	a, ok := reg.rooms[code]
	if !ok {
		return nil, "", ErrRoomNotFound
	}
	return a, code, nil
}

// RoomOf returns the code of the room the user is in.
func (reg *Registry) RoomOf(userID string) (string, bool) {
	reg.locker.RLock()
	defer reg.locker.RUnlock()
	code, ok := reg.members[userID]
	if !ok || code == pendingRoom {
		return "", false
	}
	return code, true
}

func (reg *Registry) spawn(room *Room, passwordHash string) *roomActor {
	a := newRoomActor(room, passwordHash, reg.clock, reg.broadcaster, reg.log)
	a.onTimeout = func(c commit) {
		if err := reg.persist(context.Background(), c); err != nil {
			a.log.Error().Err(err).Msg("persisting round timeout failed")
		}
	}
	if reg.wg != nil {
		reg.wg.Add(1)
	}
	go a.loop(reg.wg)
	return a
}

// dropRoom unregisters a room whose last player left. Its code is freed
// only after the deletion was written, so a new room cannot reuse the code
// while the old row is still around.
func (reg *Registry) dropRoom(ctx context.Context, c commit, a *roomActor) error {
	reg.locker.Lock()
	if reg.rooms[c.code] == a {
		delete(reg.rooms, c.code)
	}
	reg.locker.Unlock()
	a.stop()

	err := reg.persist(ctx, c)
	if rerr := reg.reserver.Release(context.WithoutCancel(ctx), c.code); rerr != nil {
		reg.log.Error().Err(rerr).Str("room", c.code).Msg("releasing room code failed")
	}
	reg.log.Info().Str("room", c.code).Msg("room removed")
	return err
}

func (reg *Registry) CreateRoom(ctx context.Context, host domain.Identity, req CreateRoomRequest) (RoomView, error) {
	name, err := validateRoomName(req.Name)
	if err != nil {
		return RoomView{}, err
	}
	settings := req.Settings.withDefaults(reg.defaults)
	if err := settings.Validate(); err != nil {
		return RoomView{}, err
	}
	settings.CustomWords, _ = normalizeCustomWords(settings.CustomWords)
	if len(req.Password) > MaxRoomPasswordBytes {
		return RoomView{}, domain.Invalid("password cannot exceed %d bytes", MaxRoomPasswordBytes)
	}

	if err := reg.claimMember(host.UserID, pendingRoom); err != nil {
		return RoomView{}, err
	}
	registered := false
	defer func() {
		if !registered {
			reg.releaseMember(host.UserID, pendingRoom)
		}
	}()

	var hash string
	if req.Password != "" {
		if reg.hasher == nil {
			return RoomView{}, domain.Invalid("password protected rooms are not supported")
		}
		if hash, err = reg.hasher.Hash(req.Password); err != nil {
			return RoomView{}, err
		}
	}

	code, err := reg.codes.generate(ctx)
	if err != nil {
		return RoomView{}, err
	}

	room := newRoom(reg.newID(), code, name, host, settings, hash != "", reg.clock.Now())
	a := reg.spawn(room, hash)

	var view RoomView
	c, err := a.do(ctx, func(now time.Time) error {
		a.mark(changeRoom)
		view = a.room.view()
		return nil
	})
	if err != nil {
		a.stop()
		if rerr := reg.reserver.Release(context.WithoutCancel(ctx), code); rerr != nil {
			reg.log.Error().Err(rerr).Str("room", code).Msg("releasing room code failed")
		}
		return RoomView{}, err
	}

	reg.locker.Lock()
	reg.rooms[code] = a
	reg.members[host.UserID] = code
	reg.locker.Unlock()
	registered = true

	reg.log.Info().Str("room", code).Str("host", host.UserID).Msg("room created")
	return view, reg.persist(ctx, c)
}

func (reg *Registry) JoinRoom(ctx context.Context, code string, user domain.Identity, password string) (RoomView, error) {
	code = strings.ToUpper(strings.TrimSpace(code))

	reg.locker.Lock()
	if _, in := reg.members[user.UserID]; in {
		reg.locker.Unlock()
		return RoomView{}, ErrAlreadyInRoom
	}
	a, ok := reg.rooms[code]
	if !ok {
		reg.locker.Unlock()
		return RoomView{}, ErrRoomNotFound
	}
	reg.members[user.UserID] = code
	reg.locker.Unlock()

	joined := false
	defer func() {
		if !joined {
			reg.releaseMember(user.UserID, code)
		}
	}()

	if a.passwordHash != "" {
		if reg.hasher == nil {
			return RoomView{}, ErrWrongPassword
		}
		match, err := reg.hasher.Compare(a.passwordHash, password)
		if err != nil {
			return RoomView{}, err
		}
		if !match {
			return RoomView{}, ErrWrongPassword
		}
	}

	var view RoomView
	c, err := a.do(ctx, func(now time.Time) error {
		if err := a.join(user, now); err != nil {
			return err
		}
		view = a.room.view()
		return nil
	})
	if err != nil {
		return RoomView{}, err
	}
	joined = true
	return view, reg.persist(ctx, c)
}

func (reg *Registry) LeaveRoom(ctx context.Context, userID string) error {
	a, code, err := reg.actorOf(userID)
	if err != nil {
		return err
	}
	c, err := a.do(ctx, func(now time.Time) error {
		return a.leave(userID, now)
	})
	if err != nil {
		if errors.Is(err, ErrNotInRoom) || errors.Is(err, ErrRoomNotFound) {
			reg.releaseMember(userID, code)
		}
		return err
	}
	reg.releaseMember(userID, code)
	if c.deleted {
		return reg.dropRoom(ctx, c, a)
	}
	return reg.persist(ctx, c)
}

// exec runs fn inside the caller's room and persists whatever it changed.
func (reg *Registry) exec(ctx context.Context, userID string, fn func(a *roomActor, now time.Time) error) error {
	a, _, err := reg.actorOf(userID)
	if err != nil {
		return err
	}
	c, err := a.do(ctx, func(now time.Time) error {
		return fn(a, now)
	})
	if err != nil {
		return err
	}
	return reg.persist(ctx, c)
}

func (reg *Registry) ToggleReady(ctx context.Context, userID string) (bool, error) {
	var ready bool
	err := reg.exec(ctx, userID, func(a *roomActor, now time.Time) error {
		var err error
		ready, err = a.toggleReady(userID, now)
		return err
	})
	return ready, err
}

func (reg *Registry) UpdateSettings(ctx context.Context, userID string, patch SettingsPatch) (RoomSettings, error) {
	var settings RoomSettings
	err := reg.exec(ctx, userID, func(a *roomActor, now time.Time) error {
		if err := a.updateSettings(userID, patch, now); err != nil {
			return err
		}
		settings = a.room.Settings.clone()
		return nil
	})
	return settings, err
}

// SetConnected records a transport disconnect or reconnect. Membership is
// kept either way.
func (reg *Registry) SetConnected(ctx context.Context, userID string, connected bool) error {
	return reg.exec(ctx, userID, func(a *roomActor, now time.Time) error {
		return a.setConnected(userID, connected, now)
	})
}

func (reg *Registry) GetRoomState(ctx context.Context, userID string) (RoomView, error) {
	var view RoomView
	err := reg.exec(ctx, userID, func(a *roomActor, _ time.Time) error {
		if a.room.player(userID) == nil {
			return ErrNotInRoom
		}
		view = a.room.view()
		return nil
	})
	return view, err
}

// ListRooms returns the rooms anyone can join right now: waiting, not
// full and without a password.
func (reg *Registry) ListRooms() []RoomSummary {
	reg.locker.RLock()
	rooms := make([]RoomSummary, 0, len(reg.rooms))
	for _, a := range reg.rooms {
		s := a.summary.Load()
		if s == nil || s.Status != RoomWaiting || s.HasPassword || s.Players >= s.MaxPlayers {
			continue
		}
		rooms = append(rooms, *s)
	}
	reg.locker.RUnlock()

	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].Name != rooms[j].Name {
			return rooms[i].Name < rooms[j].Name
		}
		return rooms[i].Code < rooms[j].Code
	})
	return rooms
}

// LiveCodes returns the code of every running room.
func (reg *Registry) LiveCodes() []string {
	reg.locker.RLock()
	defer reg.locker.RUnlock()
	codes := make([]string, 0, len(reg.rooms))
	for code := range reg.rooms {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Shutdown stops every room. Callers wait on the WaitGroup given in Options.
func (reg *Registry) Shutdown() {
	reg.locker.Lock()
	defer reg.locker.Unlock()
	for _, a := range reg.rooms {
		a.stop()
	}
}

// persist writes a commit after its room has been released. Failures are
// reported as ErrPersistence: the in-memory state already moved on.
func (reg *Registry) persist(ctx context.Context, c commit) error {
	if c.empty() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reg.persistTimeout)
	defer cancel()

	var errs []error
	if c.room != nil {
		if err := reg.repo.SaveRoom(ctx, *c.room); err != nil && !errors.Is(err, domain.ErrStaleWrite) {
			errs = append(errs, err)
		}
	}
	if c.game != nil {
		if err := reg.repo.SaveGame(ctx, *c.game); err != nil && !errors.Is(err, domain.ErrStaleWrite) {
			errs = append(errs, err)
		}
	}
	for _, rec := range c.strokes {
		if err := reg.repo.SaveStrokeLog(ctx, rec); err != nil && !errors.Is(err, domain.ErrStaleWrite) {
			errs = append(errs, err)
		}
	}
	if c.deleted {
		if err := reg.repo.DeleteRoom(ctx, c.code, c.version); err != nil && !errors.Is(err, domain.ErrStaleWrite) {
			errs = append(errs, err)
		}
	}
	if c.finished != nil && len(c.finished.leaderboard) > 0 {
		if err := reg.stats.RecordGame(ctx, c.finished.gameID, c.finished.leaderboard); err != nil {
			reg.log.Error().Err(err).Str("game", c.finished.gameID).Msg("recording player stats failed")
		}
	}

	if len(errs) > 0 {
		err := errors.Join(errs...)
		reg.log.Error().Err(err).Str("room", c.code).Int64("version", c.version).Msg("persisting room state failed")
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	return nil
}
