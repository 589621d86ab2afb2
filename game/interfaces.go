package game

import (
	"context"
	"time"
)

// RoomRecord, GameRecord and StrokeLogRecord are detached copies taken at
// commit time. Version grows with every committed command of the room, so
// a repository can drop writes that arrive out of order.
type RoomRecord struct {
	Room          Room
	PasswordHash  string
	CurrentGameID string
	Version       int64
}

type GameRecord struct {
	Game    Game
	Version int64
}

type StrokeLogRecord struct {
	Log     StrokeLog
	Version int64
}

type Repository interface {
	SaveRoom(ctx context.Context, rec RoomRecord) error
	DeleteRoom(ctx context.Context, code string, version int64) error
	SaveGame(ctx context.Context, rec GameRecord) error
	SaveStrokeLog(ctx context.Context, rec StrokeLogRecord) error
}

// StatsRecorder receives the final leaderboard of every finished game,
// exactly once per game.
type StatsRecorder interface {
	RecordGame(ctx context.Context, gameID string, leaderboard []LeaderboardEntry) error
}

type PlayerStats struct {
	UserID       string    `json:"userId"`
	Username     string    `json:"username"`
	GamesPlayed  int       `json:"gamesPlayed"`
	GamesWon     int       `json:"gamesWon"`
	TotalScore   int64     `json:"totalScore"`
	BestScore    int       `json:"bestScore"`
	AverageScore int       `json:"averageScore"`
	WinRate      int       `json:"winRate"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type StatsReader interface {
	PlayerStats(ctx context.Context, userID string) (PlayerStats, error)
}

// GameHistory reads persisted games and their stroke logs back.
type GameHistory interface {
	LoadGame(ctx context.Context, id string) (Game, int64, error)
	LoadStrokeLogs(ctx context.Context, gameID string) ([]StrokeLog, error)
}

type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) (bool, error)
}

// CodeReserver claims room codes atomically. Reserve reports false when the
// code is already taken.
type CodeReserver interface {
	Reserve(ctx context.Context, code string) (bool, error)
	Release(ctx context.Context, code string) error
}

type nopRepository struct{}

func (nopRepository) SaveRoom(context.Context, RoomRecord) error           { return nil }
func (nopRepository) DeleteRoom(context.Context, string, int64) error      { return nil }
func (nopRepository) SaveGame(context.Context, GameRecord) error           { return nil }
func (nopRepository) SaveStrokeLog(context.Context, StrokeLogRecord) error { return nil }

type nopStats struct{}

func (nopStats) RecordGame(context.Context, string, []LeaderboardEntry) error { return nil }
