package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/armando-rios/pinturillo/domain"
	"github.com/armando-rios/pinturillo/game"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepo persists rooms, games and stroke logs, and serves the word
// catalog, room code reservations and player stats.
type PostgresRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresRepo(ctx context.Context, connString string) (*PostgresRepo, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresRepo{pool: pool}, nil
}

func (pgr *PostgresRepo) Close() {
	pgr.pool.Close()
}

func dbError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.UnexpectedDatabaseError, err)
}

// staleUnlessWritten turns a conditional write that matched no row into
// ErrStaleWrite.
func staleUnlessWritten(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return dbError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStaleWrite
	}
	return nil
}

// SaveRoom upserts the room row. A newer version of the same room wins; a
// different room under the same code wins when it was created later.
func (pgr *PostgresRepo) SaveRoom(ctx context.Context, rec game.RoomRecord) error {
	r := rec.Room
	tag, err := pgr.pool.Exec(ctx, `
		INSERT INTO rooms (code, id, name, host_id, status, has_password, password_hash,
			current_game_id, settings, players, game_history, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9,
			COALESCE($10::jsonb, '[]'), COALESCE($11::jsonb, '[]'), $12, $13, $14)
		ON CONFLICT (code) DO UPDATE SET
			id = EXCLUDED.id,
			name = EXCLUDED.name,
			host_id = EXCLUDED.host_id,
			status = EXCLUDED.status,
			has_password = EXCLUDED.has_password,
			password_hash = EXCLUDED.password_hash,
			current_game_id = EXCLUDED.current_game_id,
			settings = EXCLUDED.settings,
			players = EXCLUDED.players,
			game_history = EXCLUDED.game_history,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at,
			version = EXCLUDED.version
		WHERE (rooms.id = EXCLUDED.id AND rooms.version < EXCLUDED.version)
			OR (rooms.id <> EXCLUDED.id AND rooms.created_at <= EXCLUDED.created_at)`,
		r.Code, r.ID, r.Name, r.HostID, r.Status, r.HasPassword, rec.PasswordHash,
		rec.CurrentGameID, r.Settings, r.Players, r.GameHistory, r.CreatedAt, r.UpdatedAt, rec.Version,
	)
	return staleUnlessWritten(tag, err)
}

func (pgr *PostgresRepo) DeleteRoom(ctx context.Context, code string, version int64) error {
	tag, err := pgr.pool.Exec(ctx, "DELETE FROM rooms WHERE code = $1 AND version < $2", code, version)
	return staleUnlessWritten(tag, err)
}

func (pgr *PostgresRepo) SaveGame(ctx context.Context, rec game.GameRecord) error {
	g := rec.Game
	tag, err := pgr.pool.Exec(ctx, `
		INSERT INTO games (id, room_code, status, settings, players, rounds,
			current_round_index, started_at, finished_at, version)
		VALUES ($1, $2, $3, $4, COALESCE($5::jsonb, '[]'), COALESCE($6::jsonb, '[]'), $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			players = EXCLUDED.players,
			rounds = EXCLUDED.rounds,
			current_round_index = EXCLUDED.current_round_index,
			finished_at = EXCLUDED.finished_at,
			version = EXCLUDED.version
		WHERE games.version < EXCLUDED.version`,
		g.ID, g.RoomCode, g.Status, g.Settings, g.Players, g.Rounds,
		g.CurrentRoundIndex, g.StartedAt, g.FinishedAt, rec.Version,
	)
	return staleUnlessWritten(tag, err)
}

func (pgr *PostgresRepo) SaveStrokeLog(ctx context.Context, rec game.StrokeLogRecord) error {
	l := rec.Log
	tag, err := pgr.pool.Exec(ctx, `
		INSERT INTO stroke_logs (game_id, round_number, drawer_id, strokes, metadata,
			completed, created_at, updated_at, completed_at, version)
		VALUES ($1, $2, $3, COALESCE($4::jsonb, '[]'), $5, $6, $7, $8, $9, $10)
		ON CONFLICT (game_id, round_number) DO UPDATE SET
			strokes = EXCLUDED.strokes,
			metadata = EXCLUDED.metadata,
			completed = EXCLUDED.completed,
			updated_at = EXCLUDED.updated_at,
			completed_at = EXCLUDED.completed_at,
			version = EXCLUDED.version
		WHERE stroke_logs.version < EXCLUDED.version`,
		l.GameID, l.RoundNumber, l.DrawerID, l.Strokes, l.Metadata,
		l.Completed, l.CreatedAt, l.UpdatedAt, l.CompletedAt, rec.Version,
	)
	return staleUnlessWritten(tag, err)
}

// LoadGame reads back a persisted game without its stroke logs.
func (pgr *PostgresRepo) LoadGame(ctx context.Context, id string) (game.Game, int64, error) {
	var (
		g       = game.Game{ID: id}
		version int64
	)
	err := pgr.pool.QueryRow(ctx, `
		SELECT room_code, status, settings, players, rounds, current_round_index,
			started_at, finished_at, version
		FROM games WHERE id = $1`, id,
	).Scan(&g.RoomCode, &g.Status, &g.Settings, &g.Players, &g.Rounds, &g.CurrentRoundIndex,
		&g.StartedAt, &g.FinishedAt, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return game.Game{}, 0, game.ErrNoGame
		}
		return game.Game{}, 0, dbError(err)
	}
	return g, version, nil
}

// LoadStrokeLogs returns the stroke logs of a game ordered by round.
func (pgr *PostgresRepo) LoadStrokeLogs(ctx context.Context, gameID string) ([]game.StrokeLog, error) {
	rows, err := pgr.pool.Query(ctx, `
		SELECT round_number, drawer_id, strokes, metadata, completed, created_at, updated_at, completed_at
		FROM stroke_logs WHERE game_id = $1 ORDER BY round_number`, gameID)
	if err != nil {
		return nil, dbError(err)
	}
	logs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (game.StrokeLog, error) {
		l := game.StrokeLog{GameID: gameID}
		err := row.Scan(&l.RoundNumber, &l.DrawerID, &l.Strokes, &l.Metadata, &l.Completed,
			&l.CreatedAt, &l.UpdatedAt, &l.CompletedAt)
		return l, err
	})
	if err != nil {
		return nil, dbError(err)
	}
	return logs, nil
}

// Reserve implements game.CodeReserver with the room_codes table.
func (pgr *PostgresRepo) Reserve(ctx context.Context, code string) (bool, error) {
	tag, err := pgr.pool.Exec(ctx, "INSERT INTO room_codes(code) VALUES($1) ON CONFLICT DO NOTHING", code)
	if err != nil {
		return false, dbError(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (pgr *PostgresRepo) Release(ctx context.Context, code string) error {
	if _, err := pgr.pool.Exec(ctx, "DELETE FROM room_codes WHERE code = $1", code); err != nil {
		return dbError(err)
	}
	return nil
}

type Retention struct {
	FinishedGames time.Duration
	StrokeLogs    time.Duration
	IdleRooms     time.Duration
}

type PurgeResult struct {
	Games      int64
	StrokeLogs int64
	Rooms      int64
	Codes      int64
}

// Purge removes finished games, stroke logs and idle rooms past their
// retention, then frees codes no room row holds anymore. Rooms listed in
// live are still running and keep both their row and their code.
func (pgr *PostgresRepo) Purge(ctx context.Context, now time.Time, keep Retention, live []string) (PurgeResult, error) {
	if live == nil {
		live = []string{}
	}
	var res PurgeResult
	err := pgx.BeginFunc(ctx, pgr.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, "DELETE FROM games WHERE status = $1 AND finished_at < $2",
			game.GameFinished, now.Add(-keep.FinishedGames))
		if err != nil {
			return err
		}
		res.Games = tag.RowsAffected()

		tag, err = tx.Exec(ctx, "DELETE FROM stroke_logs WHERE updated_at < $1", now.Add(-keep.StrokeLogs))
		if err != nil {
			return err
		}
		res.StrokeLogs = tag.RowsAffected()

		tag, err = tx.Exec(ctx, "DELETE FROM rooms WHERE updated_at < $1 AND code <> ALL($2)",
			now.Add(-keep.IdleRooms), live)
		if err != nil {
			return err
		}
		res.Rooms = tag.RowsAffected()

		tag, err = tx.Exec(ctx, `
			DELETE FROM room_codes c
			WHERE c.reserved_at < $1 AND c.code <> ALL($2)
				AND NOT EXISTS (SELECT 1 FROM rooms r WHERE r.code = c.code)`,
			now.Add(-keep.IdleRooms), live)
		if err != nil {
			return err
		}
		res.Codes = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return PurgeResult{}, dbError(err)
	}
	return res, nil
}
