package storage

import (
	"context"
	"errors"
	"math"

	"github.com/armando-rios/pinturillo/domain"
	"github.com/armando-rios/pinturillo/game"
	"github.com/jackc/pgx/v5"
)

// RecordGame folds a finished game's leaderboard into player_stats. A game
// that was already recorded is skipped, so retries are safe.
func (pgr *PostgresRepo) RecordGame(ctx context.Context, gameID string, leaderboard []game.LeaderboardEntry) error {
	err := pgx.BeginFunc(ctx, pgr.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, "INSERT INTO recorded_games(game_id) VALUES($1) ON CONFLICT DO NOTHING", gameID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for _, e := range leaderboard {
			won := 0
			if e.Position == 1 {
				won = 1
			}
			batch.Queue(`
				INSERT INTO player_stats (user_id, username, games_played, games_won, total_score, best_score, updated_at)
				VALUES ($1, $2, 1, $3, $4, $4, NOW())
				ON CONFLICT (user_id) DO UPDATE SET
					username = EXCLUDED.username,
					games_played = player_stats.games_played + 1,
					games_won = player_stats.games_won + EXCLUDED.games_won,
					total_score = player_stats.total_score + EXCLUDED.total_score,
					best_score = GREATEST(player_stats.best_score, EXCLUDED.best_score),
					updated_at = NOW()`,
				e.UserID, e.Username, won, e.Score)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return dbError(err)
	}
	return nil
}

// PlayerStats implements game.StatsReader.
func (pgr *PostgresRepo) PlayerStats(ctx context.Context, userID string) (game.PlayerStats, error) {
	s := game.PlayerStats{UserID: userID}
	err := pgr.pool.QueryRow(ctx, `
		SELECT username, games_played, games_won, total_score, best_score, updated_at
		FROM player_stats WHERE user_id = $1`, userID,
	).Scan(&s.Username, &s.GamesPlayed, &s.GamesWon, &s.TotalScore, &s.BestScore, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return game.PlayerStats{}, domain.NotFound("no stats recorded for this player")
		}
		return game.PlayerStats{}, dbError(err)
	}
	if s.GamesPlayed > 0 {
		s.AverageScore = int(math.Round(float64(s.TotalScore) / float64(s.GamesPlayed)))
		s.WinRate = int(math.Round(float64(s.GamesWon) * 100 / float64(s.GamesPlayed)))
	}
	return s, nil
}
