package storage

import (
	"context"

	"github.com/armando-rios/pinturillo/domain"
	"github.com/armando-rios/pinturillo/game"
	"github.com/jackc/pgx/v5"
)

// Words implements game.WordCatalog over the words table.
func (pgr *PostgresRepo) Words(ctx context.Context, difficulty game.Difficulty) ([]string, error) {
	tiers := difficulty.Tiers()
	if len(tiers) == 0 {
		return nil, domain.Invalid("unknown difficulty %q", difficulty)
	}
	names := make([]string, len(tiers))
	for i, t := range tiers {
		names[i] = string(t)
	}

	rows, err := pgr.pool.Query(ctx, "SELECT word FROM words WHERE difficulty = ANY($1) ORDER BY id", names)
	if err != nil {
		return nil, dbError(err)
	}
	words, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, dbError(err)
	}
	return words, nil
}
