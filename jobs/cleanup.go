package jobs

import (
	"context"
	"time"

	"github.com/armando-rios/pinturillo/storage"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Purger interface {
	Purge(ctx context.Context, now time.Time, keep storage.Retention, live []string) (storage.PurgeResult, error)
}

type LiveRooms interface {
	LiveCodes() []string
}

const purgeTimeout = 2 * time.Minute

// Cleaner runs the storage purge on a cron schedule.
type Cleaner struct {
	cron   *cron.Cron
	purger Purger
	rooms  LiveRooms
	keep   storage.Retention
	now    func() time.Time
}

func NewCleaner(schedule string, purger Purger, rooms LiveRooms, keep storage.Retention) (*Cleaner, error) {
	logger := cronLogger{log.With().Str("component", "cleanup").Logger()}
	c := &Cleaner{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		purger: purger,
		rooms:  rooms,
		keep:   keep,
		now:    time.Now,
	}
	if _, err := c.cron.AddFunc(schedule, c.run); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cleaner) Start() { c.cron.Start() }

// Stop prevents new runs and returns a context done once a running purge
// finishes.
func (c *Cleaner) Stop() context.Context { return c.cron.Stop() }

func (c *Cleaner) run() {
	ctx, cancel := context.WithTimeout(context.Background(), purgeTimeout)
	defer cancel()

	start := c.now()
	res, err := c.purger.Purge(ctx, start, c.keep, c.rooms.LiveCodes())
	if err != nil {
		log.Error().Err(err).Msg("cleanup failed")
		return
	}
	log.Info().
		Int64("games", res.Games).
		Int64("strokeLogs", res.StrokeLogs).
		Int64("rooms", res.Rooms).
		Int64("codes", res.Codes).
		Dur("took", c.now().Sub(start)).
		Msg("cleanup done")
}

type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
