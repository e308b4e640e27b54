package db

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Janitor evicts conversation history and abandoned dialogues past their TTL.
// A zero TTL keeps the rows forever.
type Janitor struct {
	db         *DB
	historyTTL time.Duration
	stateTTL   time.Duration
	interval   time.Duration
	now        func() time.Time
	logger     zerolog.Logger
}

func NewJanitor(database *DB, historyTTL, stateTTL, interval time.Duration, logger *zerolog.Logger) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Janitor{
		db:         database,
		historyTTL: historyTTL,
		stateTTL:   stateTTL,
		interval:   interval,
		now:        time.Now,
		logger:     logger.With().Str("component", "janitor").Logger(),
	}
}

// Start sweeps once immediately and then every interval until ctx is done.
func (j *Janitor) Start(ctx context.Context) {
	if j.historyTTL <= 0 && j.stateTTL <= 0 {
		j.logger.Info().Msg("Janitor disabled, nothing expires")
		return
	}

	j.Sweep(ctx)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep runs one eviction pass and returns how many history and state rows went.
func (j *Janitor) Sweep(ctx context.Context) (messages, states int64) {
	now := j.now()
	if j.historyTTL > 0 {
		n, err := j.db.PurgeMessagesBefore(ctx, now.Add(-j.historyTTL))
		if err != nil {
			j.logger.Error().Err(err).Msg("purge conversation history")
		}
		messages = n
	}
	if j.stateTTL > 0 {
		n, err := j.db.PurgeDialogueStates(ctx, now.Add(-j.stateTTL))
		if err != nil {
			j.logger.Error().Err(err).Msg("purge dialogue states")
		}
		states = n
	}
	if messages > 0 || states > 0 {
		j.logger.Info().Int64("messages", messages).Int64("states", states).Msg("Expired rows removed")
	}
	return messages, states
}
