package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stagedoor/handoff-server-go/internal/repository"
)

// SessionExpirer sweeps pairing sessions past their TTL.
type SessionExpirer interface {
	ExpireStale(now time.Time) int
}

// ExpiryJob periodically expires stale pairing sessions and reclaims ended
// stage rows.
type ExpiryJob struct {
	sessions  SessionExpirer
	stageRepo repository.StageRepository
	interval  time.Duration
	done      chan struct{}
}

func NewExpiryJob(sessions SessionExpirer, stageRepo repository.StageRepository, interval time.Duration) *ExpiryJob {
	return &ExpiryJob{
		sessions:  sessions,
		stageRepo: stageRepo,
		interval:  interval,
		done:      make(chan struct{}),
	}
}

func (j *ExpiryJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("expiry job started")
}

func (j *ExpiryJob) Stop() {
	close(j.done)
	log.Info().Msg("expiry job stopped")
}

func (j *ExpiryJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.sweep()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *ExpiryJob) sweep() {
	if count := j.sessions.ExpireStale(time.Now()); count > 0 {
		log.Info().Int("count", count).Msg("expired pairing sessions")
	}

	if j.stageRepo == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	count, err := j.stageRepo.DeleteEnded(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to reclaim ended stages")
	} else if count > 0 {
		log.Info().Int64("count", count).Msg("reclaimed ended stages")
	}
}
