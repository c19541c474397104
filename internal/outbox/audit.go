package outbox

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/flowsmith/bpmn-backend/internal/platform/logger"
)

// AuditScheduler logs outbox backlog health on a nightly cadence so a stuck
// handler surfaces in the logs even when nobody is watching dashboards.
type AuditScheduler struct {
	repo *Repository
	log  *logger.Logger
}

func NewAuditScheduler(repo *Repository, log *logger.Logger) *AuditScheduler {
	return &AuditScheduler{repo: repo, log: log.With("component", "outbox-audit")}
}

// Start registers the nightly audit job (12:00 AM) and starts the cron loop.
func (s *AuditScheduler) Start() *cron.Cron {
	c := cron.New(cron.WithSeconds())

	_, err := c.AddFunc("0 0 0 * * *", func() {
		s.runAudit()
	})
	if err != nil {
		s.log.Error("failed to create audit cron job", "error", err)
		return c
	}

	s.log.Info("outbox audit scheduled (nightly at 12:00AM)")
	c.Start()
	return c
}

func (s *AuditScheduler) runAudit() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stats, err := s.repo.Stats(ctx)
	if err != nil {
		s.log.Error("backlog audit failed", "error", err)
		return
	}

	if stats.Unprocessed == 0 {
		s.log.Info("outbox backlog clean")
		return
	}

	s.log.Warn("outbox backlog present",
		"unprocessed", stats.Unprocessed,
		"stale_claims", stats.StaleClaims,
		"oldest_age", stats.OldestAge.String(),
	)
}
