package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-usage/internal/events"
	"github.com/ukydev/fleet-usage/internal/models"
)

// Sweeper periodically recomputes alerts and publishes one event per alerting asset.
// It adds nothing to the calculation; status is still derived on read.
type Sweeper struct {
	service   *Service
	publisher events.Publisher
	scheduler *cron.Cron
	entryID   cron.EntryID
	timeout   time.Duration
}

// NewSweeper creates a sweeper. Schedules use the six-field cron format with seconds.
func NewSweeper(service *Service, publisher events.Publisher) *Sweeper {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Sweeper{
		service:   service,
		publisher: publisher,
		scheduler: cron.New(cron.WithSeconds()),
		timeout:   time.Minute,
	}
}

// Start schedules the sweep, e.g. "0 0 6 * * *" for every day at 06:00.
func (s *Sweeper) Start(schedule string) error {
	var err error
	s.entryID, err = s.scheduler.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if _, err := s.RunOnce(ctx); err != nil {
			log.WithError(err).Error("Maintenance sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("error scheduling maintenance sweep: %w", err)
	}
	s.scheduler.Start()
	log.WithField("schedule", schedule).Info("Maintenance sweeper started")
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.scheduler.Stop().Done()
	log.Info("Maintenance sweeper stopped")
}

// RunOnce computes the current alerts and publishes them.
func (s *Sweeper) RunOnce(ctx context.Context) ([]models.MaintenanceStatus, error) {
	alerts, err := s.service.Alerts(ctx)
	if err != nil {
		return nil, err
	}
	for _, alert := range alerts {
		events.Emit(ctx, s.publisher, events.Event{
			Type:    events.MaintenanceAlert,
			AssetID: alert.AssetID,
			Data:    alert,
		})
	}
	log.WithField("alerts", len(alerts)).Info("Maintenance sweep completed")
	return alerts, nil
}
