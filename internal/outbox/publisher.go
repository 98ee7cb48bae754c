package outbox

import (
	"context"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/equipment-reservations/internal/domain"
	"github.com/robertarktes/equipment-reservations/internal/observability"
	"golang.org/x/sync/errgroup"
)

type sender interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

// Publisher moves events written to the outbox onto the message broker. Delivery is at least
// once; consumers dedupe on MessageId.
type Publisher struct {
	repo      domain.OutboxStore
	rabbitPub sender
	logger    observability.Logger
	interval  time.Duration
	batch     int
}

func NewPublisher(repo domain.OutboxStore, rabbitPub sender, logger observability.Logger, interval time.Duration, batch int) *Publisher {
	return &Publisher{
		repo:      repo,
		rabbitPub: rabbitPub,
		logger:    logger.WithField("component", "outbox"),
		interval:  interval,
		batch:     batch,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	p.logger.Info("outbox publisher started")
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.Drain(ctx); err != nil {
				p.logger.WithError(err).Error("outbox drain failed")
			}
		}
	}
}

// Drain publishes one batch and returns how many events made it to the broker.
func (p *Publisher) Drain(ctx context.Context) (int, error) {
	records, err := p.repo.GetUnpublishedOutbox(ctx, p.batch)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		observability.OutboxLag.Set(0)
		return 0, nil
	}
	observability.OutboxLag.Set(time.Since(records[0].CreatedAt).Seconds())

	var published atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, rec := range records {
		rec := rec
		g.Go(func() error {
			msg := amqp.Publishing{
				MessageId:   rec.DedupeKey,
				ContentType: "application/json",
				Timestamp:   rec.CreatedAt,
				Type:        rec.EventType,
				Body:        rec.Payload,
			}
			if err := p.rabbitPub.Publish(gctx, rec.EventType, msg); err != nil {
				observability.RabbitPublishRetries.Inc()
				p.logger.WithField("event_id", rec.ID).WithError(err).Warn("publish failed, will retry")
				return nil
			}
			if err := p.repo.MarkPublished(gctx, rec.ID, time.Now()); err != nil {
				return err
			}
			published.Add(1)
			return nil
		})
	}
	err = g.Wait()
	return int(published.Load()), err
}
