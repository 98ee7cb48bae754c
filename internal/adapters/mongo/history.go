package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/equipment-reservations/internal/domain"
	"github.com/robertarktes/equipment-reservations/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// HistoryRepository stores reservation snapshots. Documents are inserted once and never updated.
type HistoryRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewHistoryRepository(db *mongo.Database, logger observability.Logger) *HistoryRepository {
	return &HistoryRepository{
		coll:   db.Collection("reservation_history"),
		logger: logger,
	}
}

type HistoryDoc struct {
	ID            string    `bson:"_id"`
	ReservationID string    `bson:"reservation_id"`
	Email         string    `bson:"email"`
	CreatedAt     time.Time `bson:"created_at"`
	Collected     bool      `bson:"collected"`
	SnapshotAt    time.Time `bson:"snapshot_at"`
}

func toDoc(h domain.ReservationHistory) HistoryDoc {
	return HistoryDoc{
		ID:            h.ID.String(),
		ReservationID: h.ReservationID.String(),
		Email:         h.Email,
		CreatedAt:     h.CreatedAt,
		Collected:     h.Collected,
		SnapshotAt:    h.SnapshotAt,
	}
}

func (d HistoryDoc) toDomain() (domain.ReservationHistory, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return domain.ReservationHistory{}, errors.Wrapf(err, "history id %q", d.ID)
	}
	reservationID, err := uuid.Parse(d.ReservationID)
	if err != nil {
		return domain.ReservationHistory{}, errors.Wrapf(err, "reservation id %q", d.ReservationID)
	}
	return domain.ReservationHistory{
		ID:            id,
		ReservationID: reservationID,
		Email:         d.Email,
		CreatedAt:     d.CreatedAt,
		Collected:     d.Collected,
		SnapshotAt:    d.SnapshotAt,
	}, nil
}

func (r *HistoryRepository) InsertHistory(ctx context.Context, h domain.ReservationHistory) error {
	_, err := r.coll.InsertOne(ctx, toDoc(h))
	if err != nil {
		r.logger.WithError(err).Error("failed to insert history")
		return errors.Wrap(err, "insert history")
	}
	return nil
}

func (r *HistoryRepository) ListHistory(ctx context.Context) ([]domain.ReservationHistory, error) {
	cur, err := r.coll.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "snapshot_at", Value: -1}}))
	if err != nil {
		return nil, errors.Wrap(err, "find history")
	}
	defer cur.Close(ctx)

	var docs []HistoryDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decode history")
	}
	out := make([]domain.ReservationHistory, 0, len(docs))
	for _, d := range docs {
		h, err := d.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}
