package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/equipment-reservations/internal/domain"
	"github.com/robertarktes/equipment-reservations/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// AuditLogger appends one document per completed reservation change.
type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID        string    `bson:"_id"`
	Action    string    `bson:"action"`
	Email     string    `bson:"email"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

func (a *AuditLogger) LogEvent(ctx context.Context, action, email string, data bson.M) error {
	log := AuditLog{
		ID:        uuid.NewString(),
		Action:    action,
		Email:     email,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	_, err := a.coll.InsertOne(ctx, log)
	if err != nil {
		a.logger.WithError(err).Error("failed to insert audit log")
		return err
	}
	return nil
}

func (a *AuditLogger) LogReservation(ctx context.Context, action string, r domain.Reservation) error {
	items := make(bson.A, 0, len(r.Items))
	for _, item := range r.Items {
		items = append(items, bson.M{
			"item_id":        item.ID.String(),
			"equipment_id":   item.EquipmentID.String(),
			"equipment_name": item.EquipmentName,
			"quantity":       item.Quantity,
			"returned":       item.Returned,
		})
	}
	data := bson.M{
		"reservation_id": r.ID.String(),
		"status":         r.Status,
		"collected":      r.Collected,
		"version":        int64(r.Version),
		"items":          items,
	}
	return a.LogEvent(ctx, action, r.Email, data)
}
