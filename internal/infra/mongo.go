package infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrAppointmentNotFound is returned when no appointment of the business matches the id.
var ErrAppointmentNotFound = errors.New("appointment not found")

// NewMongo connects to the scheduling database and pings it.
func NewMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

// MongoAppointments updates payment state on the scheduling system's
// appointments collection. It implements service.AppointmentUpdater.
type MongoAppointments struct {
	Collection *mongo.Collection
}

func NewMongoAppointments(db *mongo.Database) *MongoAppointments {
	return &MongoAppointments{Collection: db.Collection("appointments")}
}

// MarkPaid sets paymentStatus=paid, stores the transaction reference and
// appends a payment note. Appointment ids are ObjectIDs in the scheduling
// database; non-hex ids are matched as plain strings. The business id may be
// stored as a UUID string or as standard binary UUID (subtype 4).
func (r *MongoAppointments) MarkPaid(ctx context.Context, businessID uuid.UUID, appointmentID string, transactionID uuid.UUID, note string) error {
	var id interface{} = appointmentID
	if oid, err := primitive.ObjectIDFromHex(appointmentID); err == nil {
		id = oid
	}

	now := time.Now().UTC()
	filter := bson.M{"_id": id, "businessId": businessIDMatch(businessID)}
	update := bson.M{
		"$set": bson.M{
			"paymentStatus": "paid",
			"transactionId": transactionID.String(),
			"updatedAt":     now,
		},
		"$push": bson.M{
			"paymentNotes": bson.M{
				"note":          note,
				"transactionId": transactionID.String(),
				"createdAt":     now,
			},
		},
	}

	res, err := r.Collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(false))
	if err != nil {
		return fmt.Errorf("appointments: update %s: %w", appointmentID, err)
	}
	if res.MatchedCount == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func businessIDMatch(businessID uuid.UUID) bson.M {
	return bson.M{"$in": bson.A{
		businessID.String(),
		primitive.Binary{Subtype: bson.TypeBinaryUUID, Data: businessID[:]},
	}}
}
