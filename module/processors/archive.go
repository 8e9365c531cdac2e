package processors

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"shuttle/data/database"
	"shuttle/module/shuttle"
	"shuttle/service/hub/hubpb"
	"shuttle/tools/errs"
)

// ArchivedMessage is the raw copy of a hub message kept in Mongo.
type ArchivedMessage struct {
	Hash      string    `bson:"_id"`
	Fid       int64     `bson:"fid"`
	Type      int32     `bson:"type"`
	Timestamp time.Time `bson:"timestamp"`
	State     string    `bson:"state"`
	Operation string    `bson:"operation"`
	Raw       []byte    `bson:"raw"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func (ArchivedMessage) GetTableName() string {
	return "hub_messages"
}

// Upserter is the slice of *mongo.Collection the archive needs.
type Upserter interface {
	UpdateOne(ctx context.Context, filter any, update any, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

// Archive mirrors each new message state into a Mongo collection. It runs
// outside the Postgres transaction; a failure rolls the event back and it is retried.
type Archive struct {
	coll Upserter
	now  func() time.Time
	log  *zap.Logger
}

func NewArchive(coll Upserter, log *zap.Logger) *Archive {
	if log == nil {
		log = zap.NewNop()
	}
	return &Archive{coll: coll, now: time.Now, log: log}
}

// NewMongoArchive binds the archive to the hub_messages collection of db.
func NewMongoArchive(db *mongo.Database, log *zap.Logger) *Archive {
	return NewArchive(database.Collection(db, ArchivedMessage{}), log)
}

var _ shuttle.MessageHandler = (*Archive)(nil)

func (a *Archive) HandleMessageMerge(ctx context.Context, _ pgx.Tx, msg *hubpb.Message, op shuttle.Operation,
	state shuttle.MessageState, isNew, _ bool) error {
	if !isNew {
		return nil
	}
	raw, err := msg.Marshal()
	if err != nil {
		return err
	}
	now := a.now()
	filter := bson.M{"_id": msg.HashHex()}
	update := bson.M{
		"$set": bson.M{
			"state":      string(state),
			"operation":  string(op),
			"raw":        raw,
			"updated_at": now,
		},
		"$setOnInsert": bson.M{
			"fid":        int64(msg.Fid()),
			"type":       int32(msg.Type()),
			"timestamp":  msg.Timestamp(),
			"created_at": now,
		},
	}
	if _, err := a.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		return errs.ErrHandler.WrapCause(err, "archive message", "hash", msg.HashHex())
	}
	return nil
}
