package db

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"MailScheduler/internal/errors"
	"MailScheduler/internal/models"
)

const mongoCollection = "scheduledemails"

type mongoEmail struct {
	ID            string             `bson:"_id"`
	SenderEmail   string             `bson:"senderEmail"`
	TemplateKey   string             `bson:"templateKey"`
	Recipients    []models.Recipient `bson:"recipients"`
	ScheduledTime time.Time          `bson:"scheduledTime"`
	EmailData     map[string]any     `bson:"emailData,omitempty"`
	Status        string             `bson:"status"`
	Error         string             `bson:"error,omitempty"`
	Results       []models.Result    `bson:"results,omitempty"`
	CreatedAt     time.Time          `bson:"createdAt"`
	SentAt        *time.Time         `bson:"sentAt,omitempty"`
	FailedAt      *time.Time         `bson:"failedAt,omitempty"`
	CancelledAt   *time.Time         `bson:"cancelledAt,omitempty"`
}

func (d mongoEmail) model() models.ScheduledEmail {
	return models.ScheduledEmail{
		ID:            d.ID,
		SenderEmail:   d.SenderEmail,
		TemplateKey:   d.TemplateKey,
		Recipients:    d.Recipients,
		ScheduledTime: d.ScheduledTime,
		Payload:       d.EmailData,
		Status:        models.EmailStatus(d.Status),
		Error:         d.Error,
		Results:       d.Results,
		CreatedAt:     d.CreatedAt,
		SentAt:        d.SentAt,
		FailedAt:      d.FailedAt,
		CancelledAt:   d.CancelledAt,
	}
}

type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func NewMongo(ctx context.Context, uri, database string, retries int, logger *zap.Logger) (*MongoStore, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, errors.Persistence(err, "connect mongo")
	}

	ping := func(ctx context.Context) error { return client.Ping(ctx, readpref.Primary()) }
	if err := connectWithRetry(ctx, retries, logger, "mongo", ping); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Persistence(err, "ping mongo")
	}

	coll := client.Database(database).Collection(mongoCollection)

	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "scheduledTime", Value: 1}, {Key: "status", Value: 1}},
		Options: options.Index().SetName("scheduledTime_status"),
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Persistence(err, "create mongo index")
	}

	return &MongoStore{client: client, coll: coll}, nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) Create(ctx context.Context, job *models.ScheduledEmail) (string, error) {
	if err := prepareNew(job); err != nil {
		return "", err
	}

	doc := mongoEmail{
		ID:            job.ID,
		SenderEmail:   job.SenderEmail,
		TemplateKey:   job.TemplateKey,
		Recipients:    job.Recipients,
		ScheduledTime: job.ScheduledTime,
		EmailData:     job.Payload,
		Status:        string(models.StatusPending),
		CreatedAt:     job.CreatedAt,
	}

	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return "", errors.Persistence(err, "insert scheduled email")
	}
	return job.ID, nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (*models.ScheduledEmail, error) {
	var doc mongoEmail
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, errors.Persistence(err, "get scheduled email")
	}
	job := doc.model()
	return &job, nil
}

func (s *MongoStore) UpdateStatus(ctx context.Context, id string, u models.StatusUpdate) (bool, error) {
	if err := checkUpdate(u); err != nil {
		return false, err
	}

	set := bson.M{"status": string(u.Status)}
	switch u.Status {
	case models.StatusSent, models.StatusPartial:
		set["sentAt"] = u.At
	case models.StatusFailed:
		set["failedAt"] = u.At
		set["error"] = u.Error
	case models.StatusCancelled:
		set["cancelledAt"] = u.At
	}
	if u.Results != nil {
		set["results"] = u.Results
	}

	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id, "status": string(models.StatusPending)},
		bson.M{"$set": set},
	)
	if err != nil {
		return false, errors.Persistence(err, "update scheduled email status")
	}
	return res.MatchedCount == 1, nil
}

func (s *MongoStore) ListRecent(ctx context.Context, limit int) ([]models.ScheduledEmail, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "scheduledTime", Value: -1}}).
		SetLimit(int64(limit))
	return s.find(ctx, bson.M{}, opts, "list scheduled emails")
}

func (s *MongoStore) ListPendingFuture(ctx context.Context, now time.Time) ([]models.ScheduledEmail, error) {
	filter := bson.M{
		"status":        string(models.StatusPending),
		"scheduledTime": bson.M{"$gt": now},
	}
	opts := options.Find().SetSort(bson.D{{Key: "scheduledTime", Value: 1}})
	return s.find(ctx, filter, opts, "list pending future emails")
}

func (s *MongoStore) ListPendingDue(ctx context.Context, now time.Time) ([]models.ScheduledEmail, error) {
	filter := bson.M{
		"status":        string(models.StatusPending),
		"scheduledTime": bson.M{"$lte": now},
	}
	opts := options.Find().SetSort(bson.D{{Key: "scheduledTime", Value: 1}})
	return s.find(ctx, filter, opts, "list pending due emails")
}

func (s *MongoStore) find(ctx context.Context, filter bson.M, opts *options.FindOptions, op string) ([]models.ScheduledEmail, error) {
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Persistence(err, op)
	}

	var docs []mongoEmail
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Persistence(err, op)
	}

	jobs := make([]models.ScheduledEmail, 0, len(docs))
	for _, d := range docs {
		jobs = append(jobs, d.model())
	}
	return jobs, nil
}
