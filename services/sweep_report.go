package services

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDB names for the sweep archive
const (
	SweepReportDBName     = "broker_sessions"
	SweepReportCollection = "sweep_reports"
)

// SweepReport is one archived sweep cycle document
type SweepReport struct {
	StartedAt  time.Time  `bson:"started_at" json:"started_at"`
	FinishedAt time.Time  `bson:"finished_at" json:"finished_at"`
	Stats      SweepStats `bson:"stats" json:"stats"`
}

// SweepReportStore archives sweep cycle outcomes to MongoDB Atlas. The
// archive is optional: without MONGODB_URI every operation is a logged
// no-op, and archive failures never fail a sweep.
type SweepReportStore struct {
	client      *mongo.Client
	collection  *mongo.Collection
	isConnected bool
}

// NewSweepReportStore connects to MongoDB when MONGODB_URI is configured
func NewSweepReportStore() *SweepReportStore {
	mongoURI := os.Getenv("MONGODB_URI")
	if mongoURI == "" {
		log.Println("MONGODB_URI not set, sweep report archive disabled")
		return &SweepReportStore{}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(mongoURI).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1)).
		SetMaxPoolSize(10).
		SetMinPoolSize(2).
		SetMaxConnIdleTime(30 * time.Second).
		SetConnectTimeout(30 * time.Second).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		log.Printf("Failed to connect to MongoDB, sweep archive disabled: %v", err)
		return &SweepReportStore{}
	}

	if err := client.Ping(ctx, nil); err != nil {
		log.Printf("Failed to ping MongoDB, sweep archive disabled: %v", err)
		client.Disconnect(ctx)
		return &SweepReportStore{}
	}

	log.Println("Sweep report archive connected to MongoDB")
	return &SweepReportStore{
		client:      client,
		collection:  client.Database(SweepReportDBName).Collection(SweepReportCollection),
		isConnected: true,
	}
}

// IsConnected reports whether the archive is usable
func (s *SweepReportStore) IsConnected() bool {
	return s != nil && s.isConnected
}

// SaveReport archives one sweep cycle. Best-effort.
func (s *SweepReportStore) SaveReport(stats SweepStats) {
	if !s.IsConnected() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	report := SweepReport{
		StartedAt:  stats.StartedAt,
		FinishedAt: stats.FinishedAt,
		Stats:      stats,
	}
	if _, err := s.collection.InsertOne(ctx, report); err != nil {
		log.Printf("Failed to archive sweep report: %v", err)
	}
}

// RecentReports returns the newest archived sweep cycles
func (s *SweepReportStore) RecentReports(limit int) ([]SweepReport, error) {
	if !s.IsConnected() {
		return nil, nil
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := s.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("query sweep reports: %w", err)
	}
	defer cursor.Close(ctx)

	var reports []SweepReport
	if err := cursor.All(ctx, &reports); err != nil {
		return nil, fmt.Errorf("decode sweep reports: %w", err)
	}
	return reports, nil
}

// DeleteOlderThan removes archived reports past the retention cutoff
func (s *SweepReportStore) DeleteOlderThan(cutoff time.Time) {
	if !s.IsConnected() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := s.collection.DeleteMany(ctx, bson.M{"started_at": bson.M{"$lt": cutoff}})
	if err != nil {
		log.Printf("Failed to prune sweep reports: %v", err)
		return
	}
	if result.DeletedCount > 0 {
		log.Printf("Pruned %d archived sweep reports", result.DeletedCount)
	}
}

// Close disconnects from MongoDB
func (s *SweepReportStore) Close() {
	if !s.IsConnected() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.Disconnect(ctx); err != nil {
		log.Printf("MongoDB disconnect error: %v", err)
	}
}
