package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/example/green-route/internal/models"
)

const (
	routesCollection = "routes"
	trucksCollection = "trucks"
)

// MongoStore persists routes and trucks as documents keyed by their ids.
type MongoStore struct {
	client   *mongo.Client
	database *mongo.Database
}

func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	s := &MongoStore{client: client, database: client.Database(database)}
	s.createIndexes(ctx)
	return s, nil
}

func (s *MongoStore) createIndexes(ctx context.Context) {
	_, _ = s.database.Collection(routesCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "truckId", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: -1}}},
	}, options.CreateIndexes())
}

func (s *MongoStore) Close() error { return s.client.Disconnect(context.Background()) }

func (s *MongoStore) LoadRoute(ctx context.Context, routeID string) (*models.RouteRecord, error) {
	var r models.RouteRecord
	err := s.database.Collection(routesCollection).FindOne(ctx, bson.M{"_id": routeID}).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("route %s: %w", routeID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load route %s: %w", routeID, err)
	}
	return &r, nil
}

func (s *MongoStore) SaveRoute(ctx context.Context, r *models.RouteRecord) error {
	_, err := s.database.Collection(routesCollection).ReplaceOne(ctx, bson.M{"_id": r.RouteID}, r, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save route %s: %w", r.RouteID, err)
	}
	return nil
}

// routeQuery renders the filter as a mongo query document.
func routeQuery(f RouteFilter) bson.M {
	q := bson.M{}
	if f.TruckID != "" {
		q["truckId"] = f.TruckID
	}
	if f.Status != "" {
		q["status"] = string(f.Status)
	}
	if !f.Since.IsZero() {
		q["createdAt"] = bson.M{"$gte": f.Since}
	}
	return q
}

func (s *MongoStore) ListRoutes(ctx context.Context, f RouteFilter) ([]*models.RouteRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}
	cursor, err := s.database.Collection(routesCollection).Find(ctx, routeQuery(f), opts)
	if err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}
	var out []*models.RouteRecord
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}
	return out, nil
}

func (s *MongoStore) LoadTruck(ctx context.Context, truckID string) (*models.TruckRecord, error) {
	var t models.TruckRecord
	err := s.database.Collection(trucksCollection).FindOne(ctx, bson.M{"_id": truckID}).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("truck %s: %w", truckID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load truck %s: %w", truckID, err)
	}
	return &t, nil
}

func (s *MongoStore) SaveTruck(ctx context.Context, t *models.TruckRecord) error {
	_, err := s.database.Collection(trucksCollection).ReplaceOne(ctx, bson.M{"_id": t.TruckID}, t, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save truck %s: %w", t.TruckID, err)
	}
	return nil
}

func (s *MongoStore) ListTrucks(ctx context.Context) ([]*models.TruckRecord, error) {
	cursor, err := s.database.Collection(trucksCollection).Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list trucks: %w", err)
	}
	var out []*models.TruckRecord
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("list trucks: %w", err)
	}
	return out, nil
}

func (s *MongoStore) UpdateTruckLocation(ctx context.Context, truckID string, loc models.Location) error {
	res, err := s.database.Collection(trucksCollection).UpdateOne(ctx, bson.M{"_id": truckID},
		bson.M{"$set": bson.M{"currentLocation": loc, "updatedAt": time.Now()}})
	if err != nil {
		return fmt.Errorf("update truck %s location: %w", truckID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("truck %s: %w", truckID, ErrNotFound)
	}
	return nil
}
