package database

import (
	"context"
	"net/url"
	"sort"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"graphcomputer/bagel"
	"graphcomputer/graph"
	"graphcomputer/util"
)

const (
	MONGODB     = "mongodb"
	MONGODB_SRV = "mongodb+srv"

	verticesCollection = "vertices"
	memoryCollection   = "memory"
	mongoBatchSize     = 1000
)

var _ bagel.Storage = (*MongoStorage)(nil)

type dbVertex struct {
	Location string `bson:"location"`
	ID       int64  `bson:"id"`
	Hash     int64  `bson:"hash"`
	Data     []byte `bson:"data"`
}

type dbMemory struct {
	Location string `bson:"location"`
	Key      string `bson:"key"`
	Data     []byte `bson:"data"`
}

// MongoStorage keeps vertex documents in one collection. Partitioned reads
// cache the partition of every vertex in a P<n> field, computed on first
// use for n partitions.
type MongoStorage struct {
	client  *mongo.Client
	db      *mongo.Database
	options Options
}

func init() {
	open := func(ctx context.Context, u *url.URL, options Options) (bagel.Storage, error) {
		dbName := CENTRAL_DB_NAME
		if len(u.Path) > 1 {
			dbName = u.Path[1:]
		}
		rest := *u
		rest.Path = "/"
		rest.RawQuery = withoutOptions(u.Query()).Encode()
		return NewMongoStorage(ctx, rest.String(), dbName, options)
	}
	Register(MONGODB, open)
	Register(MONGODB_SRV, open)
}

func GetDatabaseClient(ctx context.Context, uri string) (*mongo.Client, error) {
	serverAPIOptions := options.ServerAPI(options.ServerAPIVersion1)
	clientOptions := options.Client().
		ApplyURI(uri).
		SetServerAPIOptions(serverAPIOptions)
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to mongodb")
	}
	log.Printf("GetDatabaseClient: connected to mongodb client")
	return client, nil
}

func NewMongoStorage(ctx context.Context, uri string, dbName string, options Options) (*MongoStorage, error) {
	client, err := GetDatabaseClient(ctx, uri)
	if err != nil {
		return nil, err
	}
	return &MongoStorage{client: client, db: client.Database(dbName), options: options}, nil
}

func (s *MongoStorage) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStorage) vertices() *mongo.Collection {
	return s.db.Collection(verticesCollection)
}

func (s *MongoStorage) memory() *mongo.Collection {
	return s.db.Collection(memoryCollection)
}

func (s *MongoStorage) ReadGraph(ctx context.Context, location string) (*graph.Collection, error) {
	if err := checkLocation(location); err != nil {
		return nil, err
	}
	if s.options.Partitions > 0 {
		if err := s.ensurePartitioned(ctx, location, s.options.Partitions); err != nil {
			return nil, err
		}
		return readPartitioned(ctx, s, location, s.options.Partitions)
	}
	vertices, err := s.findVertices(ctx, bson.M{"location": location})
	if err != nil {
		return nil, err
	}
	if len(vertices) == 0 {
		return nil, notFound(location)
	}
	return collect(vertices, s.options), nil
}

func (s *MongoStorage) findVertices(ctx context.Context, filter interface{}) ([]*graph.Vertex, error) {
	cursor, err := s.vertices().Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "id", Value: 1}}))
	if err != nil {
		return nil, errors.Wrap(err, "fetching vertices")
	}
	var dbVertices []dbVertex
	if err = cursor.All(ctx, &dbVertices); err != nil {
		return nil, errors.Wrap(err, "reading vertices")
	}
	codec := s.options.codec()
	vertices := make([]*graph.Vertex, 0, len(dbVertices))
	for _, d := range dbVertices {
		v, err := decodeVertex(codec, d.Data)
		if err != nil {
			return nil, err
		}
		vertices = append(vertices, v)
	}
	return vertices, nil
}

func (s *MongoStorage) ensurePartitioned(ctx context.Context, location string, numPartitions int) error {
	cached, err := s.isPartitionCached(ctx, location, numPartitions)
	if err != nil {
		return err
	}
	if cached {
		log.Printf("ensurePartitioned: partition cached: %v", numPartitions)
		return nil
	}
	log.Printf("ensurePartitioned: partition not cached: %v", numPartitions)
	return s.PartitionGraph(ctx, location, numPartitions)
}

func (s *MongoStorage) readPartition(ctx context.Context, location string, partition int, numPartitions int) ([]*graph.Vertex, error) {
	return s.findVertices(ctx, partitionFilter(location, partition, numPartitions))
}

func partitionFilter(location string, partition int, numPartitions int) bson.M {
	return bson.M{"location": location, getPartitionName(numPartitions): partition}
}

// PartitionGraph stores the partition of every vertex of a location for
// numPartitions partitions.
func (s *MongoStorage) PartitionGraph(ctx context.Context, location string, numPartitions int) error {
	cursor, err := s.vertices().Find(
		ctx, bson.M{"location": location},
		options.Find().SetProjection(bson.M{"id": 1, "hash": 1}),
	)
	if err != nil {
		log.Printf("PartitionGraph: error fetching vertices: %v", err)
		return err
	}
	var vertices []dbVertex
	if err = cursor.All(ctx, &vertices); err != nil {
		return err
	}

	partitionName := getPartitionName(numPartitions)
	models := make([]mongo.WriteModel, 0, len(vertices))
	for _, v := range vertices {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"location": location, "id": v.ID}).
			SetUpdate(bson.M{"$set": bson.M{partitionName: int(v.Hash % int64(numPartitions))}}))
	}
	for _, batch := range getBatches(len(models), mongoBatchSize) {
		if _, err := s.vertices().BulkWrite(ctx, models[batch[0]:batch[1]], options.BulkWrite().SetOrdered(false)); err != nil {
			return errors.Wrapf(err, "failed to update partitions of %q", location)
		}
	}
	log.Printf("PartitionGraph: partitioned %d vertices of %v into %v", len(vertices), location, partitionName)
	return nil
}

func (s *MongoStorage) isPartitionCached(ctx context.Context, location string, numPartitions int) (bool, error) {
	count, err := s.vertices().CountDocuments(ctx, bson.M{
		"location":                       location,
		getPartitionName(numPartitions): bson.M{"$exists": true},
	}, options.Count().SetLimit(1))
	if err != nil {
		return false, errors.Wrapf(err, "failed to verify partition cache for %v", numPartitions)
	}
	return count != 0, nil
}

func (s *MongoStorage) WriteGraph(ctx context.Context, location string, g *graph.Collection) error {
	if err := checkLocation(location); err != nil {
		return err
	}
	if _, err := s.vertices().DeleteMany(ctx, bson.M{"location": location}); err != nil {
		return errors.Wrap(err, "clearing location")
	}
	docs, err := createDocuments(location, g.Vertices(), s.options.codec())
	if err != nil {
		return err
	}
	return s.BatchInsertVertices(ctx, docs)
}

func createDocuments(location string, vertices []*graph.Vertex, codec graph.Codec) ([]interface{}, error) {
	docs := make([]interface{}, 0, len(vertices))
	for _, v := range vertices {
		data, err := encodeVertex(codec, v)
		if err != nil {
			return nil, err
		}
		docs = append(docs, dbVertex{
			Location: location,
			ID:       int64(v.Id),
			Hash:     util.HashId(v.Id),
			Data:     data,
		})
	}
	return docs, nil
}

func (s *MongoStorage) BatchInsertVertices(ctx context.Context, docs []interface{}) error {
	batches := getBatches(len(docs), mongoBatchSize)
	for b, batch := range batches {
		if _, err := s.vertices().InsertMany(ctx, docs[batch[0]:batch[1]]); err != nil {
			return errors.Wrapf(err, "failed to upload batch %v", b)
		}
		log.Debugf("BatchInsertVertices: successfully uploaded batch %v/%v", b+1, len(batches))
	}
	return nil
}

func (s *MongoStorage) ReadMemory(ctx context.Context, location string, key string) (interface{}, error) {
	var doc dbMemory
	err := s.memory().FindOne(ctx, bson.M{"location": location, "key": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, memoryNotFound(location, key)
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading memory")
	}
	return decodeMemory(doc.Data)
}

func (s *MongoStorage) WriteMemory(ctx context.Context, location string, key string, value interface{}) error {
	if err := checkLocation(location); err != nil {
		return err
	}
	data, err := encodeMemory(value)
	if err != nil {
		return err
	}
	_, err = s.memory().ReplaceOne(
		ctx, bson.M{"location": location, "key": key},
		dbMemory{Location: location, Key: key, Data: data},
		options.Replace().SetUpsert(true),
	)
	return errors.Wrap(err, "writing memory")
}

func (s *MongoStorage) Exists(ctx context.Context, location string) (bool, error) {
	for _, c := range []*mongo.Collection{s.vertices(), s.memory()} {
		count, err := c.CountDocuments(ctx, bson.M{"location": location}, options.Count().SetLimit(1))
		if err != nil {
			return false, err
		}
		if count > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (s *MongoStorage) Delete(ctx context.Context, location string) error {
	for _, c := range []*mongo.Collection{s.vertices(), s.memory()} {
		if _, err := c.DeleteMany(ctx, bson.M{"location": location}); err != nil {
			return errors.Wrapf(err, "deleting from %s", c.Name())
		}
	}
	return nil
}

func (s *MongoStorage) Locations(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	for _, c := range []*mongo.Collection{s.vertices(), s.memory()} {
		values, err := c.Distinct(ctx, "location", bson.M{})
		if err != nil {
			return nil, err
		}
		for _, v := range values {
			if location, ok := v.(string); ok {
				seen[location] = true
			}
		}
	}
	locations := make([]string, 0, len(seen))
	for l := range seen {
		locations = append(locations, l)
	}
	sort.Strings(locations)
	return locations, nil
}
