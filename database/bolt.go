package database

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/timshannon/bolthold"
	"go.etcd.io/bbolt"

	"graphcomputer/bagel"
	"graphcomputer/graph"
	"graphcomputer/util"
)

const BOLT = "bolt"

var memoryBucket = []byte("memory")

var _ bagel.Storage = (*BoltStorage)(nil)

// boltVertex is the stored form of a vertex, indexed by location.
type boltVertex struct {
	Location string `boltholdIndex:"Location"`
	Id       uint64
	Hash     int64
	Data     []byte
}

// BoltStorage keeps graphs in a single bolt file. Vertices are bolthold
// records; memory values live in one bbolt bucket per location.
type BoltStorage struct {
	store   *bolthold.Store
	options Options
}

func init() {
	Register(BOLT, func(_ context.Context, u *url.URL, options Options) (bagel.Storage, error) {
		path := u.Path
		if u.Host != "" {
			path = u.Host + path
		}
		return NewBoltStorage(path, options)
	})
}

func NewBoltStorage(path string, options Options) (*BoltStorage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	store, err := bolthold.Open(path, 0o644, &bolthold.Options{
		Options: &bbolt.Options{
			Timeout:      5 * time.Second,
			NoGrowSync:   bbolt.DefaultOptions.NoGrowSync,
			FreelistType: bbolt.DefaultOptions.FreelistType,
		},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "opening bolt store %s", path)
	}
	return &BoltStorage{store: store, options: options}, nil
}

func (s *BoltStorage) Close() error {
	return s.store.Close()
}

func boltKey(location string, id uint64) string {
	return fmt.Sprintf("%s/%020d", location, id)
}

func atLocation(location string) *bolthold.Query {
	return bolthold.Where("Location").Eq(location).Index("Location")
}

func (s *BoltStorage) ReadGraph(ctx context.Context, location string) (*graph.Collection, error) {
	if err := checkLocation(location); err != nil {
		return nil, err
	}
	var records []boltVertex
	if err := s.store.Find(&records, atLocation(location)); err != nil {
		return nil, errors.Wrapf(err, "reading %q", location)
	}
	if len(records) == 0 {
		return nil, notFound(location)
	}
	codec := s.options.codec()
	vertices := make([]*graph.Vertex, 0, len(records))
	for _, r := range records {
		v, err := decodeVertex(codec, r.Data)
		if err != nil {
			return nil, err
		}
		vertices = append(vertices, v)
	}
	return collect(vertices, s.options), nil
}

func (s *BoltStorage) WriteGraph(ctx context.Context, location string, g *graph.Collection) error {
	if err := checkLocation(location); err != nil {
		return err
	}
	codec := s.options.codec()
	return s.store.Bolt().Update(func(tx *bbolt.Tx) error {
		if err := s.store.TxDeleteMatching(tx, &boltVertex{}, atLocation(location)); err != nil {
			return errors.Wrap(err, "clearing location")
		}
		for _, v := range g.Vertices() {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := encodeVertex(codec, v)
			if err != nil {
				return err
			}
			record := &boltVertex{Location: location, Id: v.Id, Hash: util.HashId(v.Id), Data: data}
			if err := s.store.TxUpsert(tx, boltKey(location, v.Id), record); err != nil {
				return errors.Wrapf(err, "writing vertex %d", v.Id)
			}
		}
		return nil
	})
}

func (s *BoltStorage) ReadMemory(_ context.Context, location string, key string) (interface{}, error) {
	var data []byte
	err := s.store.Bolt().View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(memoryBucket)
		if bucket == nil {
			return nil
		}
		if locationBucket := bucket.Bucket([]byte(location)); locationBucket != nil {
			if value := locationBucket.Get([]byte(key)); value != nil {
				data = append([]byte(nil), value...)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, memoryNotFound(location, key)
	}
	return decodeMemory(data)
}

func (s *BoltStorage) WriteMemory(_ context.Context, location string, key string, value interface{}) error {
	if err := checkLocation(location); err != nil {
		return err
	}
	data, err := encodeMemory(value)
	if err != nil {
		return err
	}
	return s.store.Bolt().Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(memoryBucket)
		if err != nil {
			return err
		}
		locationBucket, err := bucket.CreateBucketIfNotExists([]byte(location))
		if err != nil {
			return err
		}
		return locationBucket.Put([]byte(key), data)
	})
}

func (s *BoltStorage) Exists(_ context.Context, location string) (bool, error) {
	var records []boltVertex
	if err := s.store.Find(&records, atLocation(location).Limit(1)); err != nil {
		return false, err
	}
	if len(records) > 0 {
		return true, nil
	}
	exists := false
	err := s.store.Bolt().View(func(tx *bbolt.Tx) error {
		if bucket := tx.Bucket(memoryBucket); bucket != nil {
			exists = bucket.Bucket([]byte(location)) != nil
		}
		return nil
	})
	return exists, err
}

func (s *BoltStorage) Delete(_ context.Context, location string) error {
	return s.store.Bolt().Update(func(tx *bbolt.Tx) error {
		if err := s.store.TxDeleteMatching(tx, &boltVertex{}, atLocation(location)); err != nil {
			return err
		}
		bucket := tx.Bucket(memoryBucket)
		if bucket == nil || bucket.Bucket([]byte(location)) == nil {
			return nil
		}
		return bucket.DeleteBucket([]byte(location))
	})
}

func (s *BoltStorage) Locations(_ context.Context) ([]string, error) {
	seen := make(map[string]bool)
	groups, err := s.store.FindAggregate(&boltVertex{}, nil, "Location")
	if err != nil {
		return nil, err
	}
	for _, group := range groups {
		var location string
		group.Group(&location)
		seen[location] = true
	}
	err = s.store.Bolt().View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(memoryBucket)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			if v == nil {
				seen[string(k)] = true
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	locations := make([]string, 0, len(seen))
	for l := range seen {
		locations = append(locations, l)
	}
	sort.Strings(locations)
	return locations, nil
}
