// Package mongodb implements the docstore contract on MongoDB.
package mongodb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/DevenderAmbati/Kalarang.art-sub001/internal/docstore"
)

// Store is a docstore.Service backed by a MongoDB database.
//
// Live queries ride on change streams when the deployment supports them
// (replica sets, sharded clusters); on standalone servers Watch fails and the
// subscription falls back to interval polling. Either way each change simply
// re-runs the subscribed query, so every delivery is a full authoritative
// snapshot.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	log    zerolog.Logger

	pollInterval time.Duration

	// ctx parents all subscription goroutines so Close can stop them.
	ctx    context.Context
	cancel context.CancelFunc

	// nowMu serializes Now so timestamps from this process never tie.
	nowMu   sync.Mutex
	lastNow time.Time
}

var _ docstore.Service = (*Store)(nil)

// Config carries the connection settings for New.
type Config struct {
	URI          string
	Database     string
	PollInterval time.Duration // subscription fallback poll cadence
}

// New connects to MongoDB, verifies the connection with a ping, and returns
// a ready Store.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*Store, error) {
	// Fail fast when the server is unreachable instead of hanging on the
	// first operation.
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}

	// Connect does not touch the network; the ping is the real test.
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping MongoDB: %w", err)
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}

	subCtx, subCancel := context.WithCancel(context.Background())
	return &Store{
		client:       client,
		db:           client.Database(cfg.Database),
		log:          log.With().Str("component", "mongodb").Logger(),
		pollInterval: cfg.PollInterval,
		ctx:          subCtx,
		cancel:       subCancel,
	}, nil
}

// Close stops all subscriptions and disconnects from MongoDB.
func (s *Store) Close(ctx context.Context) error {
	s.cancel()
	return s.client.Disconnect(ctx)
}

// EnsureIndexes creates the indexes the specs describe. Safe to run on every
// startup; MongoDB treats an existing identical index as a no-op.
func (s *Store) EnsureIndexes(ctx context.Context, specs []docstore.IndexSpec) error {
	for _, spec := range specs {
		keys := bson.D{}
		for _, k := range spec.Keys {
			dir := 1
			if k.Desc {
				dir = -1
			}
			keys = append(keys, bson.E{Key: k.Path, Value: dir})
		}
		model := mongo.IndexModel{Keys: keys}
		if spec.Unique {
			model.Options = options.Index().SetUnique(true)
		}
		if _, err := s.db.Collection(spec.Collection).Indexes().CreateOne(ctx, model); err != nil {
			return fmt.Errorf("create index on %s: %w", spec.Collection, err)
		}
	}
	return nil
}

// Get implements docstore.Service.
func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	var raw bson.M
	err := s.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if err == mongo.ErrNoDocuments {
		return docstore.Document{}, fmt.Errorf("get %s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	if err != nil {
		return docstore.Document{}, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return documentFromRaw(raw), nil
}

// PutIfAbsent implements docstore.Service. The conditional create is an
// upsert whose fields are applied only on insert, so racing creators of the
// same id converge on one document and both report success.
func (s *Store) PutIfAbsent(ctx context.Context, collection, id string, fields map[string]any) error {
	update := bson.M{"$setOnInsert": toBSONMap(fields)}
	_, err := s.db.Collection(collection).UpdateOne(ctx, bson.M{"_id": id}, update,
		options.UpdateOne().SetUpsert(true))
	if err != nil {
		// Two upserts can still race on the unique _id; the loser's duplicate
		// key error means the document exists, which is success here.
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return fmt.Errorf("put %s/%s: %w", collection, id, err)
	}
	return nil
}

// Update implements docstore.Service.
func (s *Store) Update(ctx context.Context, collection, id string, updates ...docstore.Update) error {
	sets := bson.M{}
	incs := bson.M{}
	for _, u := range updates {
		if u.Inc {
			incs[u.Path] = u.Value
			continue
		}
		sets[u.Path] = toBSONValue(u.Value)
	}
	update := bson.M{}
	if len(sets) > 0 {
		update["$set"] = sets
	}
	if len(incs) > 0 {
		update["$inc"] = incs
	}
	if len(update) == 0 {
		return nil
	}

	res, err := s.db.Collection(collection).UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("update %s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	return nil
}

// Query implements docstore.Service.
func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	filter := bson.M{}
	for _, f := range q.Filters {
		switch f.Op {
		case docstore.OpEq:
			filter[f.Path] = toBSONValue(f.Value)
		case docstore.OpGt:
			filter[f.Path] = bson.M{"$gt": toBSONValue(f.Value)}
		case docstore.OpLt:
			filter[f.Path] = bson.M{"$lt": toBSONValue(f.Value)}
		case docstore.OpContains:
			// Matching an array field against a scalar is MongoDB's native
			// "array contains" query.
			filter[f.Path] = toBSONValue(f.Value)
		default:
			return nil, fmt.Errorf("query %s: unsupported operator %q", q.Collection, f.Op)
		}
	}

	opts := options.Find()
	if q.OrderBy.Path != "" {
		dir := 1
		if q.OrderBy.Desc {
			dir = -1
		}
		opts = opts.SetSort(bson.M{q.OrderBy.Path: dir})

		// The cursor keeps only documents strictly past it in sort direction.
		if q.StartAfter != nil {
			op := "$gt"
			if q.OrderBy.Desc {
				op = "$lt"
			}
			filter[q.OrderBy.Path] = bson.M{op: toBSONValue(q.StartAfter)}
		}
	}
	if q.Limit > 0 {
		opts = opts.SetLimit(int64(q.Limit))
	}

	cursor, err := s.db.Collection(q.Collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	defer cursor.Close(ctx)

	var raws []bson.M
	if err := cursor.All(ctx, &raws); err != nil {
		return nil, fmt.Errorf("query %s: decode: %w", q.Collection, err)
	}

	docs := make([]docstore.Document, 0, len(raws))
	for _, raw := range raws {
		docs = append(docs, documentFromRaw(raw))
	}
	return docs, nil
}

// Subscribe implements docstore.Service.
func (s *Store) Subscribe(q docstore.Query, onSnapshot docstore.SnapshotFunc, onError func(error)) docstore.Subscription {
	ctx, cancel := context.WithCancel(s.ctx)
	go s.watch(ctx, q, onSnapshot, onError)
	return &subscription{cancel: cancel}
}

// Now implements docstore.Service. Timestamps are truncated to millisecond
// precision so they survive a BSON round trip unchanged, and bumped when two
// calls land in the same millisecond so ordering stays strict.
func (s *Store) Now() time.Time {
	s.nowMu.Lock()
	defer s.nowMu.Unlock()
	now := time.Now().UTC().Truncate(time.Millisecond)
	if !now.After(s.lastNow) {
		now = s.lastNow.Add(time.Millisecond)
	}
	s.lastNow = now
	return now
}

type subscription struct {
	cancel context.CancelFunc
}

func (s *subscription) Unsubscribe() { s.cancel() }

// watch drives one subscription: an initial snapshot, then one re-run of the
// query per change event. Running on a single goroutine keeps deliveries in
// order without further locking.
func (s *Store) watch(ctx context.Context, q docstore.Query, onSnapshot docstore.SnapshotFunc, onError func(error)) {
	deliver := func() {
		docs, err := s.Query(ctx, q)
		if err != nil {
			if ctx.Err() == nil && onError != nil {
				onError(err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		onSnapshot(docs)
	}

	deliver()

	stream, err := s.db.Collection(q.Collection).Watch(ctx, mongo.Pipeline{})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.log.Warn().Err(err).Str("collection", q.Collection).
			Msg("change streams unavailable, falling back to polling")
		s.pollLoop(ctx, deliver)
		return
	}
	defer stream.Close(context.Background())

	for stream.Next(ctx) {
		deliver()
	}
	if ctx.Err() != nil {
		return
	}
	if err := stream.Err(); err != nil {
		if onError != nil {
			onError(fmt.Errorf("change stream on %s: %w", q.Collection, err))
		}
		s.pollLoop(ctx, deliver)
	}
}

func (s *Store) pollLoop(ctx context.Context, deliver func()) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deliver()
		}
	}
}

// documentFromRaw converts a decoded BSON document into the port's shape.
func documentFromRaw(raw bson.M) docstore.Document {
	id, _ := raw["_id"].(string)
	delete(raw, "_id")
	fields := make(map[string]any, len(raw))
	for k, v := range raw {
		fields[k] = fromBSONValue(v)
	}
	return docstore.Document{ID: id, Fields: fields}
}

// fromBSONValue maps driver decode types back to the port's vocabulary:
// nested documents to map[string]any, arrays to []any, datetimes to UTC
// time.Time.
func fromBSONValue(v any) any {
	switch t := v.(type) {
	case bson.M:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = fromBSONValue(e)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = fromBSONValue(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = fromBSONValue(e)
		}
		return out
	case bson.DateTime:
		return t.Time().UTC()
	case int32:
		return int64(t)
	default:
		return v
	}
}

func toBSONMap(fields map[string]any) bson.M {
	out := bson.M{}
	for k, v := range fields {
		out[k] = toBSONValue(v)
	}
	return out
}

func toBSONValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return toBSONMap(t)
	case []string:
		arr := make(bson.A, len(t))
		for i, e := range t {
			arr[i] = e
		}
		return arr
	case []any:
		arr := make(bson.A, len(t))
		for i, e := range t {
			arr[i] = toBSONValue(e)
		}
		return arr
	default:
		return v
	}
}
