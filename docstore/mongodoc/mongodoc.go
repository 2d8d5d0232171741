// Package mongodoc maps the path-addressed document store onto MongoDB.
//
// A document users/u1/posts/p1 lives in the "posts" collection with
// _id "users/u1/posts/p1" and _parent "users/u1/posts", so listing a
// sub-collection is a single indexed query on _parent.
package mongodoc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wordcraft/docstore"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	idField     = "_id"
	parentField = "_parent"
)

type Options struct {
	URI      string
	Database string
	// Transactions requires a replica set or sharded cluster.
	Transactions   bool
	ConnectTimeout time.Duration
}

type Store struct {
	client       *mongo.Client
	db           *mongo.Database
	transactions bool
}

// Connect dials MongoDB, pings it and makes sure the _parent indexes exist.
func Connect(ctx context.Context, opts Options) (*Store, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(opts.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	s := &Store{
		client:       client,
		db:           client.Database(opts.Database),
		transactions: opts.Transactions,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	kinds := []string{
		docstore.UsersCollection,
		docstore.PostsCollection,
		docstore.BookmarksCollection,
		docstore.CredentialsCollection,
		docstore.PasswordResetsCollection,
	}
	for _, kind := range kinds {
		_, err := s.db.Collection(kind).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys: bson.D{{Key: parentField, Value: 1}, {Key: idField, Value: 1}},
		})
		if err != nil {
			return fmt.Errorf("create %s index: %w", kind, err)
		}
	}
	return nil
}

// Database exposes the underlying database, used by tests to drop it.
func (s *Store) Database() *mongo.Database { return s.db }

func (s *Store) Close(ctx context.Context) error { return s.client.Disconnect(ctx) }

func (s *Store) coll(p docstore.Path) *mongo.Collection { return s.db.Collection(p.Kind()) }

func byID(p docstore.Path) bson.M { return bson.M{idField: p.String()} }

func (s *Store) Get(ctx context.Context, path docstore.Path, out any) error {
	err := s.coll(path).FindOne(ctx, byID(path)).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%s: %w", path, docstore.ErrNotFound)
	}
	if err != nil {
		return classify(fmt.Errorf("get %s: %w", path, err))
	}
	return nil
}

func (s *Store) Set(ctx context.Context, path docstore.Path, doc any) error {
	if !path.IsDocument() {
		return fmt.Errorf("docstore: %s is not a document path", path)
	}
	raw, err := bson.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	m[idField] = path.String()
	m[parentField] = path.Parent().String()

	_, err = s.coll(path).ReplaceOne(ctx, byID(path), m, options.Replace().SetUpsert(true))
	if err != nil {
		return classify(fmt.Errorf("set %s: %w", path, err))
	}
	return nil
}

func (s *Store) Update(ctx context.Context, path docstore.Path, fields map[string]any) error {
	return s.updateOne(ctx, path, bson.M{"$set": bson.M(fields)})
}

func (s *Store) AddToSet(ctx context.Context, path docstore.Path, field, value string) error {
	return s.updateOne(ctx, path, bson.M{"$addToSet": bson.M{field: value}})
}

func (s *Store) RemoveFromSet(ctx context.Context, path docstore.Path, field, value string) error {
	return s.updateOne(ctx, path, bson.M{"$pull": bson.M{field: value}})
}

func (s *Store) updateOne(ctx context.Context, path docstore.Path, update bson.M) error {
	res, err := s.coll(path).UpdateOne(ctx, byID(path), update)
	if err != nil {
		return classify(fmt.Errorf("update %s: %w", path, err))
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", path, docstore.ErrNotFound)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, path docstore.Path) error {
	if _, err := s.coll(path).DeleteOne(ctx, byID(path)); err != nil {
		return classify(fmt.Errorf("delete %s: %w", path, err))
	}
	return nil
}

func (s *Store) List(ctx context.Context, collection docstore.Path, limit int) ([]docstore.Doc, error) {
	opts := options.Find().SetSort(bson.D{{Key: idField, Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.db.Collection(collection.Kind()).Find(ctx, bson.M{parentField: collection.String()}, opts)
	if err != nil {
		return nil, classify(fmt.Errorf("list %s: %w", collection, err))
	}
	defer cursor.Close(ctx)

	var raws []bson.Raw
	if err := cursor.All(ctx, &raws); err != nil {
		return nil, classify(fmt.Errorf("list %s: %w", collection, err))
	}

	docs := make([]docstore.Doc, 0, len(raws))
	for _, raw := range raws {
		id, ok := raw.Lookup(idField).StringValueOK()
		if !ok {
			continue
		}
		p, err := docstore.ParsePath(id)
		if err != nil {
			return nil, err
		}
		r := raw
		docs = append(docs, docstore.NewDoc(p, func(out any) error {
			return bson.Unmarshal(r, out)
		}))
	}
	return docs, nil
}

// RunTransaction runs fn inside a session transaction. The driver retries
// commit and TransientTransactionError failures on its own.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if !s.transactions {
		return docstore.ErrNoTransactions
	}
	if mongo.SessionFromContext(ctx) != nil {
		return fn(ctx)
	}

	sess, err := s.client.StartSession()
	if err != nil {
		return classify(fmt.Errorf("start session: %w", err))
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc)
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

func classify(err error) error {
	if errors.Is(err, docstore.ErrTransient) {
		return err
	}
	var labeled mongo.LabeledError
	transient := mongo.IsNetworkError(err) || mongo.IsTimeout(err) ||
		(errors.As(err, &labeled) && labeled.HasErrorLabel("TransientTransactionError"))
	if transient {
		return fmt.Errorf("%w: %w", docstore.ErrTransient, err)
	}
	return err
}

var _ docstore.Store = (*Store)(nil)
