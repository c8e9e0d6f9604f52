// ABOUTME: Triple-store metadata backend on badger
// ABOUTME: SPO statements plus OPS and type indexes answer every query with prefix scans

package triple

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/nainya/folio/pkg/persistence"
	"github.com/nainya/folio/pkg/resource"
	"github.com/nainya/folio/pkg/storage"
)

const backend = "triple"

// Key tables, all encoded with the storage package's composite keys.
const (
	prefixSPO  = uint32(1) // (subject, predicate, n) -> object term
	prefixOPS  = uint32(2) // (object, predicate, subject) -> empty, IRI objects only
	prefixType = uint32(3) // (model, subject) -> empty
)

// Store keeps resources as RDF statements in badger.
type Store struct {
	db      *badger.DB
	factory *Factory
	opts    persistence.Options
}

var (
	_ persistence.MetadataAdapter = (*Store)(nil)
	_ persistence.Persister       = (*Store)(nil)
	_ persistence.QueryService    = (*Store)(nil)
)

// badgerLogger routes badger's logging through zerolog.
type badgerLogger struct {
	l zerolog.Logger
}

func (b badgerLogger) Errorf(f string, v ...interface{})   { b.l.Error().Msgf(f, v...) }
func (b badgerLogger) Warningf(f string, v ...interface{}) { b.l.Warn().Msgf(f, v...) }
func (b badgerLogger) Infof(f string, v ...interface{})    { b.l.Debug().Msgf(f, v...) }
func (b badgerLogger) Debugf(f string, v ...interface{})   { b.l.Trace().Msgf(f, v...) }

// Open opens the store in dir; an empty dir keeps it in memory.
func Open(dir string, types *resource.TypeRegistry, opts ...persistence.Option) (*Store, error) {
	o := persistence.NewOptions(opts...)

	bopts := badger.DefaultOptions(dir).
		WithLogger(badgerLogger{l: o.Logger.With().Str("component", "badger").Logger()})
	if dir == "" {
		bopts = bopts.WithInMemory(true)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open triple store %q: %w", dir, err)
	}
	o.Logger.Info().Str("dir", dir).Msg("triple store opened")
	return &Store{db: db, factory: NewFactory(types), opts: o}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Persister() persistence.Persister       { return s }
func (s *Store) QueryService() persistence.QueryService { return s }
func (s *Store) ResourceFactory() *Factory               { return s.factory }

func str(s string) storage.Value { return storage.NewStringValue(s) }

func spoKey(subject, predicate string, n int) []byte {
	return storage.EncodeKey(prefixSPO, str(subject), str(predicate), storage.NewUint64Value(uint64(n)))
}

func subjectPrefix(subject string) []byte {
	return storage.EncodeKey(prefixSPO, str(subject))
}

func opsKey(object, predicate, subject string) []byte {
	return storage.EncodeKey(prefixOPS, str(object), str(predicate), str(subject))
}

func typeKey(model, subject string) []byte {
	return storage.EncodeKey(prefixType, str(model), str(subject))
}

func encodeTerm(t Term) []byte {
	return storage.EncodeValues([]storage.Value{
		storage.NewUint64Value(uint64(t.Kind)),
		str(t.Value),
		str(t.Language),
	})
}

func decodeTerm(data []byte) (Term, error) {
	vals, err := storage.DecodeValues(data)
	if err != nil || len(vals) != 3 {
		return Term{}, persistence.Malformed("bad term encoding")
	}
	return Term{Kind: TermKind(vals[0].U64), Value: vals[1].String(), Language: vals[2].String()}, nil
}

// scan visits every key under prefix.
func scan(txn *badger.Txn, prefix []byte, fn func(key, val []byte) error) error {
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 100})
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := fn(item.KeyCopy(nil), val); err != nil {
			return err
		}
	}
	return nil
}

// statements reads the triples of one subject.
func statements(txn *badger.Txn, subject string) (Graph, error) {
	var g Graph
	err := scan(txn, subjectPrefix(subject), func(key, val []byte) error {
		vals, err := storage.ExtractValues(key)
		if err != nil || len(vals) != 3 {
			return persistence.Malformed("bad statement key")
		}
		obj, err := decodeTerm(val)
		if err != nil {
			return err
		}
		g = append(g, Triple{Subject: vals[0].String(), Predicate: vals[1].String(), Object: obj})
		return nil
	})
	return g, err
}

// load reads a resource graph including its containers; nil when absent.
func load(txn *badger.Txn, id resource.ID) (Graph, error) {
	g, err := statements(txn, id.String())
	if err != nil || len(g) == 0 {
		return nil, err
	}
	for _, t := range g {
		if t.Object.Kind != TermContainer {
			continue
		}
		members, err := statements(txn, t.Object.Value)
		if err != nil {
			return nil, err
		}
		g = append(g, members...)
	}
	return g, nil
}

// indexKeys lists the index entries a graph contributes.
func indexKeys(g Graph) [][]byte {
	var keys [][]byte
	for _, t := range g {
		switch {
		case t.Predicate == PredicateType:
			keys = append(keys, typeKey(t.Object.Value, t.Subject))
		case t.Object.Kind == TermIRI:
			keys = append(keys, opsKey(t.Object.Value, t.Predicate, t.Subject))
		}
	}
	return keys
}

// statementKeys lists the SPO keys of a graph, numbering repeated
// (subject, predicate) pairs in order.
func statementKeys(g Graph) [][]byte {
	seen := map[[2]string]int{}
	keys := make([][]byte, len(g))
	for i, t := range g {
		pair := [2]string{t.Subject, t.Predicate}
		keys[i] = spoKey(t.Subject, t.Predicate, seen[pair])
		seen[pair]++
	}
	return keys
}

func remove(txn *badger.Txn, g Graph) error {
	for _, key := range append(statementKeys(g), indexKeys(g)...) {
		if err := txn.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

func write(txn *badger.Txn, g Graph) error {
	for i, key := range statementKeys(g) {
		if err := txn.Set(key, encodeTerm(g[i].Object)); err != nil {
			return err
		}
	}
	for _, key := range indexKeys(g) {
		if err := txn.Set(key, nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Save(ctx context.Context, r *resource.Resource) (_ *resource.Resource, err error) {
	defer s.opts.Track(backend, "save", time.Now(), &err)

	var g Graph
	err = s.db.Update(func(txn *badger.Txn) error {
		var (
			old       Graph
			createdAt time.Time
			err       error
		)
		if !r.ID.IsZero() {
			if old, err = load(txn, r.ID); err != nil {
				return err
			}
			for _, t := range old {
				if t.Subject == r.ID.String() && t.Predicate == PredicateCreatedAt {
					createdAt, _ = parseTime(t.Object)
				}
			}
		}

		prepared := s.opts.Prepare(ctx, r, createdAt)
		if g, err = s.factory.FromResource(prepared); err != nil {
			return err
		}
		if err := remove(txn, old); err != nil {
			return err
		}
		return write(txn, g)
	})
	if err != nil {
		return nil, err
	}
	return s.factory.ToResource(g)
}

func (s *Store) SaveAll(ctx context.Context, rs []*resource.Resource) ([]*resource.Resource, error) {
	return persistence.SaveAll(ctx, s, rs)
}

func (s *Store) Delete(ctx context.Context, r *resource.Resource) (_ *resource.Resource, err error) {
	defer s.opts.Track(backend, "delete", time.Now(), &err)

	err = s.db.Update(func(txn *badger.Txn) error {
		old, err := load(txn, r.ID)
		if err != nil {
			return err
		}
		return remove(txn, old)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Store) Wipe(ctx context.Context) error {
	return s.db.DropAll()
}

func (s *Store) FindByID(ctx context.Context, id resource.ID) (_ *resource.Resource, err error) {
	defer s.opts.Track(backend, "find_by_id", time.Now(), &err)

	var out *resource.Resource
	err = s.db.View(func(txn *badger.Txn) error {
		var ferr error
		out, ferr = s.find(txn, id)
		return ferr
	})
	return out, err
}

func (s *Store) find(txn *badger.Txn, id resource.ID) (*resource.Resource, error) {
	g, err := load(txn, id)
	if err != nil {
		return nil, err
	}
	if len(g) == 0 {
		return nil, persistence.NotFound(id)
	}
	return s.factory.ToResource(g)
}

// subjects collects the trailing subject column of every key under prefix
// and loads the resources, sorted by id.
func (s *Store) subjects(prefix []byte, keep func(vals []storage.Value) (resource.ID, bool)) ([]*resource.Resource, error) {
	var out []*resource.Resource
	err := s.db.View(func(txn *badger.Txn) error {
		seen := map[resource.ID]bool{}
		var ids []resource.ID
		err := scan(txn, prefix, func(key, _ []byte) error {
			vals, err := storage.ExtractValues(key)
			if err != nil {
				return persistence.Malformed("bad index key")
			}
			if id, ok := keep(vals); ok && !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, id := range ids {
			r, err := s.find(txn, id)
			if err != nil {
				return err
			}
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	resource.SortByID(out)
	return out, nil
}

func lastColumn(vals []storage.Value) (resource.ID, bool) {
	return resource.ID(vals[len(vals)-1].String()), true
}

func (s *Store) FindAll(ctx context.Context) (_ []*resource.Resource, err error) {
	defer s.opts.Track(backend, "find_all", time.Now(), &err)
	return s.subjects(storage.EncodeKey(prefixType), lastColumn)
}

func (s *Store) FindAllOfModel(ctx context.Context, model string) (_ []*resource.Resource, err error) {
	defer s.opts.Track(backend, "find_all_of_model", time.Now(), &err)
	return s.subjects(storage.EncodeKey(prefixType, str(model)), lastColumn)
}

func (s *Store) FindMembers(ctx context.Context, r *resource.Resource) ([]*resource.Resource, error) {
	return persistence.FindMembers(ctx, s, r)
}

func (s *Store) FindParents(ctx context.Context, r *resource.Resource) ([]*resource.Resource, error) {
	return s.FindInverseReferencesBy(ctx, r, resource.MemberIDs)
}

func (s *Store) FindReferencesBy(ctx context.Context, r *resource.Resource, property string) ([]*resource.Resource, error) {
	return persistence.FindReferencesBy(ctx, s, r, property)
}

// FindInverseReferencesBy scans the OPS index for r. Set attributes point
// at r directly; ordered attributes point at it from their container node.
func (s *Store) FindInverseReferencesBy(ctx context.Context, r *resource.Resource, property string) (_ []*resource.Resource, err error) {
	defer s.opts.Track(backend, "find_inverse_references_by", time.Now(), &err)
	if r.ID.IsZero() {
		return nil, nil
	}

	direct := attributeNS + property
	suffix := "#" + property
	return s.subjects(storage.EncodeKey(prefixOPS, str(r.ID.String())), func(vals []storage.Value) (resource.ID, bool) {
		if len(vals) != 3 {
			return "", false
		}
		predicate, subject := vals[1].String(), vals[2].String()
		if predicate == direct {
			return resource.ID(subject), true
		}
		if _, ok := memberIndex(predicate); ok && len(subject) > len(suffix) && subject[len(subject)-len(suffix):] == suffix {
			return resource.ID(subject[:len(subject)-len(suffix)]), true
		}
		return "", false
	})
}

func (s *Store) Count(ctx context.Context) (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = storage.EncodeKey(prefixType)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// IsConflict reports whether err is a badger write conflict; concurrent
// saves of one id may hit it and can simply be retried by the caller.
func IsConflict(err error) bool {
	return errors.Is(err, badger.ErrConflict)
}
