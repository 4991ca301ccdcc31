package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/sqlsync/sqlsync/internal/sqlengine"
	"github.com/sqlsync/sqlsync/pkg/coordinator"
	"github.com/sqlsync/sqlsync/pkg/journal"
	"github.com/sqlsync/sqlsync/pkg/journal/badgerjournal"
	"github.com/sqlsync/sqlsync/pkg/journalid"
	"github.com/sqlsync/sqlsync/pkg/reducer"
	"github.com/sqlsync/sqlsync/pkg/reducer/wazerosandbox"
	"github.com/sqlsync/sqlsync/pkg/storage"
)

// documentSet lazily opens and caches one coordinator.Document per
// document id seen on an incoming connection. badgerjournal keys its
// frame and meta records with no journal-id prefix, so two distinct
// journals can never safely share one *badger.DB — each document's
// storage journal and each of its clients' timelines gets its own
// badger directory under baseDir, opened on first sight and kept open
// for the life of the process.
type documentSet struct {
	mu         sync.Mutex
	baseDir    string
	reducerBin []byte
	docs       map[string]*coordinator.Document
	dbs        []*badgerdb.DB
}

func newDocumentSet(baseDir string, reducerBin []byte) *documentSet {
	return &documentSet{baseDir: baseDir, reducerBin: reducerBin, docs: make(map[string]*coordinator.Document)}
}

// Close closes every badger database this set has opened. Callers should
// call it once, after every connection using documents from this set has
// stopped.
func (s *documentSet) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, db := range s.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *documentSet) openBadger(dir string) (*badgerdb.DB, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("documentset: create %s: %w", dir, err)
	}
	db, err := badgerdb.Open(badgerdb.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("documentset: open badger at %s: %w", dir, err)
	}
	s.dbs = append(s.dbs, db)
	return db, nil
}

func (s *documentSet) get(ctx context.Context, id journalid.ID) (*coordinator.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc, ok := s.docs[id.String()]; ok {
		return doc, nil
	}

	docDir := filepath.Join(s.baseDir, "documents", id.String())

	storageDB, err := s.openBadger(filepath.Join(docDir, "storage"))
	if err != nil {
		return nil, err
	}
	storageJournal, err := badgerjournal.Open(storageDB, id)
	if err != nil {
		return nil, fmt.Errorf("documentset: open storage journal %s: %w", id, err)
	}
	st := storage.New(storageJournal)

	conn, err := sqlengine.Open(st)
	if err != nil {
		return nil, fmt.Errorf("documentset: open sql connection for %s: %w", id, err)
	}

	sandbox, err := wazerosandbox.New(ctx, s.reducerBin)
	if err != nil {
		return nil, fmt.Errorf("documentset: start reducer sandbox for %s: %w", id, err)
	}

	factory := &badgerTimelineFactory{set: s, timelinesDir: filepath.Join(docDir, "timelines")}
	doc, err := coordinator.Open(ctx, st, conn, factory, sandbox)
	if err != nil {
		sandbox.Close(ctx)
		return nil, fmt.Errorf("documentset: open document %s: %w", id, err)
	}

	s.docs[id.String()] = doc
	return doc, nil
}

// badgerTimelineFactory opens a per-client timeline journal on demand,
// keyed by the client id the coordinator first sees it replicate from,
// each in its own badger directory under timelinesDir.
type badgerTimelineFactory struct {
	set          *documentSet
	timelinesDir string
}

func (f *badgerTimelineFactory) Open(id journalid.ID) (journal.Journal, error) {
	db, err := f.set.openBadger(filepath.Join(f.timelinesDir, id.String()))
	if err != nil {
		return nil, err
	}
	return badgerjournal.Open(db, id)
}

func loadReducer(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load reducer module %s: %w", path, err)
	}
	return data, nil
}

var _ reducer.Reducer = (*wazerosandbox.Sandbox)(nil)
