package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/sqlsync/sqlsync/internal/config"
	"github.com/sqlsync/sqlsync/internal/sqlengine"
	"github.com/sqlsync/sqlsync/pkg/journal/badgerjournal"
	"github.com/sqlsync/sqlsync/pkg/journalid"
	"github.com/sqlsync/sqlsync/pkg/localdoc"
	"github.com/sqlsync/sqlsync/pkg/reactive"
	"github.com/sqlsync/sqlsync/pkg/reducer/wazerosandbox"
	"github.com/sqlsync/sqlsync/pkg/storage"
)

// localSession bundles the open local document with the badger databases
// and reducer sandbox it owns, so a command can defer one Close call.
type localSession struct {
	Doc *localdoc.Document

	storageDB  *badgerdb.DB
	timelineDB *badgerdb.DB
	sandbox    *wazerosandbox.Sandbox
}

func (s *localSession) Close(ctx context.Context) {
	if s.sandbox != nil {
		s.sandbox.Close(ctx)
	}
	if s.storageDB != nil {
		s.storageDB.Close()
	}
	if s.timelineDB != nil {
		s.timelineDB.Close()
	}
}

// openLocalDocument opens (or initializes, on first run) a client's local
// document under cfg.Client.DataDir: a storage journal keyed by the
// shared document id every peer agrees on, and a timeline journal keyed
// by this client's own persisted identity, each in its own badger
// directory since badgerjournal keys frames with no per-journal prefix.
func openLocalDocument(ctx context.Context, cfg *config.Config, documentID journalid.ID) (*localSession, error) {
	if err := os.MkdirAll(cfg.Client.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	clientID, err := loadOrCreateClientID(cfg.Client.DataDir)
	if err != nil {
		return nil, err
	}

	storageDB, err := openBadgerDir(filepath.Join(cfg.Client.DataDir, "storage", documentID.String()))
	if err != nil {
		return nil, err
	}
	storageJournal, err := badgerjournal.Open(storageDB, documentID)
	if err != nil {
		storageDB.Close()
		return nil, fmt.Errorf("open local storage journal: %w", err)
	}
	st := storage.New(storageJournal)

	timelineDB, err := openBadgerDir(filepath.Join(cfg.Client.DataDir, "timeline"))
	if err != nil {
		storageDB.Close()
		return nil, err
	}
	timelineJournal, err := badgerjournal.Open(timelineDB, clientID)
	if err != nil {
		storageDB.Close()
		timelineDB.Close()
		return nil, fmt.Errorf("open local timeline journal: %w", err)
	}

	conn, err := sqlengine.Open(st)
	if err != nil {
		storageDB.Close()
		timelineDB.Close()
		return nil, fmt.Errorf("open sql connection: %w", err)
	}

	reducerBin, err := loadReducer(cfg.Client.ReducerPath)
	if err != nil {
		storageDB.Close()
		timelineDB.Close()
		return nil, err
	}
	sandbox, err := wazerosandbox.New(ctx, reducerBin)
	if err != nil {
		storageDB.Close()
		timelineDB.Close()
		return nil, fmt.Errorf("start reducer sandbox: %w", err)
	}

	doc := localdoc.Open(st, timelineJournal, conn, sandbox, reactive.NewTracker())

	return &localSession{Doc: doc, storageDB: storageDB, timelineDB: timelineDB, sandbox: sandbox}, nil
}

func openBadgerDir(dir string) (*badgerdb.DB, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	db, err := badgerdb.Open(badgerdb.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dir, err)
	}
	return db, nil
}

// loadOrCreateClientID returns the client's persisted identity, used as
// its timeline id so a coordinator recognizes it across reconnects,
// generating and saving a fresh one on first run.
func loadOrCreateClientID(dataDir string) (journalid.ID, error) {
	path := filepath.Join(dataDir, "client_id")

	data, err := os.ReadFile(path)
	if err == nil {
		id, err := journalid.Parse(strings.TrimSpace(string(data)))
		if err != nil {
			return journalid.ID{}, fmt.Errorf("parse client id in %s: %w", path, err)
		}
		return id, nil
	}
	if !os.IsNotExist(err) {
		return journalid.ID{}, fmt.Errorf("read client id %s: %w", path, err)
	}

	id := journalid.New128()
	if err := os.WriteFile(path, []byte(id.String()), 0644); err != nil {
		return journalid.ID{}, fmt.Errorf("write client id %s: %w", path, err)
	}
	return id, nil
}
