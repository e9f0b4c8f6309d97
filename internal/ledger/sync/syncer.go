package sync

import (
	"log"
	"os"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/intheblack/ledger/internal/ledger/db"
	"github.com/intheblack/ledger/internal/ledger/remote"
)

// Syncer implements Engine on top of the local database and a remote store.
// It is safe for concurrent use; pushes and pulls may overlap.
type Syncer struct {
	db     *db.DB
	store  remote.Store
	logger *log.Logger
	now    func() time.Time

	// inserts collapses concurrent first pushes of one local row.
	inserts singleflight.Group
}

var _ Engine = (*Syncer)(nil)

// Option configures a Syncer.
type Option func(*Syncer)

// WithLogger sets the logger. nil keeps the default.
func WithLogger(logger *log.Logger) Option {
	return func(s *Syncer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock sets the clock used for the pull watermark.
func WithClock(now func() time.Time) Option {
	return func(s *Syncer) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a Syncer.
//
// The database must have its schema initialized. If no logger is given,
// logs go to stderr with a "[sync] " prefix.
//
// Example:
//
//	database, err := db.Open(path)
//	if err != nil {
//	    return err
//	}
//	if err := database.InitSchema(); err != nil {
//	    return err
//	}
//	engine := sync.New(database, remote.NewRESTClient(url, key))
func New(database *db.DB, store remote.Store, opts ...Option) *Syncer {
	s := &Syncer{
		db:     database,
		store:  store,
		logger: log.New(os.Stderr, "[sync] ", log.LstdFlags),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
