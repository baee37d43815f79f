// Package userstore keeps the credentials behind the login and register
// forms in BadgerDB. Access goes through a fixed number of sessions so a
// burst of form posts cannot occupy every worker on storage at once.
package userstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultPoolSize is the number of concurrent sessions.
	DefaultPoolSize = 10

	prefixUser = "user:"
)

var (
	ErrPoolClosed   = errors.New("userstore: pool closed")
	ErrUserExists   = errors.New("userstore: user already exists")
	ErrUserNotFound = errors.New("userstore: user not found")
	ErrEmptyField   = errors.New("userstore: empty username or password")
)

// Options configures a Store.
type Options struct {
	Dir      string // ignored when InMemory
	InMemory bool
	PoolSize int
	HashCost int // bcrypt cost; 0 means bcrypt.DefaultCost
	Logger   logrus.FieldLogger
}

// Store is a credential store with a bounded session pool.
type Store struct {
	db     *badger.DB
	tokens chan struct{}
	size   int
	cost   int
	log    logrus.FieldLogger

	done      chan struct{}
	closeOnce sync.Once
}

// Session is one checked-out slot of the pool.
type Session struct {
	s *Store
}

// Open opens or creates the store.
func Open(opts Options) (*Store, error) {
	if opts.PoolSize <= 0 {
		opts.PoolSize = DefaultPoolSize
	}
	if opts.HashCost == 0 {
		opts.HashCost = bcrypt.DefaultCost
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	bopts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts.Logger = nil

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	s := &Store{
		db:     db,
		tokens: make(chan struct{}, opts.PoolSize),
		size:   opts.PoolSize,
		cost:   opts.HashCost,
		log:    opts.Logger.WithField("component", "userstore"),
		done:   make(chan struct{}),
	}
	for i := 0; i < opts.PoolSize; i++ {
		s.tokens <- struct{}{}
	}
	return s, nil
}

// Acquire waits for a free session.
func (s *Store) Acquire(ctx context.Context) (*Session, error) {
	select {
	case <-s.done:
		return nil, ErrPoolClosed
	default:
	}

	select {
	case <-s.tokens:
		return &Session{s: s}, nil
	case <-s.done:
		return nil, ErrPoolClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a session to the pool. Releasing twice is a no-op.
func (s *Store) Release(sess *Session) {
	if sess == nil || sess.s == nil {
		return
	}
	sess.s = nil
	select {
	case s.tokens <- struct{}{}:
	default:
	}
}

// FreeCount returns the number of idle sessions.
func (s *Store) FreeCount() int {
	return len(s.tokens)
}

// Size returns the pool capacity.
func (s *Store) Size() int {
	return s.size
}

// VerifyUser logs a user in, or registers a new one when isLogin is false.
// Registration succeeds only if the name was free and the insert committed.
func (s *Store) VerifyUser(username, password string, isLogin bool) bool {
	if username == "" || password == "" {
		return false
	}

	sess, err := s.Acquire(context.Background())
	if err != nil {
		s.log.WithError(err).Warn("⚠️  No session for credential check")
		return false
	}
	defer s.Release(sess)

	log := s.log.WithField("user", username)
	if isLogin {
		err = sess.Login(username, password)
	} else {
		err = sess.Register(username, password)
	}

	switch {
	case err == nil:
		log.WithField("login", isLogin).Debug("Credential check passed")
		return true
	case errors.Is(err, ErrUserExists), errors.Is(err, ErrUserNotFound),
		errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		log.WithField("login", isLogin).WithError(err).Debug("Credential check failed")
	default:
		log.WithError(err).Error("❌ Credential store error")
	}
	return false
}

// Login checks password against the stored hash.
func (sess *Session) Login(username, password string) error {
	var rec record
	err := sess.s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(userKey(username))
		if err != nil {
			return err
		}
		return item.Value(rec.unmarshal)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}
	return bcrypt.CompareHashAndPassword(rec.hash, []byte(password))
}

// Register inserts a new user. The existence check and the write share
// one transaction, so a concurrent registration of the same name conflicts.
func (sess *Session) Register(username, password string) error {
	if username == "" || password == "" {
		return ErrEmptyField
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), sess.s.cost)
	if err != nil {
		return err
	}
	rec := record{hash: hash, created: time.Now()}

	err = sess.s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(userKey(username))
		if err == nil {
			return ErrUserExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(userKey(username), rec.marshal())
	})
	if errors.Is(err, badger.ErrConflict) {
		return ErrUserExists
	}
	return err
}

// RunGC reclaims value log space until ctx is done.
func (s *Store) RunGC(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(0.5)
			if errors.Is(err, badger.ErrGCInMemoryMode) {
				return
			}
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.log.WithError(err).Warn("BadgerDB GC error")
			}
		}
	}
}

// Close rejects further sessions and closes the database.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.db.Close()
	})
	return err
}

func userKey(name string) []byte {
	return []byte(prefixUser + name)
}
