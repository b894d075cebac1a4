package todo

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"todo-api/domain"
)

const defaultLoadTimeout = 30 * time.Second

type session struct {
	store *Store
	ready chan struct{}
	err   error
}

func (sess *session) result() (*Store, error) {
	if sess.err != nil {
		return nil, sess.err
	}
	return sess.store, nil
}

// Sessions keeps one Store per signed-in user. Acquiring a session is what moves
// a store from idle to ready; releasing it moves the store back to idle.
type Sessions struct {
	open        BackendFactory
	logger      *log.Logger
	opts        []Option
	loadTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*session
}

// NewSessions creates an empty registry. opts are applied to every new Store.
func NewSessions(open BackendFactory, logger *log.Logger, opts ...Option) *Sessions {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Sessions{
		open:        open,
		logger:      logger,
		opts:        opts,
		loadTimeout: defaultLoadTimeout,
		sessions:    make(map[string]*session),
	}
}

// Acquire returns the ready store of user, loading it on first use. Concurrent
// callers for the same user wait for the first load. The load is not tied to
// any caller's context, so a caller that gives up does not fail the others; it
// is bounded by loadTimeout instead. A failed load is not kept, so the next
// call tries again.
func (s *Sessions) Acquire(ctx context.Context, user domain.User) (*Store, error) {
	s.mu.Lock()
	sess, ok := s.sessions[user.ID]
	if !ok {
		sess = &session{
			store: NewStore(s.open, s.logger, s.opts...),
			ready: make(chan struct{}),
		}
		s.sessions[user.ID] = sess
		go s.load(context.WithoutCancel(ctx), sess, user)
	}
	s.mu.Unlock()

	select {
	case <-sess.ready:
		return sess.result()
	default:
	}
	select {
	case <-sess.ready:
		return sess.result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Sessions) load(ctx context.Context, sess *session, user domain.User) {
	ctx, cancel := context.WithTimeout(ctx, s.loadTimeout)
	defer cancel()
	sess.err = sess.store.SetUser(ctx, &user)
	if sess.err != nil {
		s.mu.Lock()
		if s.sessions[user.ID] == sess {
			delete(s.sessions, user.ID)
		}
		s.mu.Unlock()
	} else {
		s.logger.WithField("user", user.ID).Debug("todo session ready")
	}
	close(sess.ready)
}

// Release ends the session of userID. Releasing an unknown session is a no-op.
func (s *Sessions) Release(ctx context.Context, userID string) {
	s.mu.Lock()
	sess, ok := s.sessions[userID]
	if ok {
		delete(s.sessions, userID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	<-sess.ready
	_ = sess.store.SetUser(ctx, nil)
	s.logger.WithField("user", userID).Debug("todo session released")
}

// Len returns the number of open sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
