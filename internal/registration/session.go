package registration

import (
	"sync"
	"time"

	"github.com/zombor/sinova-register/internal/verification"
)

// DefaultSessionTTL is how long an idle form session keeps its verifier and verdict
const DefaultSessionTTL = 30 * time.Minute

// session is one registration form: a verifier plus the verdict of its latest upload
type session struct {
	// uploadMu orders uploads so the newest attempt number also holds the verifier
	uploadMu sync.Mutex

	verifier *verification.Verifier
	result   *verification.Result
	attempt  uint64
	lastSeen time.Time
}

// sessions hands out one Verifier per form session and forgets idle ones
type sessions struct {
	mu       sync.Mutex
	byID     map[string]*session
	ttl      time.Duration
	newVerif func() *verification.Verifier
}

func newSessions(ttl time.Duration, newVerifier func() *verification.Verifier) *sessions {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &sessions{
		byID:     make(map[string]*session),
		ttl:      ttl,
		newVerif: newVerifier,
	}
}

// acquire returns the session for id, creating it if needed
func (s *sessions) acquire(id string, now time.Time) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(now)

	sess, ok := s.byID[id]
	if !ok {
		sess = &session{verifier: s.newVerif()}
		s.byID[id] = sess
	}
	sess.lastSeen = now
	return sess
}

// lookup returns the session for id without creating one
func (s *sessions) lookup(id string, now time.Time) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(now)

	sess, ok := s.byID[id]
	if ok {
		sess.lastSeen = now
	}
	return sess, ok
}

// begin starts a new upload on sess, invalidating the previous verdict
func (s *sessions) begin(sess *session) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.attempt++
	sess.result = nil
	return sess.attempt
}

// setResult records the verdict of attempt unless a newer upload has begun
func (s *sessions) setResult(sess *session, attempt uint64, result verification.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.attempt == attempt {
		sess.result = &result
	}
}

// latestResult returns the session's last verdict, if any
func (s *sessions) latestResult(sess *session) (verification.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.result == nil {
		return verification.Result{}, false
	}
	return *sess.result, true
}

// release forgets a session once its verdict has been used
func (s *sessions) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
}

func (s *sessions) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// sweepLocked drops sessions idle past the TTL. Sessions with an attempt in flight are kept.
func (s *sessions) sweepLocked(now time.Time) {
	for id, sess := range s.byID {
		if now.Sub(sess.lastSeen) > s.ttl && !sess.verifier.Busy() {
			delete(s.byID, id)
		}
	}
}
