package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionData is the application-defined blob kept per session
type SessionData map[string]any

type sessionEntry struct {
	data     SessionData
	lastSeen time.Time
}

// SessionStore maps session tokens to data. All operations are safe for
// concurrent use. Sessions idle for longer than ttl are treated as absent;
// a zero ttl keeps them until deleted.
type SessionStore struct {
	mu         sync.Mutex
	sessions   map[string]*sessionEntry
	cookieName string
	ttl        time.Duration
	now        func() time.Time
}

func NewSessionStore(cookieName string, ttl time.Duration) *SessionStore {
	if cookieName == "" {
		cookieName = "sid"
	}
	return &SessionStore{
		sessions:   make(map[string]*sessionEntry),
		cookieName: cookieName,
		ttl:        ttl,
		now:        time.Now,
	}
}

func (s *SessionStore) CookieName() string { return s.cookieName }

// Token returns the session token carried by the request's cookies
func (s *SessionStore) Token(req *Request) string {
	return req.Cookies[s.cookieName]
}

// Ensure makes sure the request has a session. For a known token it
// returns no Set-Cookie value; otherwise it mints a token, records an empty
// session and returns the Set-Cookie value to send.
func (s *SessionStore) Ensure(req *Request) (setCookie string, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if token = s.Token(req); token != "" {
		if entry := s.lookup(token, now); entry != nil {
			entry.lastSeen = now
			return "", token
		}
	}

	token = uuid.NewString()
	s.sessions[token] = &sessionEntry{data: SessionData{}, lastSeen: now}
	return s.cookieName + "=" + token + "; Path=/; HttpOnly", token
}

// Read returns a copy of the session data
func (s *SessionStore) Read(token string) (SessionData, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry := s.lookup(token, now)
	if entry == nil {
		return nil, false
	}
	entry.lastSeen = now

	data := make(SessionData, len(entry.data))
	for k, v := range entry.data {
		data[k] = v
	}
	return data, true
}

// Write replaces the data of a known session; unknown tokens are ignored
func (s *SessionStore) Write(token string, data SessionData) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry := s.lookup(token, now)
	if entry == nil {
		return
	}
	if data == nil {
		data = SessionData{}
	}
	entry.data = data
	entry.lastSeen = now
}

// Delete removes a session; unknown tokens are ignored
func (s *SessionStore) Delete(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
}

// Sweep drops every expired session and reports how many were removed
func (s *SessionStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ttl <= 0 {
		return 0
	}
	now := s.now()
	removed := 0
	for token, entry := range s.sessions {
		if now.Sub(entry.lastSeen) > s.ttl {
			delete(s.sessions, token)
			removed++
		}
	}
	return removed
}

func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// lookup returns a live entry, evicting it if expired. Callers hold mu.
func (s *SessionStore) lookup(token string, now time.Time) *sessionEntry {
	entry, ok := s.sessions[token]
	if !ok {
		return nil
	}
	if s.ttl > 0 && now.Sub(entry.lastSeen) > s.ttl {
		delete(s.sessions, token)
		return nil
	}
	return entry
}

// SessionMiddleware assigns a session before routing, setting the cookie
// on the response when a new one is minted.
func SessionMiddleware(store *SessionStore) Middleware {
	return Middleware{
		Name:   "session",
		Before: true,
		Handle: func(req *Request, res *Response) (*Request, *Response, error) {
			setCookie, token := store.Ensure(req)
			if setCookie != "" {
				res.Header.Set("Set-Cookie", setCookie)
			}
			req.SessionID = token
			return req, res, nil
		},
	}
}
