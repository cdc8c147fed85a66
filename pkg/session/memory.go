// Copyright 2026 The Aether Frame Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memorySession is the in-memory Session implementation.
type memorySession struct {
	mu         sync.RWMutex
	id         string
	appName    string
	userID     string
	events     []*Event
	lastUpdate time.Time
}

func (s *memorySession) ID() string      { return s.id }
func (s *memorySession) AppName() string { return s.appName }
func (s *memorySession) UserID() string  { return s.userID }

func (s *memorySession) Events() []*Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *memorySession) LastUpdateTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}

func (s *memorySession) append(event *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	s.lastUpdate = time.Now()
}

// InMemoryService is a Service backed by process memory. Suitable for
// development and tests; sessions do not survive a restart.
type InMemoryService struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession // key: appName/userID/sessionID
	closed   bool
}

// NewInMemoryService creates an empty in-memory session service.
func NewInMemoryService() *InMemoryService {
	return &InMemoryService{
		sessions: make(map[string]*memorySession),
	}
}

func sessionKey(appName, userID, sessionID string) string {
	return appName + "/" + userID + "/" + sessionID
}

func (s *InMemoryService) Get(ctx context.Context, req *GetRequest) (*GetResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrServiceClosed
	}

	sess, ok := s.sessions[sessionKey(req.AppName, req.UserID, req.SessionID)]
	if !ok {
		return nil, ErrSessionNotFound
	}

	if req.NumRecentEvents > 0 {
		events := sess.Events()
		if len(events) > req.NumRecentEvents {
			events = events[len(events)-req.NumRecentEvents:]
		}
		return &GetResponse{Session: &memorySession{
			id:         sess.id,
			appName:    sess.appName,
			userID:     sess.userID,
			events:     events,
			lastUpdate: sess.LastUpdateTime(),
		}}, nil
	}

	return &GetResponse{Session: sess}, nil
}

func (s *InMemoryService) Create(ctx context.Context, req *CreateRequest) (*CreateResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrServiceClosed
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	key := sessionKey(req.AppName, req.UserID, sessionID)
	if existing, ok := s.sessions[key]; ok {
		return &CreateResponse{Session: existing}, nil
	}

	sess := &memorySession{
		id:         sessionID,
		appName:    req.AppName,
		userID:     req.UserID,
		lastUpdate: time.Now(),
	}
	s.sessions[key] = sess

	return &CreateResponse{Session: sess}, nil
}

func (s *InMemoryService) AppendEvent(ctx context.Context, session Session, event *Event) error {
	s.mu.RLock()
	sess, ok := s.sessions[sessionKey(session.AppName(), session.UserID(), session.ID())]
	closed := s.closed
	s.mu.RUnlock()

	if closed {
		return ErrServiceClosed
	}
	if !ok {
		return ErrSessionNotFound
	}
	if event.Partial {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	sess.append(event)
	return nil
}

func (s *InMemoryService) List(ctx context.Context, req *ListRequest) (*ListResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrServiceClosed
	}

	prefix := req.AppName + "/" + req.UserID + "/"
	var out []Session
	for key, sess := range s.sessions {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			out = append(out, sess)
		}
	}
	return &ListResponse{Sessions: out}, nil
}

func (s *InMemoryService) Delete(ctx context.Context, req *DeleteRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrServiceClosed
	}

	key := sessionKey(req.AppName, req.UserID, req.SessionID)
	if _, ok := s.sessions[key]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, key)
	return nil
}

func (s *InMemoryService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.sessions = make(map[string]*memorySession)
	return nil
}

var _ Service = (*InMemoryService)(nil)
