// Package pub maps slash-separated object paths to typed values and exposes
// them over the in-process bus as retained messages. Writable paths carry a
// callback invoked on external writes; the callback must only validate and
// enqueue work for the owning loop, never mutate state itself.
package pub

import (
	"strings"
	"sync"

	"github.com/rhernaus/victron-alfen-charger-sub000/bus"
	"github.com/rhernaus/victron-alfen-charger-sub000/errcode"
)

// Kind restricts a path to one value type.
type Kind int

const (
	KindInt Kind = iota
	KindFloat
	KindString
)

// WriteFunc is called on an external write request. Returning false rejects
// the write; the stored value is never changed by the caller directly.
type WriteFunc func(value any) bool

type entry struct {
	kind     Kind
	value    any
	writable bool
	onWrite  WriteFunc
}

// Service is one object tree rooted at a service name.
type Service struct {
	mu    sync.Mutex
	name  string
	conn  *bus.Connection
	paths map[string]*entry
}

// NewService registers an empty object tree published through conn.
func NewService(name string, conn *bus.Connection) *Service {
	return &Service{
		name:  name,
		conn:  conn,
		paths: map[string]*entry{},
	}
}

func (s *Service) topic(path string) bus.Topic {
	segs := strings.Split(strings.TrimPrefix(path, "/"), "/")
	return bus.T(s.name).Append(segs...)
}

// Register adds a path with an initial value. Writable paths require a
// callback. Registration publishes the initial value retained.
func (s *Service) Register(path string, kind Kind, initial any, writable bool, onWrite WriteFunc) error {
	if !typeMatches(kind, initial) {
		return errcode.Wrap(errcode.TypeMismatch, "register "+path, nil)
	}
	if writable && onWrite == nil {
		return errcode.Wrap(errcode.Validation, "register "+path, nil)
	}
	s.mu.Lock()
	s.paths[path] = &entry{kind: kind, value: initial, writable: writable, onWrite: onWrite}
	s.mu.Unlock()
	s.publish(path, initial)
	return nil
}

// Set updates an outbound value. Only the owning loop calls Set. Unchanged
// values are not re-published.
func (s *Service) Set(path string, value any) error {
	s.mu.Lock()
	e, ok := s.paths[path]
	if !ok {
		s.mu.Unlock()
		return errcode.Wrap(errcode.UnknownPath, "set "+path, nil)
	}
	if !typeMatches(e.kind, value) {
		s.mu.Unlock()
		return errcode.Wrap(errcode.TypeMismatch, "set "+path, nil)
	}
	if e.value == value {
		s.mu.Unlock()
		return nil
	}
	e.value = value
	s.mu.Unlock()
	s.publish(path, value)
	return nil
}

// Get returns the current value of a path.
func (s *Service) Get(path string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.paths[path]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// GetFloat is a typed convenience accessor; missing paths yield def.
func (s *Service) GetFloat(path string, def float64) float64 {
	v, ok := s.Get(path)
	if !ok {
		return def
	}
	f, ok := v.(float64)
	if !ok {
		return def
	}
	return f
}

// GetInt is a typed convenience accessor; missing paths yield def.
func (s *Service) GetInt(path string, def int) int {
	v, ok := s.Get(path)
	if !ok {
		return def
	}
	i, ok := v.(int)
	if !ok {
		return def
	}
	return i
}

// Write requests a mutation from outside the owning loop. The registered
// callback decides acceptance; the stored value is updated by the loop via
// Set once the change has taken effect.
func (s *Service) Write(path string, value any) error {
	s.mu.Lock()
	e, ok := s.paths[path]
	if !ok {
		s.mu.Unlock()
		return errcode.Wrap(errcode.UnknownPath, "write "+path, nil)
	}
	if !e.writable {
		s.mu.Unlock()
		return errcode.Wrap(errcode.ReadOnlyPath, "write "+path, nil)
	}
	if !typeMatches(e.kind, value) {
		s.mu.Unlock()
		return errcode.Wrap(errcode.TypeMismatch, "write "+path, nil)
	}
	cb := e.onWrite
	s.mu.Unlock()
	if !cb(value) {
		return errcode.Wrap(errcode.Validation, "write "+path, nil)
	}
	return nil
}

// Snapshot copies the whole tree, for the HTTP status surface.
func (s *Service) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.paths))
	for p, e := range s.paths {
		out[p] = e.value
	}
	return out
}

func (s *Service) publish(path string, value any) {
	if s.conn == nil {
		return
	}
	s.conn.Publish(s.conn.NewMessage(s.topic(path), value, true))
}

func typeMatches(k Kind, v any) bool {
	switch k {
	case KindInt:
		_, ok := v.(int)
		return ok
	case KindFloat:
		_, ok := v.(float64)
		return ok
	case KindString:
		_, ok := v.(string)
		return ok
	}
	return false
}
