package core

import (
	"sync"

	"github.com/samber/lo"

	"github.com/vovakirdan/groupchat-server/internal/channel"
)

// memberSet is the per-channel state. seq serializes operations that must be
// ordered against each other (append+broadcast, history+join); mu guards the
// member map itself.
type memberSet struct {
	seq     sync.Mutex
	mu      sync.RWMutex
	members map[string]*Session
	// refs counts callers inside Sequence; the entry is not collected while
	// it is non-zero.
	refs int
}

// Registry maps channel keys to the sessions currently joined to them.
// Lock order: Registry.mu before memberSet.mu. memberSet.seq is never taken
// while holding either.
type Registry struct {
	mu       sync.Mutex
	channels map[channel.Key]*memberSet
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[channel.Key]*memberSet)}
}

// Join adds s to the member set of key, creating the set on first use.
// Joining twice is a no-op.
func (r *Registry) Join(key channel.Key, s *Session) error {
	if s.Channel != key {
		return ErrWrongChannel
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.channels[key]
	if !ok {
		set = &memberSet{members: make(map[string]*Session)}
		r.channels[key] = set
	}

	set.mu.Lock()
	set.members[s.ID] = s
	set.mu.Unlock()
	return nil
}

// Leave removes s from the member set of key and reports whether it was
// present. The set is dropped once it is empty and unused.
func (r *Registry) Leave(key channel.Key, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.channels[key]
	if !ok {
		return false
	}

	set.mu.Lock()
	_, present := set.members[s.ID]
	delete(set.members, s.ID)
	empty := len(set.members) == 0
	set.mu.Unlock()

	if empty && set.refs == 0 {
		delete(r.channels, key)
	}
	return present
}

// Members returns a snapshot of the sessions joined to key.
func (r *Registry) Members(key channel.Key) []*Session {
	r.mu.Lock()
	set, ok := r.channels[key]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	set.mu.RLock()
	defer set.mu.RUnlock()
	return lo.Values(set.members)
}

// Contains reports whether s is currently joined to key.
func (r *Registry) Contains(key channel.Key, s *Session) bool {
	r.mu.Lock()
	set, ok := r.channels[key]
	r.mu.Unlock()
	if !ok {
		return false
	}

	set.mu.RLock()
	defer set.mu.RUnlock()
	_, present := set.members[s.ID]
	return present
}

// Size returns the number of members of key.
func (r *Registry) Size(key channel.Key) int {
	return len(r.Members(key))
}

// Channels returns how many channels currently have state.
func (r *Registry) Channels() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// Sequence runs fn inside the critical section of key. Calls for the same
// key never overlap; calls for different keys run concurrently. Join, Leave
// and Members may be used from within fn.
func (r *Registry) Sequence(key channel.Key, fn func() error) error {
	set := r.acquire(key)
	defer r.release(key, set)

	set.seq.Lock()
	defer set.seq.Unlock()
	return fn()
}

func (r *Registry) acquire(key channel.Key) *memberSet {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.channels[key]
	if !ok {
		set = &memberSet{members: make(map[string]*Session)}
		r.channels[key] = set
	}
	set.refs++
	return set
}

func (r *Registry) release(key channel.Key, set *memberSet) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set.refs--
	if set.refs > 0 {
		return
	}

	set.mu.RLock()
	empty := len(set.members) == 0
	set.mu.RUnlock()
	if empty && r.channels[key] == set {
		delete(r.channels, key)
	}
}
