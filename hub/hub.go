// Package hub tracks live client connections and routes envelopes to them.
//
// The registry keeps two secondary indexes, by spy and by conversation, so a
// turn's result can be fanned out to everyone watching the same conversation.
// It is safe under concurrent connect/disconnect churn; broadcasts snapshot
// their targets under the lock and send outside it, so a slow client never
// blocks a disconnect.
package hub

import (
	"sync"

	"github.com/debriefhq/debrief/log"
	"github.com/debriefhq/debrief/model"
	"github.com/google/uuid"
)

// Transport is the duplex channel a connection writes to. The registry owns
// the mapping from connection ID to transport; the transport itself (its
// lifetime, its read loop) belongs to the surrounding network layer.
type Transport interface {
	WriteEnvelope(env model.Envelope) error
}

// TransportFunc adapts a plain function into a Transport
type TransportFunc func(env model.Envelope) error

// WriteEnvelope implements the Transport interface
func (f TransportFunc) WriteEnvelope(env model.Envelope) error {
	return f(env)
}

// connection is one registered transport with its index keys
type connection struct {
	id             string
	transport      Transport
	spyID          string
	conversationID string
}

// Registry tracks open connections and their spy/conversation indexes
type Registry struct {
	mu      sync.RWMutex
	conns   map[string]*connection
	bySpy   map[string]map[string]struct{}
	byConv  map[string]map[string]struct{}
}

// NewRegistry creates an empty connection registry. One registry is owned by
// the composition root and passed to whatever accepts connections; there is
// no package-level instance.
func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]*connection),
		bySpy:  make(map[string]map[string]struct{}),
		byConv: make(map[string]map[string]struct{}),
	}
}

// Connect registers a transport and returns its connection ID. spyID and
// conversationID are optional; when set, the connection is added to the
// matching broadcast index.
func (r *Registry) Connect(transport Transport, spyID, conversationID string) string {
	conn := &connection{
		id:             uuid.NewString(),
		transport:      transport,
		spyID:          spyID,
		conversationID: conversationID,
	}

	r.mu.Lock()
	r.conns[conn.id] = conn
	if spyID != "" {
		if r.bySpy[spyID] == nil {
			r.bySpy[spyID] = make(map[string]struct{})
		}
		r.bySpy[spyID][conn.id] = struct{}{}
	}
	if conversationID != "" {
		if r.byConv[conversationID] == nil {
			r.byConv[conversationID] = make(map[string]struct{})
		}
		r.byConv[conversationID][conn.id] = struct{}{}
	}
	r.mu.Unlock()

	log.Log.Debugf("connection %s registered (spy=%s conversation=%s)", conn.id, spyID, conversationID)
	return conn.id
}

// Disconnect removes a connection and all of its index entries. Idempotent:
// disconnecting an unknown or already-closed connection is a no-op. Empty
// index buckets are removed so the maps do not grow with churn.
func (r *Registry) Disconnect(connectionID string) {
	r.mu.Lock()
	conn, ok := r.conns[connectionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, connectionID)

	if conn.spyID != "" {
		if bucket := r.bySpy[conn.spyID]; bucket != nil {
			delete(bucket, connectionID)
			if len(bucket) == 0 {
				delete(r.bySpy, conn.spyID)
			}
		}
	}
	if conn.conversationID != "" {
		if bucket := r.byConv[conn.conversationID]; bucket != nil {
			delete(bucket, connectionID)
			if len(bucket) == 0 {
				delete(r.byConv, conn.conversationID)
			}
		}
	}
	r.mu.Unlock()

	log.Log.Debugf("connection %s disconnected", connectionID)
}

// SendTo delivers an envelope to one connection. Sending to a closed or
// unknown connection is a silent no-op: a disconnect can always race a send,
// so delivery-after-close is not an error.
func (r *Registry) SendTo(connectionID string, env model.Envelope) {
	r.mu.RLock()
	conn, ok := r.conns[connectionID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	r.write(conn, env)
}

// BroadcastToSpy delivers an envelope to every open connection registered
// for a spy
func (r *Registry) BroadcastToSpy(spyID string, env model.Envelope) {
	r.broadcast(r.snapshot(r.bySpy, spyID), env)
}

// BroadcastToConversation delivers an envelope to every open connection
// registered for a conversation
func (r *Registry) BroadcastToConversation(conversationID string, env model.Envelope) {
	r.broadcast(r.snapshot(r.byConv, conversationID), env)
}

// BroadcastAll delivers an envelope to every open connection
func (r *Registry) BroadcastAll(env model.Envelope) {
	r.mu.RLock()
	targets := make([]*connection, 0, len(r.conns))
	for _, conn := range r.conns {
		targets = append(targets, conn)
	}
	r.mu.RUnlock()

	r.broadcast(targets, env)
}

// snapshot copies the connections in one index bucket under the read lock.
// Broadcast then sends without holding the lock, so a connection open at
// snapshot time receives the envelope even if another one disconnects
// mid-broadcast.
func (r *Registry) snapshot(index map[string]map[string]struct{}, key string) []*connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bucket := index[key]
	targets := make([]*connection, 0, len(bucket))
	for id := range bucket {
		if conn, ok := r.conns[id]; ok {
			targets = append(targets, conn)
		}
	}
	return targets
}

func (r *Registry) broadcast(targets []*connection, env model.Envelope) {
	for _, conn := range targets {
		r.write(conn, env)
	}
}

// write sends to a single transport. A write failure means the peer is gone
// or going; it is logged and the connection is dropped from the registry.
func (r *Registry) write(conn *connection, env model.Envelope) {
	if err := conn.transport.WriteEnvelope(env); err != nil {
		log.Log.Warnf("failed to write to connection %s: %v", conn.id, err)
		r.Disconnect(conn.id)
	}
}

// Count returns the number of open connections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CountForConversation returns the number of open connections registered
// for a conversation
func (r *Registry) CountForConversation(conversationID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConv[conversationID])
}
