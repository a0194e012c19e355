package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/debriefhq/debrief/hub"
	"github.com/debriefhq/debrief/log"
	"github.com/debriefhq/debrief/missions"
	"github.com/debriefhq/debrief/model"
	"github.com/debriefhq/debrief/spies"
	"github.com/debriefhq/debrief/store"
)

// DefaultTurnTimeout bounds one full turn including tool calls
const DefaultTurnTimeout = 60 * time.Second

// ErrWrongSpy is returned when a turn names a conversation owned by a
// different spy
var ErrWrongSpy = errors.New("conversation does not belong to this spy")

// ErrMissionUnavailable is returned when a debrief turn cannot load its
// mission record
var ErrMissionUnavailable = errors.New("mission context unavailable")

// Session runs chat turns for spies. One Session serves all spies and
// conversations; turns on the same conversation are serialized, turns on
// different conversations run concurrently.
type Session struct {
	spies    *spies.Repository
	store    store.ConversationStore
	registry *hub.Registry
	loop     *Loop
	timeout  time.Duration

	mu        sync.Mutex
	turnLocks map[string]*sync.Mutex
}

// NewSession wires a session from its parts. registry may be nil when no
// live connections need notifying (the HTTP-only path).
func NewSession(repo *spies.Repository, st store.ConversationStore, registry *hub.Registry, loop *Loop) *Session {
	return &Session{
		spies:     repo,
		store:     st,
		registry:  registry,
		loop:      loop,
		timeout:   DefaultTurnTimeout,
		turnLocks: make(map[string]*sync.Mutex),
	}
}

// SetTurnTimeout overrides the per-turn deadline
func (s *Session) SetTurnTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

// RunTurn executes one chat turn: resolve the spy, load or create the
// conversation, persist the user message, drive the tool-call loop, persist
// everything the turn produced, and notify live connections on the
// conversation. conversationID may be empty, meaning the spy's current
// conversation (created on first contact).
//
// The conversation's turn lock is held for the whole turn, so a second
// message for the same conversation waits until this one lands. ctx should
// not be tied to any single client connection; a sender who disconnects
// mid-turn must not abort the turn for everyone else.
func (s *Session) RunTurn(ctx context.Context, spyID, conversationID, userText string) (*TurnResult, *model.Conversation, error) {
	spy, conv, err := s.resolve(spyID, conversationID, false)
	if err != nil {
		return nil, nil, err
	}
	return s.runTurn(ctx, spy, conv, SystemPrompt(spy), userText)
}

// RunDebriefTurn executes a mission debrief turn: the named mission's
// record is loaded up front (through the same cache the tool uses) and
// folded into the persona prompt, so the spy answers about that mission
// without the user having to cite its ID. An empty conversationID starts a
// fresh conversation rather than reusing the spy's current one; a debrief
// is its own session.
func (s *Session) RunDebriefTurn(ctx context.Context, spyID, conversationID, missionID, userText string) (*TurnResult, *model.Conversation, error) {
	spy, conv, err := s.resolve(spyID, conversationID, true)
	if err != nil {
		return nil, nil, err
	}

	res := s.loop.Invoke(model.ToolInvocation{
		Name:      missions.ToolGetMissionContext,
		Arguments: map[string]interface{}{"mission_id": missionID},
	})
	if res.Status == model.ToolStatusError {
		return nil, nil, fmt.Errorf("%w: %s", ErrMissionUnavailable, res.Payload)
	}

	return s.runTurn(ctx, spy, conv, DebriefPrompt(spy, missionID, res.Payload), userText)
}

// resolve loads the spy and the target conversation. With an empty
// conversationID, freshWhenEmpty selects between starting a new
// conversation and reusing the spy's current one.
func (s *Session) resolve(spyID, conversationID string, freshWhenEmpty bool) (model.SpyProfile, *model.Conversation, error) {
	spy, err := s.spies.Resolve(spyID)
	if err != nil {
		return model.SpyProfile{}, nil, err
	}

	var conv *model.Conversation
	switch {
	case conversationID == "" && freshWhenEmpty:
		conv, err = s.store.Create(spyID)
	case conversationID == "":
		conv, err = s.store.GetOrCreateForSpy(spyID)
	default:
		conv, err = s.store.Get(conversationID)
	}
	if err != nil {
		return model.SpyProfile{}, nil, err
	}
	if conv.SpyID != spyID {
		return model.SpyProfile{}, nil, ErrWrongSpy
	}
	return spy, conv, nil
}

// runTurn is the shared turn body: persist the user message, drive the
// loop, persist the output, notify live connections.
func (s *Session) runTurn(ctx context.Context, spy model.SpyProfile, conv *model.Conversation, systemPrompt, userText string) (*TurnResult, *model.Conversation, error) {
	lock := s.turnLock(conv.ID)
	lock.Lock()
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	userMsg := model.NewUserMessage(userText)
	if err := s.store.Append(conv.ID, userMsg); err != nil {
		return nil, nil, err
	}

	// Reload under the turn lock so the loop sees the appended user message
	// and anything a prior turn landed while we waited.
	conv, err := s.store.Get(conv.ID)
	if err != nil {
		return nil, nil, err
	}

	started := time.Now()
	result := s.loop.Run(ctx, systemPrompt, conv.Messages)
	result.Spy = spy
	log.Log.Infof("turn for spy %s conversation %s took %s, %d tool calls, failed=%v",
		spy.ID, conv.ID, time.Since(started).Round(time.Millisecond), len(result.ToolCalls), result.Failed)

	if err := s.store.Append(conv.ID, result.Messages...); err != nil {
		// The reply exists but did not persist. Still deliver it; the next
		// turn just won't see it in history.
		log.Log.Errorf("persisting turn output for conversation %s: %v", conv.ID, err)
	}

	conv, err = s.store.Get(conv.ID)
	if err != nil {
		return nil, nil, err
	}

	if s.registry != nil {
		s.registry.BroadcastToConversation(conv.ID, model.Envelope{
			Type:           model.EnvelopeResponse,
			SpyID:          spy.ID,
			SpyName:        spy.DisplayName(),
			Message:        userText,
			Response:       result.Response,
			ConversationID: conv.ID,
		})
	}

	return result, conv, nil
}

// turnLock returns the per-conversation turn mutex, creating it on first use
func (s *Session) turnLock(conversationID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.turnLocks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		s.turnLocks[conversationID] = l
	}
	return l
}
