// Package server exposes the chat service over HTTP: REST routes for turns
// and conversation management, and a websocket endpoint for live sessions.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/debriefhq/debrief/agent"
	"github.com/debriefhq/debrief/config"
	"github.com/debriefhq/debrief/hub"
	"github.com/debriefhq/debrief/log"
	"github.com/debriefhq/debrief/model"
	"github.com/debriefhq/debrief/spies"
	"github.com/debriefhq/debrief/store"
)

// Server wires the HTTP surface to the chat session
type Server struct {
	config   *config.Config
	session  *agent.Session
	spies    *spies.Repository
	store    store.ConversationStore
	registry *hub.Registry
}

// NewServer creates the HTTP server
func NewServer(cfg *config.Config, session *agent.Session, repo *spies.Repository, st store.ConversationStore, registry *hub.Registry) *Server {
	return &Server{
		config:   cfg,
		session:  session,
		spies:    repo,
		store:    st,
		registry: registry,
	}
}

// RegisterRoutes registers all routes on the given gin.Engine
func (s *Server) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", s.handleHealth)

	router.GET("/spies", s.handleListSpies)
	router.POST("/spies", s.handleCreateSpy)
	router.GET("/spies/:spyID", s.handleGetSpy)
	router.PUT("/spies/:spyID", s.handleUpdateSpy)
	router.DELETE("/spies/:spyID", s.handleDeleteSpy)
	router.POST("/spies/:spyID/chat", s.handleChat)
	router.POST("/spies/:spyID/debrief/:missionID", s.handleDebrief)

	router.POST("/conversations", s.handleCreateConversation)
	router.GET("/conversations", s.handleListConversations)
	router.GET("/conversations/:conversationID", s.handleGetConversation)
	router.DELETE("/conversations/:conversationID", s.handleDeleteConversation)

	router.GET("/ws", s.handleWebSocket)
}

// Start runs the server until the listener fails
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	s.RegisterRoutes(router)

	address := s.config.GetAddress()
	log.Log.Infof("starting HTTP server on %s", address)
	return router.Run(address)
}

// ChatRequest is the body of a REST chat turn
type ChatRequest struct {
	Message        string `json:"message" binding:"required"`
	ConversationID string `json:"conversation_id"`
}

// ChatResponse mirrors the response envelope sent over the socket
type ChatResponse struct {
	SpyID          string `json:"spy_id"`
	SpyName        string `json:"spy_name"`
	Message        string `json:"message"`
	Response       string `json:"response"`
	ConversationID string `json:"conversation_id"`
}

// handleChat runs one chat turn for a spy. Without a conversation_id the
// turn lands in the spy's current conversation, created on first contact.
func (s *Server) handleChat(c *gin.Context) {
	spyID := c.Param("spyID")

	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	// The turn must survive the client hanging up mid-request: the response
	// still gets persisted and broadcast. Only the session's own turn
	// timeout bounds it.
	turnCtx := context.WithoutCancel(c.Request.Context())
	result, conv, err := s.session.RunTurn(turnCtx, spyID, req.ConversationID, req.Message)
	if err != nil {
		s.renderTurnError(c, spyID, req.ConversationID, err)
		return
	}

	c.JSON(http.StatusOK, ChatResponse{
		SpyID:          spyID,
		SpyName:        result.Spy.DisplayName(),
		Message:        req.Message,
		Response:       result.Response,
		ConversationID: conv.ID,
	})
}

// DebriefRequest is the body of a mission debrief turn
type DebriefRequest struct {
	Message        string `json:"message" binding:"required"`
	ConversationID string `json:"conversation_id"`
}

// handleDebrief runs a debrief turn: the named mission's record is loaded
// up front and the spy answers about it directly. Without a
// conversation_id each debrief starts a fresh conversation.
func (s *Server) handleDebrief(c *gin.Context) {
	spyID := c.Param("spyID")
	missionID := c.Param("missionID")

	var req DebriefRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	turnCtx := context.WithoutCancel(c.Request.Context())
	result, conv, err := s.session.RunDebriefTurn(turnCtx, spyID, req.ConversationID, missionID, req.Message)
	if err != nil {
		if errors.Is(err, agent.ErrMissionUnavailable) {
			c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Mission %s not found", missionID)})
			return
		}
		s.renderTurnError(c, spyID, req.ConversationID, err)
		return
	}

	c.JSON(http.StatusOK, ChatResponse{
		SpyID:          spyID,
		SpyName:        result.Spy.DisplayName(),
		Message:        req.Message,
		Response:       result.Response,
		ConversationID: conv.ID,
	})
}

// renderTurnError maps session errors to HTTP responses
func (s *Server) renderTurnError(c *gin.Context, spyID, conversationID string, err error) {
	switch {
	case errors.Is(err, spies.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Spy %s not found", spyID)})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Conversation %s not found", conversationID)})
	case errors.Is(err, agent.ErrWrongSpy):
		c.JSON(http.StatusForbidden, gin.H{"error": "Conversation does not belong to this spy"})
	default:
		log.Log.Errorf("turn for spy %s: %v", spyID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"spies":       len(s.spies.List()),
		"connections": s.registry.Count(),
	})
}

func (s *Server) handleListSpies(c *gin.Context) {
	if specialty := c.Query("specialty"); specialty != "" {
		c.JSON(http.StatusOK, s.spies.SearchBySpecialty(specialty))
		return
	}
	if codename := c.Query("codename"); codename != "" {
		spy, err := s.spies.ResolveByCodename(codename)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("No spy with codename %s", codename)})
			return
		}
		c.JSON(http.StatusOK, spy)
		return
	}
	c.JSON(http.StatusOK, s.spies.List())
}

func (s *Server) handleGetSpy(c *gin.Context) {
	spy, err := s.spies.Resolve(c.Param("spyID"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Spy %s not found", c.Param("spyID"))})
		return
	}
	c.JSON(http.StatusOK, spy)
}

func (s *Server) handleCreateSpy(c *gin.Context) {
	var profile model.SpyProfile
	if err := c.ShouldBindJSON(&profile); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid spy profile"})
		return
	}
	created, err := s.spies.Create(profile)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) handleUpdateSpy(c *gin.Context) {
	var profile model.SpyProfile
	if err := c.ShouldBindJSON(&profile); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid spy profile"})
		return
	}
	// The path owns the identity; the body cannot rename a spy.
	profile.ID = c.Param("spyID")

	updated, err := s.spies.Update(profile)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Spy %s not found", profile.ID)})
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) handleDeleteSpy(c *gin.Context) {
	if !s.spies.Delete(c.Param("spyID")) {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Spy %s not found", c.Param("spyID"))})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// CreateConversationRequest opens a fresh conversation for a spy
type CreateConversationRequest struct {
	SpyID string `json:"spy_id" binding:"required"`
}

func (s *Server) handleCreateConversation(c *gin.Context) {
	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "spy_id is required"})
		return
	}
	if _, err := s.spies.Resolve(req.SpyID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Spy %s not found", req.SpyID)})
		return
	}

	conv, err := s.store.Create(req.SpyID)
	if err != nil {
		log.Log.Errorf("creating conversation for spy %s: %v", req.SpyID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"spy_id": req.SpyID, "conversation_id": conv.ID})
}

func (s *Server) handleListConversations(c *gin.Context) {
	if spyID := c.Query("spy_id"); spyID != "" {
		convs, err := s.store.ListBySpy(spyID)
		if err != nil {
			log.Log.Errorf("listing conversations for spy %s: %v", spyID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, convs)
		return
	}

	convs, err := s.store.List(getIntQuery(c, "skip", 0), getIntQuery(c, "limit", 100))
	if err != nil {
		log.Log.Errorf("listing conversations: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, convs)
}

func (s *Server) handleGetConversation(c *gin.Context) {
	conv, err := s.store.Get(c.Param("conversationID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Conversation %s not found", c.Param("conversationID"))})
			return
		}
		log.Log.Errorf("loading conversation %s: %v", c.Param("conversationID"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(c *gin.Context) {
	existed, err := s.store.Delete(c.Param("conversationID"))
	if err != nil {
		log.Log.Errorf("deleting conversation %s: %v", c.Param("conversationID"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if !existed {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Conversation %s not found", c.Param("conversationID"))})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// getIntQuery extracts a non-negative int query param with a default
func getIntQuery(c *gin.Context, key string, defaultValue int) int {
	raw := c.Query(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return defaultValue
	}
	return v
}
