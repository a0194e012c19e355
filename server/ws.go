package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/debriefhq/debrief/log"
	"github.com/debriefhq/debrief/model"
	"github.com/debriefhq/debrief/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The service fronts a dev UI on another port; origin policy lives at
	// the proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsTransport adapts a websocket connection to the registry's Transport.
// gorilla connections allow one concurrent writer, so writes are serialized
// here; the hub may broadcast from several turns at once.
type wsTransport struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (t *wsTransport) WriteEnvelope(env model.Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.WriteJSON(env)
}

// inboundFrame is what clients send over the socket
type inboundFrame struct {
	Message string `json:"message"`
}

// handleWebSocket runs a live chat session. Query params: spy_id (required),
// conversation_id (optional; the spy's current conversation when omitted).
// Each inbound frame runs one full turn; the response envelope reaches every
// connection on the conversation, this one included.
func (s *Server) handleWebSocket(c *gin.Context) {
	spyID := c.Query("spy_id")
	if spyID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "spy_id is required"})
		return
	}

	spy, err := s.spies.Resolve(spyID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Spy %s not found", spyID)})
		return
	}

	var conv *model.Conversation
	if conversationID := c.Query("conversation_id"); conversationID != "" {
		conv, err = s.store.Get(conversationID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Conversation %s not found", conversationID)})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if conv.SpyID != spyID {
			c.JSON(http.StatusForbidden, gin.H{"error": "Conversation does not belong to this spy"})
			return
		}
	} else {
		conv, err = s.store.GetOrCreateForSpy(spyID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Log.Warnf("websocket upgrade for spy %s: %v", spyID, err)
		return
	}

	transport := &wsTransport{conn: conn}
	connectionID := s.registry.Connect(transport, spyID, conv.ID)
	log.Log.Infof("websocket %s connected, spy %s conversation %s", connectionID, spyID, conv.ID)

	defer func() {
		s.registry.Disconnect(connectionID)
		conn.Close()
		log.Log.Infof("websocket %s disconnected", connectionID)
	}()

	greeting := fmt.Sprintf("Connected to %s", spy.DisplayName())
	if spy.Codename != "" {
		greeting = fmt.Sprintf("Connected to %s (%s)", spy.DisplayName(), spy.Codename)
	}
	welcome := model.SystemEnvelope(greeting)
	welcome.ConversationID = conv.ID
	if err := transport.WriteEnvelope(welcome); err != nil {
		return
	}

	for {
		var frame inboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Log.Warnf("websocket %s read: %v", connectionID, err)
			}
			return
		}
		if frame.Message == "" {
			s.registry.SendTo(connectionID, model.ErrorEnvelope("Invalid message format"))
			continue
		}

		// The turn runs on a background context: a client who drops
		// mid-turn must not abort delivery to the rest of the conversation.
		// The session broadcasts the response envelope itself.
		if _, _, err := s.session.RunTurn(context.Background(), spyID, conv.ID, frame.Message); err != nil {
			log.Log.Errorf("websocket turn for spy %s: %v", spyID, err)
			s.registry.SendTo(connectionID, model.ErrorEnvelope("Turn failed, try again"))
		}
	}
}
