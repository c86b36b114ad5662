package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sampleday/backend/internal/checkin"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // token auth; browsers on any origin may connect
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// CheckIn bundles what a connection needs to run a check-in session.
type CheckIn struct {
	Registry *checkin.Registry
	Provider checkin.LocationProvider
	Sink     checkin.LocationSink
	Interval time.Duration
}

// Client represents a single WebSocket connection.
type Client struct {
	ID      string
	UserID  uuid.UUID
	EventID uuid.UUID // uuid.Nil when the connection only listens for user events
	hub     *Hub
	session *checkin.Session
	sink    checkin.LocationSink
	conn    *websocket.Conn
	send    chan WSMessage
	done    chan struct{}
	logger  *zap.Logger
}

// ServeWs handles GET /ws?token=[&event_id=]. With an event_id the connection
// runs a location tracker for that event's check-in session until it closes.
func ServeWs(hub *Hub, ci CheckIn, logger *zap.Logger, jwtValidate func(token string) (uuid.UUID, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "token required"})
			return
		}
		userID, err := jwtValidate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid token"})
			return
		}

		var session *checkin.Session
		if s := c.Query("event_id"); s != "" {
			eventID, err := uuid.Parse(s)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid event_id"})
				return
			}
			session, err = ci.Registry.Get(c.Request.Context(), userID, eventID)
			if errors.Is(err, checkin.ErrUnknownEvent) {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "event not found"})
				return
			}
			if err != nil {
				logger.Error("load check-in session", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to load check-in"})
				return
			}
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:      uuid.New().String(),
			UserID:  userID,
			hub:     hub,
			session: session,
			sink:    ci.Sink,
			conn:    conn,
			send:    make(chan WSMessage, 64),
			done:    make(chan struct{}),
			logger:  logger,
		}
		if session != nil {
			client.EventID = session.EventID()
		}
		hub.Register(client)

		ctx, cancel := context.WithCancel(context.Background())
		if session != nil {
			client.reply(EventCheckInStatus, session.Snapshot())
			if ci.Provider != nil {
				interval := ci.Interval
				if interval <= 0 {
					interval = checkin.RefreshInterval
				}
				go checkin.NewTracker(session, ci.Provider, interval, logger).Run(ctx)
			}
		}
		go client.writePump()
		client.readPump(ctx)
		cancel()
	}
}

// reply sends a message to this connection only.
func (c *Client) reply(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	select {
	case c.send <- WSMessage{Event: event, Data: data}:
	default:
	}
}

type locationMessage struct {
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Permission string  `json:"permission"`
}

type codeMessage struct {
	Code string `json:"code"`
}

type errorMessage struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		close(c.done)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		if c.session == nil {
			continue
		}

		switch msg.Event {
		case "location":
			c.handleLocation(ctx, msg.Data)
		case "submit_code":
			c.handleCode(ctx, msg.Data)
		case "refresh":
			c.reply(EventCheckInStatus, c.session.Tick(time.Now()))
		default:
			// ignore
		}
	}
}

func (c *Client) handleLocation(ctx context.Context, data json.RawMessage) {
	var m locationMessage
	if err := json.Unmarshal(data, &m); err != nil {
		c.reply(EventCheckInError, errorMessage{Error: "invalid location"})
		return
	}
	perm, err := checkin.ParsePermission(m.Permission)
	if err != nil {
		c.reply(EventCheckInError, errorMessage{Error: err.Error()})
		return
	}
	loc := checkin.Location{Latitude: m.Latitude, Longitude: m.Longitude}
	now := time.Now()
	if perm == checkin.PermissionGranted && !loc.Valid() {
		c.reply(EventCheckInError, errorMessage{Error: checkin.ErrInvalidLocation.Error()})
		return
	}
	if c.sink != nil {
		if err := c.sink.Save(ctx, c.UserID, loc, perm, now); err != nil {
			c.logger.Warn("save location sample failed", zap.Error(err), zap.String("user_id", c.UserID.String()))
		}
	}
	snap, err := c.session.UpdateLocation(loc, perm, now)
	if err != nil {
		c.reply(EventCheckInError, errorMessage{Error: err.Error()})
		return
	}
	c.reply(EventCheckInStatus, snap)
}

func (c *Client) handleCode(ctx context.Context, data json.RawMessage) {
	var m codeMessage
	if err := json.Unmarshal(data, &m); err != nil {
		c.reply(EventCheckInError, errorMessage{Error: "invalid code message"})
		return
	}
	snap, err := c.session.Submit(ctx, m.Code, time.Now())
	switch {
	case err == nil:
	case errors.Is(err, checkin.ErrIncorrectCode):
		c.reply(EventCheckInError, errorMessage{Error: err.Error(), Message: checkin.IncorrectCodeMessage})
	default:
		c.reply(EventCheckInError, errorMessage{Error: err.Error()})
	}
	c.reply(EventCheckInStatus, snap)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
