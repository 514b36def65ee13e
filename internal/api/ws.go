package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/middleware"
	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

var errConnClosed = errors.New("connection closed")

// wsConn streams views to one websocket. Only the newest undelivered view
// is kept, so a slow client skips intermediate states.
type wsConn struct {
	ws      *websocket.Conn
	pending chan session.View

	closeOnce sync.Once
	done      chan struct{}
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{
		ws:      ws,
		pending: make(chan session.View, 1),
		done:    make(chan struct{}),
	}
}

// Send queues v, replacing a view the writer has not picked up yet.
func (c *wsConn) Send(v session.View) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	for {
		select {
		case c.pending <- v:
			return nil
		default:
		}
		select {
		case <-c.pending:
		default:
		}
	}
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *wsConn) writeLoop(log *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case v := <-c.pending:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(v); err != nil {
				log.Debug("websocket write", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// readLoop discards client frames and returns when the peer goes away.
func (c *wsConn) readLoop() {
	defer c.close()
	c.ws.SetReadLimit(512)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

// stream upgrades to a websocket, sends the current view and then every
// later one until the client disconnects.
func (s *Server) stream(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Info("websocket upgrade", zap.Error(err))
		return
	}
	conn := newWSConn(ws)

	id := s.hub.Register(userID, conn)
	defer s.hub.Unregister(userID, id)

	if v, err := s.sess.View(c.Request.Context()); err == nil {
		_ = conn.Send(v)
	}

	go conn.writeLoop(s.log)
	conn.readLoop()
	s.log.Debug("websocket closed", zap.String("user_id", userID), zap.Int64("conn_id", id))
}
