package proxy

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/efortin/toolsift/pkg/parser"
	"github.com/efortin/toolsift/pkg/stats"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsControl is the in-band control frame. A frame whose body is a JSON
// object with a single "type" key is control, everything else is chunk text.
type wsControl struct {
	Type string `json:"type"`
}

func parseControl(data []byte) (wsControl, bool) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var ctl wsControl
	if err := dec.Decode(&ctl); err != nil || ctl.Type == "" {
		return wsControl{}, false
	}
	// trailing content means the frame was chunk text that happened to
	// start with JSON
	if dec.More() {
		return wsControl{}, false
	}
	return ctl, true
}

// websocketHandler ingests text chunks over a WebSocket session and replies
// with one JSON event per frame as they become ready
func (s *Server) websocketHandler(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader has already written the error response
		log.Printf("[WS] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sessionID := "ws_" + uuid.NewString()
	log.Printf("[WS] %s session opened", sessionID)
	s.metrics.StreamOpened()
	defer s.metrics.StreamClosed()

	push := parser.NewPushParserWithOptions(s.parserOptions(nil))
	idle := s.config.GetIdleTimeout()
	start := time.Now()
	outcome := stats.OutcomeOK

	finish := func(reason string) {
		s.metrics.RecordExtraction(stats.ModeStream, outcome, time.Since(start))
		log.Printf("[WS] %s session closed (%s)", sessionID, reason)
	}

	for {
		if idle > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(idle)); err != nil {
				finish("deadline error")
				return
			}
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			outcome = "io_error"
			finish(err.Error())
			return
		}

		if ctl, ok := parseControl(data); ok {
			if ctl.Type != "end" {
				log.Printf("[WS] %s unknown control type %q", sessionID, ctl.Type)
				continue
			}
			events := push.Close()
			if err := s.writeEvents(conn, events, &outcome); err != nil {
				outcome = "io_error"
				finish(err.Error())
				return
			}
			if err := conn.WriteJSON(map[string]string{"type": "done"}); err != nil {
				outcome = "io_error"
				finish(err.Error())
				return
			}
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			finish("done")
			return
		}

		events := push.Push(string(data))
		if err := s.writeEvents(conn, events, &outcome); err != nil {
			outcome = "io_error"
			finish(err.Error())
			return
		}
	}
}

func (s *Server) writeEvents(conn *websocket.Conn, events []parser.Event, outcome *string) error {
	for _, ev := range events {
		if ev.Type == parser.EventTypeError && *outcome == stats.OutcomeOK {
			*outcome = ev.Code
		}
		s.metrics.RecordEvent(string(ev.Type))
		if err := conn.WriteJSON(ev); err != nil {
			return err
		}
	}
	return nil
}
