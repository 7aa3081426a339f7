package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/spartis/scanviewer/internal/navigator"
	"github.com/spartis/scanviewer/internal/storage"
	"github.com/spartis/scanviewer/internal/viewer"
)

// WebSocket message types for the viewer stream
const (
	// Client -> Server messages
	MsgTypeOrbit      = "orbit"
	MsgTypeBrightness = "brightness"
	MsgTypeContrast   = "contrast"
	MsgTypePing       = "ping"

	// Server -> Client messages. Status messages use the viewer status
	// names (placeholder, loading, ready, error) as their type.
	MsgTypeFilter = "filter"
	MsgTypeError  = "error"
	MsgTypePong   = "pong"
)

// WebSocket message structure. Frames are sent separately as binary PNG
// messages.
type WSMessage struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Slider payload for brightness and contrast messages
type FilterValuePayload struct {
	Value int `json:"value"`
}

// Viewer status payload
type WSStatusPayload struct {
	Status   viewer.Status `json:"status"`
	Progress int           `json:"progress"`
	File     string        `json:"file,omitempty"`
	Message  string        `json:"message,omitempty"`
}

// Filter state payload, sent after a slider change
type WSFilterPayload struct {
	Brightness int `json:"brightness"`
	Contrast   int `json:"contrast"`
}

// WebSocket error payload
type WSErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// viewerStream serializes writes to one connection. The render loop and
// the read loop both write.
type viewerStream struct {
	ws   *websocket.Conn
	ctrl atomic.Pointer[viewer.Controller]

	mu   sync.Mutex
	last WSStatusPayload
}

// HandleViewerStream mounts a viewer for the connection and streams its
// frames until the client goes away
func (h *ViewerHandlerImpl) HandleViewerStream(c echo.Context) error {
	location := navigator.ViewerPath
	if file, ok := navigator.FileFromQuery(c.Request().URL.RawQuery); ok {
		if err := storage.ValidateOutputName(file); err != nil {
			return NewBadRequestError("invalid mesh name", err)
		}
		location = navigator.ViewerURL(file)
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()
	ws.SetReadLimit(h.readLimit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := &viewerStream{ws: ws}
	ctrl, err := viewer.Mount(ctx, location, viewer.Options{
		Renderer:       h.renderer,
		Resolver:       h.resolver,
		FrameSize:      h.frameSize,
		FPS:            h.fps,
		RenderOnDemand: true,
		OnFrame:        stream.sendFrame,
	})
	if err != nil {
		stream.sendError(err.Error(), "MOUNT_ERROR")
		return nil
	}
	defer ctrl.Unmount()
	stream.ctrl.Store(ctrl)
	stream.sendStatus()

	logger.Infof("viewer stream opened for %s", location)

	for {
		var msg WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warnf("viewer stream: %v", err)
			}
			break
		}

		switch msg.Type {
		case MsgTypePing:
			stream.send(WSMessage{Type: MsgTypePong})
		case MsgTypeOrbit:
			var g viewer.Gesture
			if err := json.Unmarshal(msg.Payload, &g); err != nil {
				stream.sendError("Invalid orbit payload: "+err.Error(), "INVALID_PAYLOAD")
				continue
			}
			if err := ctrl.Orbit(g); err != nil {
				stream.sendError("Invalid orbit payload: "+err.Error(), "INVALID_PAYLOAD")
			}
		case MsgTypeBrightness, MsgTypeContrast:
			var p FilterValuePayload
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				stream.sendError("Invalid filter payload: "+err.Error(), "INVALID_PAYLOAD")
				continue
			}
			if msg.Type == MsgTypeBrightness {
				ctrl.SetBrightness(p.Value)
			} else {
				ctrl.SetContrast(p.Value)
			}
			s := ctrl.Session()
			stream.send(WSMessage{
				Type:    MsgTypeFilter,
				Payload: mustJSON(WSFilterPayload{Brightness: s.Brightness, Contrast: s.Contrast}),
			})
		default:
			stream.sendError("Unknown message type: "+msg.Type, "INVALID_TYPE")
		}
	}

	logger.Infof("viewer stream closed for %s", location)
	return nil
}

// sendFrame is the render loop sink. A pending status change goes out
// ahead of the frame it belongs to.
func (s *viewerStream) sendFrame(img *image.RGBA) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.statusLocked(); err != nil {
		return err
	}
	return s.ws.WriteMessage(websocket.BinaryMessage, buf.Bytes())
}

func (s *viewerStream) sendStatus() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.statusLocked(); err != nil {
		logger.Warnf("viewer stream: failed to send status: %v", err)
	}
}

func (s *viewerStream) statusLocked() error {
	ctrl := s.ctrl.Load()
	if ctrl == nil {
		return nil
	}
	status, loadErr := ctrl.Status()
	p := WSStatusPayload{
		Status:   status,
		Progress: int(math.Round(ctrl.LoadProgress() * 100)),
		File:     ctrl.Session().File,
	}
	if loadErr != nil {
		p.Message = viewer.LoadFailedText
	}
	if p == s.last {
		return nil
	}
	s.last = p
	return s.writeLocked(WSMessage{Type: string(status), Payload: mustJSON(p)})
}

func (s *viewerStream) send(msg WSMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeLocked(msg); err != nil {
		logger.Warnf("viewer stream: failed to send message: %v", err)
	}
}

func (s *viewerStream) sendError(message, code string) {
	s.send(WSMessage{
		Type:    MsgTypeError,
		Payload: mustJSON(WSErrorPayload{Message: message, Code: code}),
	})
}

func (s *viewerStream) writeLocked(msg WSMessage) error {
	msg.Timestamp = time.Now().UnixMilli()
	return s.ws.WriteJSON(msg)
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
