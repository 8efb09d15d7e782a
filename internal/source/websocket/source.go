// Package websocket subscribes to the analysis backend's websocket push
// channel for stage events.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/partlab/partscope/internal/tracker"
)

const defaultHandshakeTimeout = 10 * time.Second

// Config captures the parameters for the backend event endpoint.
type Config struct {
	// URL is the websocket endpoint (ws:// or wss://). The job id is passed
	// as the job_id query parameter.
	URL string
	// APIKey, when set, is sent as the api_key query parameter.
	APIKey string
	// HandshakeTimeout bounds the dial (default 10s).
	HandshakeTimeout time.Duration
}

// Source dials one websocket connection per subscription and decodes JSON
// stage events off it.
type Source struct {
	cfg    Config
	logger *zap.Logger
}

// New constructs a Source.
func New(cfg Config, logger *zap.Logger) (*Source, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("websocket url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	return &Source{cfg: cfg, logger: logger}, nil
}

// Subscribe dials the event endpoint for jobID and pumps decoded events into
// handler until the connection drops or the subscription is closed.
func (s *Source) Subscribe(ctx context.Context, jobID string, handler func(tracker.StageEvent)) (func(), error) {
	endpoint, err := url.Parse(s.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse event stream url: %w", err)
	}
	q := endpoint.Query()
	q.Set("job_id", jobID)
	if s.cfg.APIKey != "" {
		q.Set("api_key", s.cfg.APIKey)
	}
	endpoint.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return nil, fmt.Errorf("dial event stream: %w", err)
	}

	logger := s.logger.With(zap.String("job_id", jobID))
	go s.readLoop(conn, handler, logger)

	var once sync.Once
	return func() {
		once.Do(func() {
			deadline := time.Now().Add(time.Second)
			if err := conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline); err != nil {
				logger.Debug("write close message failed", zap.Error(err))
			}
			if err := conn.Close(); err != nil {
				logger.Debug("close event stream failed", zap.Error(err))
			}
		})
	}, nil
}

// readLoop decodes frames until the connection closes. A malformed frame is
// dropped, not fatal, so one bad backend payload cannot kill the stream.
func (s *Source) readLoop(conn *websocket.Conn, handler func(tracker.StageEvent), logger *zap.Logger) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("event stream closed unexpectedly", zap.Error(err))
			}
			return
		}
		var evt tracker.StageEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			logger.Debug("discarding malformed event frame", zap.Error(err))
			continue
		}
		handler(evt)
	}
}
