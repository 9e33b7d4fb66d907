package hub

import (
	"context"
	"sync"
	"time"

	"wbuoj/internal/judge/model"
	"wbuoj/internal/judge/protocol"
	appErr "wbuoj/pkg/errors"
	"wbuoj/pkg/utils/logger"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultPingInterval = 30 * time.Second
	writeWait           = 10 * time.Second
	maxMessageSize      = 1 << 20
	sendBufferSize      = 16
)

// Worker wraps one judge connection. The websocket is written only from
// writePump and read only from readPump; everything else goes through the
// buffered send channel and the mutex-guarded state below.
type Worker struct {
	ID   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	mu          sync.Mutex
	concurrency int
	languages   []string
	assigned    map[string]struct{}
	lastPong    time.Time
}

// NewWorker creates a worker around an upgraded connection. Concurrency
// starts at 1 until the worker announces its real capacity in a config
// message.
func NewWorker(id string, conn *websocket.Conn) *Worker {
	return &Worker{
		ID:          id,
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		done:        make(chan struct{}),
		concurrency: 1,
		assigned:    make(map[string]struct{}),
		lastPong:    time.Now(),
	}
}

// Send queues an outbound frame without blocking. A full buffer means the
// worker is not draining its socket, which the caller treats like a failed
// send.
func (w *Worker) Send(data []byte) error {
	select {
	case w.send <- data:
		return nil
	case <-w.done:
		return appErr.Newf(appErr.DispatchFailed, "worker %s connection is closed", w.ID)
	default:
		return appErr.Newf(appErr.DispatchFailed, "worker %s send buffer is full", w.ID)
	}
}

// FreeSlots reports how many more tasks the worker can take right now.
func (w *Worker) FreeSlots() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	free := w.concurrency - len(w.assigned)
	if free < 0 {
		free = 0
	}
	return free
}

// Assigned returns a copy of the in-flight submission ids.
func (w *Worker) Assigned() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]string, 0, len(w.assigned))
	for id := range w.assigned {
		out = append(out, id)
	}
	return out
}

func (w *Worker) addAssigned(submissionID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.assigned) >= w.concurrency {
		return false
	}
	w.assigned[submissionID] = struct{}{}
	return true
}

func (w *Worker) removeAssigned(submissionID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.assigned[submissionID]; !ok {
		return false
	}
	delete(w.assigned, submissionID)
	return true
}

// takeAssigned empties the assigned set and returns what it held, so a lost
// worker's tasks are requeued exactly once.
func (w *Worker) takeAssigned() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]string, 0, len(w.assigned))
	for id := range w.assigned {
		out = append(out, id)
	}
	w.assigned = make(map[string]struct{})
	return out
}

func (w *Worker) setConfig(concurrency int, languages []string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.concurrency = concurrency
	w.languages = languages
}

func (w *Worker) markPong() {
	w.mu.Lock()
	w.lastPong = time.Now()
	w.mu.Unlock()
}

func (w *Worker) info() WorkerInfo {
	w.mu.Lock()
	defer w.mu.Unlock()

	langs := make([]string, len(w.languages))
	copy(langs, w.languages)
	return WorkerInfo{
		ID:          w.ID,
		Concurrency: w.concurrency,
		Languages:   langs,
		Assigned:    len(w.assigned),
		LastPong:    w.lastPong,
	}
}

// Serve runs the read and write pumps until the connection dies, then
// unregisters the worker. Blocks for the life of the connection.
func (h *Hub) Serve(ctx context.Context, w *Worker, sink ResultSink) {
	go w.writePump(h.pingInterval)
	w.readPump(ctx, h, sink)
}

// readPump consumes inbound frames. There is no read deadline: a silent
// worker stays registered until the transport itself reports the connection
// as closed. Pongs only refresh the lastPong timestamp shown to admins.
func (w *Worker) readPump(ctx context.Context, h *Hub, sink ResultSink) {
	defer func() {
		close(w.done)
		w.conn.Close()
		h.Unregister(ctx, w)
	}()

	w.conn.SetReadLimit(maxMessageSize)
	w.conn.SetPongHandler(func(string) error {
		w.markPong()
		return nil
	})

	for {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn(ctx, "worker connection lost",
					zap.String("worker_id", w.ID), zap.Error(err))
			}
			return
		}
		w.handleMessage(ctx, sink, data)
	}
}

// handleMessage routes one inbound frame. Malformed frames are logged and
// dropped; they never terminate the connection.
func (w *Worker) handleMessage(ctx context.Context, sink ResultSink, data []byte) {
	env, err := protocol.DecodeEnvelope(data)
	if err != nil {
		logger.Warn(ctx, "undecodable worker frame",
			zap.String("worker_id", w.ID), zap.Error(err))
		return
	}

	switch env.Type {
	case model.MessageTypeConfig:
		cfg, err := protocol.DecodeConfig(env.Payload)
		if err != nil {
			logger.Warn(ctx, "bad config message",
				zap.String("worker_id", w.ID), zap.Error(err))
			return
		}
		w.setConfig(cfg.Concurrency, cfg.Languages)
		logger.Info(ctx, "worker announced config",
			zap.String("worker_id", w.ID),
			zap.Int("concurrency", cfg.Concurrency),
			zap.Strings("languages", cfg.Languages),
		)
	case model.MessageTypeProgress:
		msg, err := protocol.DecodeProgress(env.Payload)
		if err != nil {
			logger.Warn(ctx, "bad progress message",
				zap.String("worker_id", w.ID), zap.Error(err))
			return
		}
		sink.HandleProgress(ctx, msg)
	case model.MessageTypeFinal:
		msg, err := protocol.DecodeFinal(env.Payload)
		if err != nil {
			logger.Warn(ctx, "bad final message",
				zap.String("worker_id", w.ID), zap.Error(err))
			return
		}
		sink.HandleFinal(ctx, msg)
	default:
		logger.Warn(ctx, "unknown message type from worker",
			zap.String("worker_id", w.ID), zap.String("type", env.Type))
	}
}

// writePump serializes all socket writes and pings the worker on an
// interval. Ping failures close the connection; the worker is evicted by
// readPump when the transport surfaces the close.
func (w *Worker) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		w.conn.Close()
	}()

	for {
		select {
		case data, ok := <-w.send:
			w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				w.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-w.done:
			return
		}
	}
}
