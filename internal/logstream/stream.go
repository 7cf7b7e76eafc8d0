// Package logstream implements the tail-follow WebSocket channel:
// a single connection tails exactly one run's logs.txt, with
// ANSI-safe line framing, truncation handling, and an idle timeout. It
// adapts the writePump/readPump/ping-pong discipline of a pub/sub hub
// client to a connection that streams one file instead of fanning out
// topic messages to many subscribers.
package logstream

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// writeWait bounds a single frame write to the client.
	writeWait = 10 * time.Second

	// pongWait/pingPeriod keep the standard hub discipline: the server
	// pings, the client pongs, and a missed pong closes the connection.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds frames accepted *from* the client — this
	// protocol is server-push only, so clients are only expected to send
	// control frames (pong).
	maxMessageSize = 512

	// maxChunkBytes is the framing ceiling : chunks are cut
	// at line boundaries but never exceed this size even mid-line.
	maxChunkBytes = 64 * 1024

	// pollInterval bounds how long growth can go undetected when fsnotify
	// is unavailable or misses an event — correctness never depends on
	// fsnotify firing.
	pollInterval = 500 * time.Millisecond

	// idleTimeout closes a stream that has seen no byte growth and no
	// client activity for this long.
	idleTimeout = 5 * time.Minute
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Stream upgrades r and serves one GET /api/runs/{id}/logs/ws connection
// tailing the file at logsPath. It blocks until the connection closes, ctx
// is cancelled, or the idle timeout elapses.
func Stream(ctx context.Context, w http.ResponseWriter, r *http.Request, logsPath string, log *zap.Logger) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	log = log.Named("logstream").With(zap.String("path", logsPath), zap.String("remote_addr", r.RemoteAddr))

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s := &session{
		conn:     conn,
		logsPath: logsPath,
		log:      log,
		activity: make(chan struct{}, 1),
	}
	go s.readPump(cancel)
	s.writePump(sessCtx)
	return nil
}

// session holds the state for one tailed connection. All writes to conn
// happen from writePump's goroutine — gorilla/websocket connections are
// not safe for concurrent writers.
type session struct {
	conn     *websocket.Conn
	logsPath string
	log      *zap.Logger

	// activity is pinged (non-blockingly) on every pong and every byte of
	// growth sent, so the idle timer can be reset without a mutex.
	activity chan struct{}
}

// readPump's only job is to detect client disconnection and keep the pong
// deadline fresh; the protocol never expects application-level frames
// from the client.
func (s *session) readPump(cancel context.CancelFunc) {
	defer cancel()
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.poke()
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *session) poke() {
	select {
	case s.activity <- struct{}{}:
	default:
	}
}

// writePump owns the file tail. It sends the file's current contents
// immediately, then polls for growth or truncation, using fsnotify as an
// early-wakeup optimization layered over the unconditional poll ticker.
func (s *session) writePump(ctx context.Context) {
	defer s.conn.Close()

	pingTicker := time.NewTicker(pingPeriod)
	pollTicker := time.NewTicker(pollInterval)
	idleTimer := time.NewTimer(idleTimeout)
	defer pingTicker.Stop()
	defer pollTicker.Stop()
	defer idleTimer.Stop()

	var offset int64
	var watcher *fsnotify.Watcher
	if w, err := fsnotify.NewWatcher(); err == nil {
		watcher = w
		defer watcher.Close()
		_ = watcher.Add(filepath.Dir(s.logsPath))
	}

	// Initial send: whatever is in the file right now.
	if n, err := s.sendTail(offset); err == nil {
		offset = n
	} else {
		s.log.Debug("initial tail read failed", zap.Error(err))
	}

	var fsEvents <-chan fsnotify.Event
	if watcher != nil {
		fsEvents = watcher.Events
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-s.activity:
			if !idleTimer.Stop() {
				<-idleTimer.C
			}
			idleTimer.Reset(idleTimeout)

		case <-idleTimer.C:
			s.log.Debug("closing idle log stream")
			return

		case <-pingTicker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case ev := <-fsEvents:
			if ev.Name != s.logsPath {
				continue
			}
			n, err := s.pollOnce(offset)
			if err != nil {
				s.log.Debug("tail poll failed", zap.Error(err))
				continue
			}
			if n != offset {
				offset = n
				s.poke()
			}

		case <-pollTicker.C:
			n, err := s.pollOnce(offset)
			if err != nil {
				s.log.Debug("tail poll failed", zap.Error(err))
				continue
			}
			if n != offset {
				offset = n
				s.poke()
			}
		}
	}
}

// pollOnce checks the file's current size against offset, resetting to 0
// on truncation and sending any new tail bytes.
func (s *session) pollOnce(offset int64) (int64, error) {
	info, err := os.Stat(s.logsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return offset, nil
		}
		return offset, err
	}
	if info.Size() < offset {
		// Truncated: re-send the whole (now-smaller) file from scratch.
		return s.sendTail(0)
	}
	if info.Size() == offset {
		return offset, nil
	}
	return s.sendTail(offset)
}

// sendTail reads from the file starting at fromOffset and frames it to
// the client in chunks that break at line boundaries and never exceed
// maxChunkBytes, replacing invalid UTF-8 with U+FFFD without disturbing
// ANSI escape bytes (which are themselves valid UTF-8 control sequences).
func (s *session) sendTail(fromOffset int64) (int64, error) {
	f, err := os.Open(s.logsPath)
	if err != nil {
		return fromOffset, err
	}
	defer f.Close()

	if _, err := f.Seek(fromOffset, 0); err != nil {
		return fromOffset, err
	}

	offset := fromOffset
	buf := make([]byte, maxChunkBytes)
	var pending []byte

	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			offset += int64(n)
		}

		for {
			chunk, rest, cut := cutChunk(pending)
			if !cut {
				break
			}
			pending = rest
			if err := s.sendFrame(chunk); err != nil {
				return offset, err
			}
		}

		if readErr != nil {
			break
		}
	}

	if len(pending) > 0 {
		if err := s.sendFrame(pending); err != nil {
			return offset, err
		}
	}
	return offset, nil
}

// cutChunk extracts the largest prefix of buf that either ends at the
// last newline within maxChunkBytes, or — if no newline appears and buf
// has reached the cap — the first maxChunkBytes verbatim, so a single
// enormous line can never stall framing indefinitely.
func cutChunk(buf []byte) (chunk, rest []byte, ok bool) {
	limit := len(buf)
	if limit > maxChunkBytes {
		limit = maxChunkBytes
	}
	window := buf[:limit]

	lastNL := -1
	for i := len(window) - 1; i >= 0; i-- {
		if window[i] == '\n' {
			lastNL = i
			break
		}
	}
	if lastNL >= 0 {
		return buf[:lastNL+1], buf[lastNL+1:], true
	}
	if len(buf) >= maxChunkBytes {
		return buf[:maxChunkBytes], buf[maxChunkBytes:], true
	}
	return nil, buf, false
}

// sendFrame replaces invalid UTF-8 with U+FFFD before writing;
// ANSI escape sequences are themselves valid UTF-8 bytes and pass through
// untouched.
func (s *session) sendFrame(b []byte) error {
	text := strings.ToValidUTF8(string(b), "�")
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, []byte(text))
}
