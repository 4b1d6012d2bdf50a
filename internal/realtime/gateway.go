// Package realtime provides the server-side websocket gateway: it accepts
// client connections, runs the application-level auth exchange, tracks
// presence and heartbeats, and applies queue join/leave commands.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-presence-service/internal/queue"
	"github.com/tinywideclouds/go-presence-service/pkg/presence"
)

// TokenVerifier validates the session token carried by the auth frame.
type TokenVerifier interface {
	Verify(token string) (userID string, err error)
}

// PresenceCache records which users hold a live connection and where.
type PresenceCache interface {
	Set(ctx context.Context, userID string, info presence.ConnectionInfo) error
	Delete(ctx context.Context, userID string) error
}

// Gateway manages all active websocket connections and user presence.
// It runs its own dedicated HTTP server.
type Gateway struct {
	server      *http.Server
	upgrader    websocket.Upgrader
	verifier    TokenVerifier
	presence    PresenceCache
	matchQueue  queue.MatchQueue
	sessions    sync.Map // map[string]*session, keyed by user ID
	logger      zerolog.Logger
	instanceID  string
	authTimeout time.Duration
}

// session is one authenticated websocket connection.
type session struct {
	userID  string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// writeFrame serializes concurrent writes to the session's connection.
func (s *session) writeFrame(f presence.Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteJSON(f)
}

// NewGateway creates and wires up a new websocket gateway.
func NewGateway(
	port string,
	verifier TokenVerifier,
	presenceCache PresenceCache,
	matchQueue queue.MatchQueue,
	logger zerolog.Logger,
) (*Gateway, error) {
	if verifier == nil {
		return nil, fmt.Errorf("token verifier cannot be nil")
	}

	instanceID := uuid.NewString()
	g := &Gateway{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// TODO: restrict origins once the web origin list is finalized
				return true
			},
		},
		verifier:    verifier,
		presence:    presenceCache,
		matchQueue:  matchQueue,
		logger:      logger.With().Str("component", "Gateway").Str("instance", instanceID).Logger(),
		instanceID:  instanceID,
		authTimeout: 10 * time.Second,
	}

	mux := http.NewServeMux()
	mux.Handle("/connect", http.HandlerFunc(g.connectHandler))
	g.server = &http.Server{
		Addr:    ":" + port,
		Handler: mux,
	}

	return g, nil
}

// Handler exposes the gateway mux, used by tests to mount it on a test server.
func (g *Gateway) Handler() http.Handler {
	return g.server.Handler
}

// Start runs the HTTP server for websocket connections.
func (g *Gateway) Start(ctx context.Context) error {
	g.logger.Info().Str("addr", g.server.Addr).Msg("WebSocket gateway starting...")
	if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("websocket gateway failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info().Msg("Shutting down websocket gateway...")
	if err := g.server.Shutdown(ctx); err != nil {
		g.logger.Error().Err(err).Msg("WebSocket gateway shutdown failed.")
		return err
	}
	g.logger.Info().Msg("WebSocket gateway shut down.")
	return nil
}

// connectHandler upgrades the request and manages the connection lifecycle:
// auth exchange first, then the command loop until the client disconnects.
func (g *Gateway) connectHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error().Err(err).Msg("Failed to upgrade connection.")
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			g.logger.Debug().Err(err).Msg("error closing connection")
		}
	}()

	sess, err := g.authenticate(conn)
	if err != nil {
		g.logger.Warn().Err(err).Msg("Connection rejected during auth exchange.")
		return
	}

	g.register(r.Context(), sess)
	defer g.remove(sess)

	g.logger.Info().Str("user", sess.userID).Msg("User connected via WebSocket.")
	g.readLoop(sess)
}

// authenticate reads the first frame, which must be an auth frame with a
// valid session token. On success it replies auth:success; on failure it
// replies auth:failed and reports an error so the connection is dropped.
func (g *Gateway) authenticate(conn *websocket.Conn) (*session, error) {
	_ = conn.SetReadDeadline(time.Now().Add(g.authTimeout))
	var frame presence.Frame
	if err := conn.ReadJSON(&frame); err != nil {
		return nil, fmt.Errorf("failed to read auth frame: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	if frame.Event != presence.EventAuth {
		return nil, fmt.Errorf("expected %q as first frame, got %q", presence.EventAuth, frame.Event)
	}
	var payload presence.AuthPayload
	if err := frame.Decode(&payload); err != nil {
		return nil, err
	}

	userID, err := g.verifier.Verify(payload.Token)
	if err != nil {
		failed, _ := presence.NewFrame(presence.EventAuthFailed, nil)
		_ = conn.WriteJSON(failed)
		return nil, fmt.Errorf("token rejected: %w", err)
	}

	sess := &session{userID: userID, conn: conn}
	success, _ := presence.NewFrame(presence.EventAuthSuccess, nil)
	if err := sess.writeFrame(success); err != nil {
		return nil, fmt.Errorf("failed to confirm auth: %w", err)
	}
	return sess, nil
}

// register records the session and its presence. A session already held for
// the same user is replaced and its transport closed: at most one live
// connection per session.
func (g *Gateway) register(ctx context.Context, sess *session) {
	if prev, loaded := g.sessions.Swap(sess.userID, sess); loaded {
		old := prev.(*session)
		g.logger.Info().Str("user", sess.userID).Msg("Replacing existing connection for user.")
		_ = old.conn.Close()
	}

	info := presence.ConnectionInfo{
		ServerInstanceID: g.instanceID,
		ConnectedAt:      time.Now().Unix(),
	}
	if err := g.presence.Set(ctx, sess.userID, info); err != nil {
		g.logger.Error().Err(err).Str("user", sess.userID).Msg("Failed to set user presence in cache.")
	}
}

// readLoop dispatches client frames until the connection drops.
func (g *Gateway) readLoop(sess *session) {
	log := g.logger.With().Str("user", sess.userID).Logger()
	for {
		var frame presence.Frame
		if err := sess.conn.ReadJSON(&frame); err != nil {
			return // client disconnected or sent garbage
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		switch frame.Event {
		case presence.EventHeartbeat:
			// Refreshing presence keeps the cache entry from expiring
			// between heartbeats.
			info := presence.ConnectionInfo{ServerInstanceID: g.instanceID, ConnectedAt: time.Now().Unix()}
			if err := g.presence.Set(ctx, sess.userID, info); err != nil {
				log.Warn().Err(err).Msg("Failed to refresh presence on heartbeat.")
			}
		case presence.EventQueueJoin:
			if err := g.matchQueue.Join(ctx, sess.userID); err != nil {
				log.Error().Err(err).Msg("Failed to join match queue.")
			} else {
				log.Info().Msg("User joined match queue.")
			}
		case presence.EventQueueLeave:
			if err := g.matchQueue.Leave(ctx, sess.userID); err != nil {
				log.Error().Err(err).Msg("Failed to leave match queue.")
			} else {
				log.Info().Msg("User left match queue.")
			}
		default:
			log.Debug().Str("event", frame.Event).Msg("Ignoring unknown event.")
		}
		cancel()
	}
}

// remove unregisters the session, deletes presence, and withdraws the user
// from the match queue. Queue membership never survives its connection.
func (g *Gateway) remove(sess *session) {
	// Only clear state if this session is still the registered one; a
	// replacement connection may already own the user's entry. The check
	// and delete must be one atomic step or a racing register could have
	// its fresh entry torn down by the stale session's cleanup.
	if !g.sessions.CompareAndDelete(sess.userID, sess) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := g.presence.Delete(ctx, sess.userID); err != nil {
		g.logger.Error().Err(err).Str("user", sess.userID).Msg("Failed to delete user presence from cache.")
	}
	if err := g.matchQueue.Leave(ctx, sess.userID); err != nil {
		g.logger.Error().Err(err).Str("user", sess.userID).Msg("Failed to remove user from match queue on disconnect.")
	}
	g.logger.Info().Str("user", sess.userID).Msg("User disconnected.")
}
