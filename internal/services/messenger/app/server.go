// Package app hosts the messenger HTTP/WebSocket process: session
// registry, delivery coordination, history pagination, and presence.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/websocket"

	apperrors "github.com/paircast/paircast/internal/platform/errors"
	"github.com/paircast/paircast/internal/platform/timeouts"
	"github.com/paircast/paircast/internal/services/messenger/auth"
	"github.com/paircast/paircast/internal/services/messenger/domain"
	"github.com/paircast/paircast/internal/services/messenger/storage"
	"github.com/paircast/paircast/internal/services/messenger/storage/sqlite"
	"github.com/paircast/paircast/internal/services/messenger/wire"
)

const (
	tokenCookieName = "pc_token"

	maxFramePayloadBytes   = 16 * 1024
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3

	defaultPageLimit = 20
	maxPageLimit     = 100
)

// Config defines the inputs for the messenger transport boundary.
type Config struct {
	HTTPAddr          string
	DBPath            string
	JWTSecret         string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the messenger HTTP/WebSocket process.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	store           *sqlite.Store
}

type wsUserIDContextKey struct{}

// NewHandler creates messenger routes over the given store and
// credential validator. Tests inject fakes through this constructor.
func NewHandler(store storage.MessageStore, validator auth.TokenValidator) http.Handler {
	return newHandler(store, validator, prometheus.NewRegistry())
}

func newHandler(store storage.MessageStore, validator auth.TokenValidator, promRegistry *prometheus.Registry) http.Handler {
	reg := newRegistry()
	coord := newCoordinator(store, reg)
	metrics := NewMetrics(promRegistry)

	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))

	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		handleWSConn(conn, reg, coord, metrics)
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		userID, err := authenticateRequest(r, validator)
		if err != nil {
			log.Printf("messenger: websocket unauthorized: remote=%s err=%v", r.RemoteAddr, err)
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), wsUserIDContextKey{}, userID)
		wsHandler.ServeHTTP(w, r.WithContext(ctx))
	})

	registerHistoryRoutes(mux, coord, store, validator)
	return mux
}

// authenticateRequest resolves a user id from the Authorization header
// or the session cookie.
func authenticateRequest(r *http.Request, validator auth.TokenValidator) (string, error) {
	if validator == nil {
		return "", errors.New("auth is not configured")
	}
	token := ""
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		if rest, ok := strings.CutPrefix(header, "Bearer "); ok {
			token = strings.TrimSpace(rest)
		}
	}
	if token == "" {
		if cookie, err := r.Cookie(tokenCookieName); err == nil {
			token = strings.TrimSpace(cookie.Value)
		}
	}
	if token == "" {
		return "", errors.New("missing credential")
	}
	userID, err := validator.Validate(token)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("empty user id after auth")
	}
	return strings.TrimSpace(userID), nil
}

func handleWSConn(conn *websocket.Conn, reg *registry, coord *coordinator, metrics *Metrics) {
	defer func() {
		_ = conn.Close()
	}()

	userID := ""
	if request := conn.Request(); request != nil {
		if resolved, ok := request.Context().Value(wsUserIDContextKey{}).(string); ok {
			userID = strings.TrimSpace(resolved)
		}
	}
	if userID == "" {
		return
	}

	decoder := json.NewDecoder(conn)
	peer := newWSPeer(json.NewEncoder(conn))

	if reg.setOnline(userID, peer) {
		metrics.SessionsActive.Inc()
	}
	// Every attach announces presence, even when a previous session for
	// the same user is still draining.
	broadcastExcept(reg, peer, wire.Frame{
		Type:    wire.EventUserOnline,
		Payload: mustJSON(wire.PresencePayload{UserID: userID}),
	})
	_ = peer.writeFrame(wire.Frame{
		Type:    wire.EventOnlineUsers,
		Payload: mustJSON(wire.OnlineUsersPayload{UserIDs: reg.online()}),
	})

	defer func() {
		if !reg.release(userID, peer) {
			return
		}
		metrics.SessionsActive.Dec()
		broadcastExcept(reg, peer, wire.Frame{
			Type:    wire.EventUserOffline,
			Payload: mustJSON(wire.PresencePayload{UserID: userID}),
		})
		ctx, cancel := context.WithTimeout(context.Background(), timeouts.StorageWrite)
		defer cancel()
		if err := coord.store.SetLastSeen(ctx, userID, coord.now()); err != nil {
			log.Printf("messenger: record last seen for user=%q: %v", userID, err)
		}
	}()

	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var frame wire.Frame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			metrics.FramesRejected.Inc()
			_ = writeWSError(peer, string(apperrors.CodeInvalidArgument), "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			metrics.FramesRejected.Inc()
			_ = writeWSError(peer, string(apperrors.CodeInvalidArgument), "payload too large")
			continue
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			metrics.FramesRejected.Inc()
			_ = writeWSError(peer, "RESOURCE_EXHAUSTED", "rate limit exceeded")
			return
		}

		ctx := context.Background()
		if request := conn.Request(); request != nil {
			ctx = request.Context()
		}

		switch frame.Type {
		case wire.EventPrivateMessage:
			handleSendFrame(ctx, userID, peer, reg, coord, metrics, frame)
		case wire.EventReaction:
			handleReactionFrame(ctx, userID, peer, reg, coord, frame)
		case wire.EventDeleteMessage:
			handleDeleteFrame(ctx, userID, peer, reg, coord, frame)
		case wire.EventTyping, wire.EventStopTyping:
			handleTypingFrame(userID, reg, frame)
		case wire.EventMessageSeen:
			handleSeenFrame(ctx, userID, peer, reg, coord, frame)
		default:
			metrics.FramesRejected.Inc()
			_ = writeWSError(peer, string(apperrors.CodeInvalidArgument), "unsupported frame type")
		}
	}
}

func handleSendFrame(ctx context.Context, userID string, peer *wsPeer, reg *registry, coord *coordinator, metrics *Metrics, frame wire.Frame) {
	var payload wire.SendPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(peer, string(apperrors.CodeInvalidArgument), "invalid send payload")
		return
	}

	// The client correlation token is consumed here and never travels
	// further: not stored, not echoed, not forwarded.
	envelope, err := coord.send(ctx, userID, payload)
	if err != nil {
		writeDomainError(peer, metrics, "send message", err)
		return
	}

	delivery := wire.Frame{
		Type:    wire.EventPrivateMessage,
		Payload: mustJSON(envelope),
	}
	if receiver, online := reg.lookup(envelope.ReceiverID); online {
		_ = receiver.writeFrame(delivery)
		metrics.MessagesDelivered.Inc()
	}
	_ = peer.writeFrame(delivery)
	metrics.MessagesEchoed.Inc()
}

func handleReactionFrame(ctx context.Context, userID string, peer *wsPeer, reg *registry, coord *coordinator, frame wire.Frame) {
	var payload wire.ReactionPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(peer, string(apperrors.CodeInvalidArgument), "invalid reaction payload")
		return
	}

	update, err := coord.react(ctx, userID, payload)
	if err != nil {
		// Reactions against vanished messages are dropped quietly; the
		// target may have been purged while the frame was in flight.
		if errors.Is(err, apperrors.New(apperrors.CodeNotFound, "")) {
			return
		}
		writeDomainError(peer, nil, "store reaction", err)
		return
	}

	broadcast(reg, wire.Frame{
		Type:    wire.EventReactionUpdate,
		Payload: mustJSON(update),
	})
}

func handleDeleteFrame(ctx context.Context, userID string, peer *wsPeer, reg *registry, coord *coordinator, frame wire.Frame) {
	var payload wire.DeletePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(peer, string(apperrors.CodeInvalidArgument), "invalid delete payload")
		return
	}

	action, err := coord.delete(ctx, userID, payload.MessageID)
	if err != nil {
		if errors.Is(err, apperrors.New(apperrors.CodeNotFound, "")) {
			return
		}
		writeDomainError(peer, nil, "delete message", err)
		return
	}

	switch action {
	case domain.DeleteActionTombstone:
		broadcast(reg, wire.Frame{
			Type:    wire.EventMessageDeleted,
			Payload: mustJSON(wire.DeletePayload{MessageID: payload.MessageID}),
		})
	case domain.DeleteActionPurge:
		broadcast(reg, wire.Frame{
			Type:    wire.EventMessageRemoved,
			Payload: mustJSON(wire.DeletePayload{MessageID: payload.MessageID}),
		})
	default:
		// Non-sender requests resolve to no action and no reply.
	}
}

func handleTypingFrame(userID string, reg *registry, frame wire.Frame) {
	var payload wire.TypingPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return
	}
	receiver, online := reg.lookup(strings.TrimSpace(payload.ReceiverID))
	if !online {
		return
	}
	// Typing indicators are best effort; failures are not reported.
	_ = receiver.writeFrame(wire.Frame{
		Type:    frame.Type,
		Payload: mustJSON(wire.TypingNotice{UserID: userID}),
	})
}

func handleSeenFrame(ctx context.Context, userID string, peer *wsPeer, reg *registry, coord *coordinator, frame wire.Frame) {
	var payload wire.SeenPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(peer, string(apperrors.CodeInvalidArgument), "invalid seen payload")
		return
	}

	if _, err := coord.markSeen(ctx, userID, payload.SenderID); err != nil {
		writeDomainError(peer, nil, "mark seen", err)
		return
	}
	if sender, online := reg.lookup(strings.TrimSpace(payload.SenderID)); online {
		_ = sender.writeFrame(wire.Frame{
			Type:    wire.EventMessagesSeen,
			Payload: mustJSON(wire.SeenNotice{By: userID}),
		})
	}
}

func broadcast(reg *registry, frame wire.Frame) {
	for _, peer := range reg.peers() {
		_ = peer.writeFrame(frame)
	}
}

func broadcastExcept(reg *registry, skip *wsPeer, frame wire.Frame) {
	for _, peer := range reg.peers() {
		if peer == skip {
			continue
		}
		_ = peer.writeFrame(frame)
	}
}

// writeDomainError reports a failed frame. Only malformed input earns a
// reply; storage, authorization, and not-found failures abort silently.
func writeDomainError(peer *wsPeer, metrics *Metrics, op string, err error) {
	var domainErr *apperrors.Error
	code := apperrors.CodeUnknown
	if errors.As(err, &domainErr) {
		code = domainErr.Code
	}
	if code == apperrors.CodeStorageFailure && metrics != nil {
		metrics.PersistFailures.Inc()
	}
	log.Printf("messenger: %s: %v", op, err)
	if code == apperrors.CodeInvalidArgument {
		_ = writeWSError(peer, string(code), op+" failed")
	}
}

func writeWSError(peer *wsPeer, code string, message string) error {
	return peer.writeFrame(wire.Frame{
		Type:    wire.EventError,
		Payload: mustJSON(wire.ErrorPayload{Code: code, Message: message}),
	})
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("failed to marshal websocket frame payload: %v", err)
		return nil
	}
	return b
}

// NewServer builds a configured messenger server.
func NewServer(config Config) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if strings.TrimSpace(config.DBPath) == "" {
		return nil, errors.New("db path is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}

	validator, err := auth.NewJWTValidator(config.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("init token validator: %w", err)
	}
	store, err := sqlite.Open(config.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open messenger storage: %w", err)
	}

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           newHandler(store, validator, prometheus.NewRegistry()),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}
	return &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		httpServer:      httpServer,
		store:           store,
	}, nil
}

// Run creates and serves a messenger server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(config)
	if err != nil {
		return fmt.Errorf("init messenger server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve messenger: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("messenger server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("messenger server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close messenger storage: %v", err)
		}
	}
}
