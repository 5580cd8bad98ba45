package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"messenger/cmd/internal/auth"
	"messenger/cmd/internal/metrics"
	"messenger/cmd/internal/presence"
	v1 "messenger/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const (
	// WSSubprotocolV1 is the websocket subprotocol clients must offer.
	WSSubprotocolV1 = "messenger.realtime.v1"

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Origin is optional by default (native clients send none); browsers are
	// limited to the allowlist.
	wsDefaultOriginRequired = false
	wsDefaultAllowedOrigins = "http://localhost:3000,http://localhost,http://127.0.0.1"
)

// Receipts is the delivery/read coordinator consumed by the gateway.
type Receipts interface {
	MarkDelivered(ctx context.Context, messageID, roomID string) error
	MarkRoomRead(ctx context.Context, roomID, readerID, exceptConnID string) error
}

// WSGateway is the websocket entrypoint.
//
// It authenticates the handshake, enforces origin policy, subprotocol selection,
// rate limits and heartbeats, attaches sessions to the Router, records presence,
// and routes validated inbound events.
type WSGateway struct {
	log      *slog.Logger
	router   *Router
	verifier auth.Verifier
	presence *presence.Tracker
	receipts Receipts
	metrics  *metrics.Metrics

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks (cross-origin requires OriginPatterns).
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration

	sessions sync.WaitGroup
}

// GatewayOption overrides settings otherwise read from the environment.
type GatewayOption func(*WSGateway)

// WithOriginPolicy sets whether Origin is required and which origins are allowed.
func WithOriginPolicy(required bool, allowed []string) GatewayOption {
	return func(g *WSGateway) {
		g.originRequired = required
		g.allowedOrigins = allowed
	}
}

// WithHeartbeat sets the ping interval and per-ping timeout.
func WithHeartbeat(every, timeout time.Duration) GatewayOption {
	return func(g *WSGateway) {
		if every > 0 {
			g.heartbeatEvery = every
		}
		if timeout > 0 {
			g.heartbeatTimeout = timeout
		}
	}
}

// WithRateLimit sets the per-connection event budget.
func WithRateLimit(events int, window time.Duration) GatewayOption {
	return func(g *WSGateway) {
		if events > 0 {
			g.rateEvents = events
		}
		if window > 0 {
			g.rateWindow = window
		}
	}
}

// WithGatewayMetrics records connection and inbound event metrics.
func WithGatewayMetrics(m *metrics.Metrics) GatewayOption {
	return func(g *WSGateway) { g.metrics = m }
}

// NewWSGateway constructs a gateway with secure defaults.
// A nil tracker falls back to in-memory presence; a nil receipts coordinator
// drops message_delivered and messages_read events.
func NewWSGateway(
	log *slog.Logger,
	router *Router,
	verifier auth.Verifier,
	tracker *presence.Tracker,
	receipts Receipts,
	opts ...GatewayOption,
) *WSGateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if router == nil {
		router = NewRouter(log, nil)
	}
	if tracker == nil {
		tracker = presence.NewTracker(log, presence.NewMemoryStore())
	}

	g := &WSGateway{
		log:      log,
		router:   router,
		verifier: verifier,
		presence: tracker,
		receipts: receipts,
	}

	// InsecureSkipVerify is a dev-only knob that disables Accept's origin check.
	g.devInsecure = envBoolWS("MESSENGER_WS_DEV_INSECURE", false)

	g.originRequired = envBoolWS("MESSENGER_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("MESSENGER_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)

	g.writeTimeout = envDurationWS("MESSENGER_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("MESSENGER_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	g.sendQueueSize = envIntWS("MESSENGER_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("MESSENGER_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("MESSENGER_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS("MESSENGER_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("MESSENGER_WS_RATE_WINDOW", rateLimitWindow)

	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	// websocket.Accept applies its own origin policy; derive its patterns from
	// the allowlist so both layers agree.
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	return g
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// Shutdown closes every attached session and waits for their disconnect paths
// (router detach, presence flush, offline fan-out) to finish or ctx to expire.
func (g *WSGateway) Shutdown(ctx context.Context) error {
	g.router.Shutdown()

	done := make(chan struct{})
	go func() {
		g.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		g.log.Info("ws.drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("ws drain: %w", ctx.Err())
	}
}

// HandleWS authenticates, upgrades the request and runs the session until disconnect.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.metrics.ConnectionRejected("origin")
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	// Authentication happens before the upgrade so a refused client leaves no state behind.
	identity, err := auth.Authenticate(r, g.verifier, time.Now().UTC())
	if err != nil {
		g.metrics.ConnectionRejected("auth")
		g.log.Info("ws.reject.auth", "reason", err.Error(), "remote", r.RemoteAddr)
		auth.WriteUnauthorized(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{WSSubprotocolV1},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.metrics.ConnectionRejected("upgrade")
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != WSSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", WSSubprotocolV1)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	connID, err := NewConnID(time.Now().UTC())
	if err != nil {
		g.log.Error("ws.conn_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	client := NewClient(connID, identity, g.sendQueueSize)

	g.sessions.Add(1)
	defer g.sessions.Done()

	g.serve(r.Context(), conn, client)
}

func (g *WSGateway) serve(parent context.Context, conn *websocket.Conn, client *Client) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	log := g.log.With("conn_id", client.ConnID, "user_id", client.UserID)

	connectRooms, err := g.router.Attach(ctx, client)
	if errors.Is(err, ErrRouterClosed) {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	if err != nil {
		log.Warn("ws.rooms.load.fail", "err", err)
	}
	g.metrics.ConnectionOpened()
	log.Info("ws.connect", "rooms", len(connectRooms))

	// Failures are logged by the tracker; the session continues without presence
	// and nothing is announced.
	if _, err := g.presence.RecordConnect(ctx, client.UserID, client.ConnID); err == nil {
		g.emitPresence(connectRooms, client.UserID, v1.PresenceOnline)
	}

	defer g.disconnect(parent, log, client, connectRooms)

	var closeOnce sync.Once

	// shutdown is idempotent and never closes client.Send.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	// Router.Shutdown closes the client; unblock the read loop when that happens.
	go func() {
		select {
		case <-client.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.writeTimeout); err != nil {
					log.Info("ws.write.fail", "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					log.Info("ws.ping.fail", "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		badJSON := false
		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusGoingAway, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				badJSON = true
			default:
				log.Info("ws.read.fail", "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		// Every received frame counts, malformed ones included.
		if !rl.Allow(time.Now().UTC()) {
			log.Info("ws.rate_limited")
			g.trySendError(ctx, client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if badJSON {
			g.trySendError(ctx, client, "bad_json", "invalid JSON")
			continue readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, "bad_envelope", err.Error())
			continue readLoop
		}
		if !v1.IsInbound(env.Type) {
			g.trySendError(ctx, client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
			continue readLoop
		}

		g.metrics.InboundEvent(env.Type)

		if err := g.dispatch(ctx, log, client, env); err != nil {
			g.trySendError(ctx, client, "bad_payload", err.Error())
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// disconnect runs after the session ends: leave every router room, drop the
// connection from presence, and announce offline to the rooms captured at
// connect time when this was the user's last connection.
func (g *WSGateway) disconnect(parent context.Context, log *slog.Logger, client *Client, connectRooms []string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), disconnectTimeout)
	defer cancel()

	g.router.Detach(client.ConnID)
	g.metrics.ConnectionClosed()

	offline, err := g.presence.RecordDisconnect(ctx, client.UserID, client.ConnID)
	if err == nil && offline {
		g.emitPresence(connectRooms, client.UserID, v1.PresenceOffline)
	}
	log.Info("ws.disconnect", "offline", offline)
}

func (g *WSGateway) emitPresence(roomIDs []string, userID, status string) {
	if len(roomIDs) == 0 {
		return
	}
	env, err := NewEvent(v1.TypePresenceUpdate, v1.PresenceUpdatePayload{UserID: userID, Status: status})
	if err != nil {
		g.log.Error("ws.presence.event.fail", "err", err)
		return
	}
	for _, roomID := range roomIDs {
		g.router.EmitToRoom(roomID, env)
	}
}

// ---- handlers ----

// dispatch routes one validated inbound event. A returned error means the
// payload was malformed. Authorization failures are only logged.
func (g *WSGateway) dispatch(ctx context.Context, log *slog.Logger, client *Client, env v1.Envelope) error {
	switch env.Type {
	case v1.TypeJoinRoom:
		var p v1.JoinRoomPayload
		if err := decodePayload(env, &p); err != nil {
			return err
		}
		if _, err := g.router.Join(ctx, client.ConnID, p.RoomID); err != nil {
			log.Warn("ws.join.fail", "room_id", p.RoomID, "err", err)
		}
		return nil

	case v1.TypeTypingStart, v1.TypeTypingStop:
		var p v1.TypingPayload
		if err := decodePayload(env, &p); err != nil {
			return err
		}
		if !client.InRoom(p.RoomID) {
			log.Debug("ws.typing.not_joined", "room_id", p.RoomID)
			return nil
		}
		out, err := NewEvent(env.Type, v1.TypingEventPayload{UserID: client.UserID, RoomID: p.RoomID})
		if err != nil {
			return err
		}
		g.router.EmitToRoomExcept(p.RoomID, out, client.ConnID)
		return nil

	case v1.TypeMessageDelivered:
		var p v1.MessageDeliveredPayload
		if err := decodePayload(env, &p); err != nil {
			return err
		}
		if !client.InRoom(p.RoomID) {
			log.Debug("ws.delivered.not_joined", "room_id", p.RoomID, "message_id", p.MessageID)
			return nil
		}
		if g.receipts == nil {
			return nil
		}
		if err := g.receipts.MarkDelivered(ctx, p.MessageID, p.RoomID); err != nil {
			log.Warn("ws.delivered.fail", "room_id", p.RoomID, "message_id", p.MessageID, "err", err)
		}
		return nil

	case v1.TypeMessagesRead:
		var p v1.MessagesReadPayload
		if err := decodePayload(env, &p); err != nil {
			return err
		}
		if !client.InRoom(p.RoomID) {
			log.Debug("ws.read.not_joined", "room_id", p.RoomID)
			return nil
		}
		if g.receipts == nil {
			return nil
		}
		if err := g.receipts.MarkRoomRead(ctx, p.RoomID, client.UserID, client.ConnID); err != nil {
			log.Warn("ws.read.fail", "room_id", p.RoomID, "err", err)
		}
		return nil
	}
	return nil
}

type payloadValidator interface {
	Validate() error
}

func decodePayload[T payloadValidator](env v1.Envelope, dst T) error {
	if len(env.Payload) == 0 {
		return errors.New("missing payload")
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return dst.Validate()
}

// ---- send helpers ----

func (g *WSGateway) trySendError(ctx context.Context, client *Client, code, msg string) {
	env, err := NewEvent(v1.TypeError, v1.ErrorPayload{Code: code, Message: msg})
	if err != nil {
		return
	}
	_ = g.enqueue(ctx, client, env)
}

func (g *WSGateway) enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	default:
	}
	return client.offer(env)
}

// ---- envelope IO ----

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, fmt.Errorf("%w: %v", errBadJSON, err)
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

var errBadJSON = errors.New("bad json")

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if errors.Is(err, errBadJSON) {
		return readErrBadJSON
	}
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			return nil
		}
		if origin == a {
			return nil
		}
		// Host match ignores scheme and port.
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatternsFromAllowedOrigins returns the sorted, de-duplicated
// hosts of the allowlist; websocket.Accept matches them with filepath.Match.
func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
