// Package main provides a CI-friendly smoke test for a running messenger server.
//
// It validates, for two users A and B who are active members of -room:
//   - handshake + subprotocol selection and the online presence_update
//   - join_room by B
//   - HTTP send by A -> new_message on B
//   - message_delivered by B -> message_status_updated on A
//   - messages_read by B -> messages_read on A
//
// Tokens come from -token-a/-token-b, or are minted as HS256 JWTs from
// MESSENGER_JWT_SECRET for -user-a/-user-b.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "messenger/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
	"github.com/golang-jwt/jwt/v5"
)

const (
	subprotocol  = "messenger.realtime.v1"
	maxReadBytes = 1 << 20 // 1MiB
)

type smokeClient struct {
	name   string
	userID string
	token  string
	conn   *websocket.Conn

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin  = flag.String("origin", "", "Origin header to send (browser-like WS handshake)")
		roomID  = flag.String("room", "dev-room-1", "Room both users are members of")
		userA   = flag.String("user-a", "smoke-a", "User id for client A")
		userB   = flag.String("user-b", "smoke-b", "User id for client B")
		tokenA  = flag.String("token-a", "", "Bearer token for A (minted when empty)")
		tokenB  = flag.String("token-b", "", "Bearer token for B (minted when empty)")
		text    = flag.String("text", "hello messenger 👋", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()

	a := &smokeClient{name: "A", userID: *userA, token: mustToken(*tokenA, *userA)}
	b := &smokeClient{name: "B", userID: *userB, token: mustToken(*tokenB, *userB)}

	mustConnect(root, a, *wsURL, *origin, *timeout)
	defer closeWS(a.conn)
	mustConnect(root, b, *wsURL, *origin, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s origin=%q\n", a.userID, b.userID, *origin)
	}

	mustWriteEvent(root, b, v1.TypeJoinRoom, v1.JoinRoomPayload{RoomID: *roomID}, *timeout)

	msg := mustSendHTTP(root, a, httpBaseURL(*wsURL), *roomID, *text, *timeout)
	if *verbose {
		fmt.Printf("sent: id=%s room=%s\n", msg.ID, msg.RoomID)
	}

	newEnv := b.mustReadUntilType(root, v1.TypeNewMessage, *timeout)
	var got v1.Message
	mustUnmarshal(newEnv.Payload, &got, "new_message")
	if got.ID != msg.ID || got.SenderID != a.userID {
		fatalf("new_message mismatch: got id=%q sender=%q want id=%q sender=%q", got.ID, got.SenderID, msg.ID, a.userID)
	}

	mustWriteEvent(root, b, v1.TypeMessageDelivered, v1.MessageDeliveredPayload{MessageID: msg.ID, RoomID: *roomID}, *timeout)
	statusEnv := a.mustReadUntilType(root, v1.TypeMessageStatusUpdated, *timeout)
	var st v1.MessageStatusUpdatedPayload
	mustUnmarshal(statusEnv.Payload, &st, "message_status_updated")
	if st.MessageID != msg.ID || st.Status != v1.StatusDelivered {
		fatalf("message_status_updated mismatch: %+v", st)
	}

	mustWriteEvent(root, b, v1.TypeMessagesRead, v1.MessagesReadPayload{RoomID: *roomID}, *timeout)
	readEnv := a.mustReadUntilType(root, v1.TypeMessagesRead, *timeout)
	var rd v1.MessagesReadEventPayload
	mustUnmarshal(readEnv.Payload, &rd, "messages_read")
	if rd.RoomID != *roomID || rd.UserID != b.userID {
		fatalf("messages_read mismatch: %+v", rd)
	}

	fmt.Printf("OK: A=%s B=%s room_id=%s message_id=%s\n", a.userID, b.userID, *roomID, msg.ID)
}

func mustToken(explicit, userID string) string {
	if strings.TrimSpace(explicit) != "" {
		return strings.TrimSpace(explicit)
	}
	secret := os.Getenv("MESSENGER_JWT_SECRET")
	if secret == "" {
		fatalf("no token for %s: pass -token-a/-token-b or set MESSENGER_JWT_SECRET", userID)
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(10 * time.Minute).Unix(),
	}
	if iss := os.Getenv("MESSENGER_AUTH_ISSUER"); iss != "" {
		claims["iss"] = iss
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		fatalf("sign token: %v", err)
	}
	return tok
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

// httpBaseURL maps ws://host/ws to http://host.
func httpBaseURL(wsURL string) string {
	u, err := url.Parse(wsURL)
	if err != nil {
		return wsURL
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	default:
		u.Scheme = "http"
	}
	u.Path = ""
	u.RawQuery = ""
	return u.String()
}

func mustConnect(parent context.Context, c *smokeClient, wsURL, origin string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.token)
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", c.name, err)
	}
	if got := conn.Subprotocol(); got != subprotocol {
		fatalf("subprotocol mismatch (%s): got=%q want=%q", c.name, got, subprotocol)
	}

	conn.SetReadLimit(maxReadBytes)
	c.conn = conn
	c.inbox = make(chan v1.Envelope, 512)
	c.errCh = make(chan error, 1)
	c.startReadLoop()

	// The server announces the user's own online presence once attached.
	for {
		env := c.mustReadUntilType(parent, v1.TypePresenceUpdate, stepTimeout)
		var p v1.PresenceUpdatePayload
		mustUnmarshal(env.Payload, &p, "presence_update")
		if p.UserID == c.userID && p.Status == v1.PresenceOnline {
			return
		}
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.fail(err)
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.fail(fmt.Errorf("bad json: %w", err))
				return
			}
			if err := env.Validate(); err != nil {
				c.fail(fmt.Errorf("bad envelope: %w", err))
				return
			}
			if env.Type == v1.TypeError {
				var p v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &p)
				c.fail(fmt.Errorf("server error %s: %s", p.Code, p.Message))
				return
			}

			select {
			case c.inbox <- env:
			default:
				c.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func (c *smokeClient) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, typ string, timeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %s (%s)", typ, c.name)
		case err := <-c.errCh:
			fatalf("read (%s): %v", c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed waiting for %s (%s)", typ, c.name)
			}
			if env.Type == typ {
				return env
			}
		}
	}
}

func mustWriteEvent(parent context.Context, c *smokeClient, typ string, payload any, timeout time.Duration) {
	env := v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      fmt.Sprintf("%s-%s-%d", c.name, typ, time.Now().UnixNano()),
		TS:      time.Now().UTC(),
		Payload: mustJSON(payload),
	}
	b := mustJSON(env)

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write %s (%s): %v", typ, c.name, err)
	}
}

func mustSendHTTP(parent context.Context, c *smokeClient, baseURL, roomID, text string, timeout time.Duration) v1.Message {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	body := mustJSON(map[string]string{"content": text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/rooms/"+url.PathEscape(roomID)+"/messages", bytes.NewReader(body))
	if err != nil {
		fatalf("build send request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("send (%s): %v", c.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		var e map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&e)
		fatalf("send (%s): status=%d body=%v", c.name, resp.StatusCode, e)
	}

	var m v1.Message
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		fatalf("decode send response: %v", err)
	}
	return m
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		fatalf("marshal: %v", err)
	}
	return b
}

func mustUnmarshal(b []byte, dst any, what string) {
	if err := json.Unmarshal(b, dst); err != nil {
		fatalf("unmarshal %s payload: %v", what, err)
	}
}

func closeWS(c *websocket.Conn) {
	if c != nil {
		_ = c.Close(websocket.StatusNormalClosure, "bye")
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
