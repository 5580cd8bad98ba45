// Package api serves the authenticated HTTP endpoints that sit next to the
// websocket gateway: room management, message send/history/delete, read
// receipts, unread counts, and presence lookups.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"messenger/cmd/internal/auth"
	"messenger/cmd/internal/delivery"
	"messenger/cmd/internal/messages"
	"messenger/cmd/internal/presence"
	"messenger/cmd/internal/rooms"
	v1 "messenger/shared/contracts/realtime/v1"
)

// ReadMarker applies a room read receipt.
type ReadMarker interface {
	MarkRoomRead(ctx context.Context, roomID, readerID, exceptConnID string) error
}

// PresenceReader answers presence lookups.
type PresenceReader interface {
	Status(ctx context.Context, userID string) (string, error)
	IsOnline(ctx context.Context, userID string) (bool, error)
}

// Handler wires HTTP endpoints to the room, message, receipt, and presence services.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	verifier auth.Verifier

	rooms    *rooms.Service
	messages *messages.Service
	reads    ReadMarker
	presence PresenceReader

	limiter *userLimiter
}

// NewHandler constructs a Handler.
func NewHandler(log *slog.Logger, cfg Config, verifier auth.Verifier, rms *rooms.Service, msgs *messages.Service, reads ReadMarker, pres PresenceReader) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if verifier == nil {
		return nil, errors.New("api: nil verifier")
	}
	if rms == nil || msgs == nil || reads == nil || pres == nil {
		return nil, errors.New("api: missing service")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	h := &Handler{
		log:      log,
		cfg:      cfg,
		verifier: verifier,
		rooms:    rms,
		messages: msgs,
		reads:    reads,
		presence: pres,
	}
	if cfg.RateLimitRequests > 0 && cfg.RateLimitWindow > 0 {
		h.limiter = newUserLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)
	}
	return h, nil
}

// Register wires the API routes onto mux. Every route requires a bearer token
// and counts against the caller's request budget.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	protect := func(fn http.HandlerFunc) http.Handler {
		return auth.RequireIdentity(h.verifier, h.log, h.throttle(fn))
	}
	mux.Handle("GET /rooms", protect(h.handleListRooms))
	mux.Handle("POST /rooms", protect(h.handleCreateRoom))
	mux.Handle("GET /rooms/{roomID}", protect(h.handleGetRoom))
	mux.Handle("POST /rooms/{roomID}/members", protect(h.handleAddMember))
	mux.Handle("DELETE /rooms/{roomID}/members/{userID}", protect(h.handleRemoveMember))
	mux.Handle("POST /rooms/{roomID}/messages", protect(h.handleSend))
	mux.Handle("GET /rooms/{roomID}/messages", protect(h.handleHistory))
	mux.Handle("DELETE /messages/{messageID}", protect(h.handleDelete))
	mux.Handle("POST /rooms/{roomID}/read", protect(h.handleRead))
	mux.Handle("GET /rooms/{roomID}/unread", protect(h.handleUnread))
	mux.Handle("GET /users/{userID}/presence", protect(h.handlePresence))
}

// ---- handlers ----

func (h *Handler) handleListRooms(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	out, err := h.rooms.List(r.Context(), id.UserID)
	if err != nil {
		h.writeServiceError(w, "api.rooms.list.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, roomListResponse{Rooms: out})
}

func (h *Handler) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	var req createRoomRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	d, created, err := h.rooms.Create(r.Context(), rooms.CreateInput{
		CreatorID: id.UserID,
		Type:      req.Type,
		Name:      req.Name,
		MemberIDs: req.MemberIDs,
	})
	if err != nil {
		h.writeServiceError(w, "api.rooms.create.fail", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, d)
}

func (h *Handler) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	d, err := h.rooms.Get(r.Context(), id.UserID, r.PathValue("roomID"))
	if err != nil {
		h.writeServiceError(w, "api.rooms.get.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) handleAddMember(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	var req addMemberRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if err := h.rooms.AddMember(r.Context(), id.UserID, r.PathValue("roomID"), req.UserID); err != nil {
		h.writeServiceError(w, "api.rooms.member_add.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *Handler) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	if err := h.rooms.RemoveMember(r.Context(), id.UserID, r.PathValue("roomID"), r.PathValue("userID")); err != nil {
		h.writeServiceError(w, "api.rooms.member_remove.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	var req sendMessageRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if req.TTL < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "ttl must be positive")
		return
	}

	msg, err := h.messages.Send(r.Context(), messages.SendInput{
		RoomID:         r.PathValue("roomID"),
		SenderID:       id.UserID,
		Content:        req.Content,
		AttachmentURL:  req.AttachmentURL,
		AttachmentType: req.AttachmentType,
		ReplyToID:      req.ReplyToID,
		TTL:            time.Duration(req.TTL) * time.Second,
	})
	if err != nil {
		h.writeServiceError(w, "api.send.fail", err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())
	q := r.URL.Query()

	var before time.Time
	if v := strings.TrimSpace(q.Get("before")); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "before must be RFC 3339")
			return
		}
		before = t.UTC()
	}

	limit := 0
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = min(n, h.cfg.MaxHistoryLimit)
	}

	out, err := h.messages.History(r.Context(), id.UserID, r.PathValue("roomID"), before, limit)
	if err != nil {
		h.writeServiceError(w, "api.history.fail", err)
		return
	}
	if out == nil {
		out = []v1.Message{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Messages: out})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	if err := h.messages.Delete(r.Context(), id.UserID, r.PathValue("messageID")); err != nil {
		h.writeServiceError(w, "api.delete.fail", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRead(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())
	roomID := r.PathValue("roomID")

	if err := h.messages.RequireMember(r.Context(), id.UserID, roomID); err != nil {
		h.writeServiceError(w, "api.read.fail", err)
		return
	}
	if err := h.reads.MarkRoomRead(r.Context(), roomID, id.UserID, ""); err != nil {
		h.writeServiceError(w, "api.read.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *Handler) handleUnread(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())
	roomID := r.PathValue("roomID")

	n, err := h.messages.UnreadCount(r.Context(), id.UserID, roomID)
	if err != nil {
		h.writeServiceError(w, "api.unread.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, unreadResponse{RoomID: roomID, UnreadCount: n})
}

func (h *Handler) handlePresence(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.PathValue("userID"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "userID is required")
		return
	}

	online, err := h.presence.IsOnline(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, "api.presence.fail", err)
		return
	}
	status, err := h.presence.Status(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, "api.presence.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, presenceResponse{UserID: userID, Status: status, Online: online})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, event string, err error) {
	switch {
	case errors.Is(err, rooms.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "room or member not found")
	case errors.Is(err, rooms.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", "only room admins can do that")
	case errors.Is(err, rooms.ErrUnknownUser):
		writeError(w, http.StatusBadRequest, "invalid_request", "unknown user")
	case rooms.IsClientError(err):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, messages.ErrNotMember):
		writeError(w, http.StatusForbidden, "forbidden", "not a member of this room")
	case errors.Is(err, messages.ErrNotSender):
		writeError(w, http.StatusForbidden, "forbidden", "only the sender can delete a message")
	case errors.Is(err, messages.ErrNotFound), errors.Is(err, delivery.ErrMessageNotFound):
		writeError(w, http.StatusNotFound, "not_found", "message not found")
	case errors.Is(err, messages.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "invalid_request", "message must have content or an attachment")
	case errors.Is(err, messages.ErrContentTooLong):
		writeError(w, http.StatusBadRequest, "invalid_request", "message content is too long")
	case errors.Is(err, messages.ErrBlocked):
		writeError(w, http.StatusBadRequest, "blocked", "message blocked by moderation")
	case messages.IsClientError(err), errors.Is(err, delivery.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, presence.ErrStoreUnavailable):
		h.log.Warn(event, "err", err)
		writeError(w, http.StatusServiceUnavailable, "presence_unavailable", "presence store unavailable")
	default:
		h.log.Error(event, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}
