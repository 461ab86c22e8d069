package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	myMiddleware "chat-relay/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

type sendMessageRequest struct {
	Message string `json:"message"`
}

type startChatRequest struct {
	ReceiverID int64  `json:"receiver_id" validate:"required,gt=0"`
	Message    string `json:"message" validate:"required"`
}

type startChatResponse struct {
	ChatID  int64    `json:"chat_id"`
	Message *Message `json:"message"`
}

type createGroupRequest struct {
	Name        string  `json:"group_name" validate:"required,max=100"`
	Description string  `json:"group_description" validate:"max=1000"`
	Members     []int64 `json:"group_members" validate:"dive,gt=0"`
}

type Handler struct {
	hub           *Hub
	authz         *Authorizer
	coordinator   *Coordinator
	conversations Conversations
	log           *zap.Logger
	historyLimit  int
	validate      *validator.Validate
}

func NewHandler(hub *Hub, authz *Authorizer, coordinator *Coordinator, conversations Conversations, log *zap.Logger, historyLimit int) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		hub:           hub,
		authz:         authz,
		coordinator:   coordinator,
		conversations: conversations,
		log:           log,
		historyLimit:  historyLimit,
		validate:      validator.New(),
	}
}

// ServeWs upgrades an already authenticated request. The auth middleware
// has refused bad credentials before any hub state exists.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	identity, ok := myMiddleware.IdentityFrom(r.Context())
	if !ok {
		h.writeError(w, newError(ErrUnauthenticated, "missing identity", nil))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	client := h.hub.NewClient(conn, identity)
	if err := h.hub.Register(client); err != nil {
		conn.Close()
		return
	}

	// Note: These run in new goroutines, ServeWs returns immediately.
	go client.WritePump()
	go client.ReadPump(h.HandleFrame)
}

// HandleFrame serves join and leave requests from a connection.
func (h *Handler) HandleFrame(ctx context.Context, c *Client, f Frame) {
	ref := f.Conversation
	switch f.Type {
	case FrameJoin:
		if _, err := h.authz.Authorize(ctx, c.Identity.UserID, ref); err != nil {
			c.replyError(&ref, err)
			return
		}
		if err := h.hub.Join(ref, c); err != nil {
			return
		}
		c.reply(Event{Type: EventJoined, Conversation: &ref})

	case FrameLeave:
		h.hub.Leave(ref, c)
		c.reply(Event{Type: EventLeft, Conversation: &ref})

	default:
		c.replyError(nil, newError(ErrInvalidInput, "unknown frame type "+strconv.Quote(f.Type), nil))
	}
}

func (h *Handler) SendPrivateMessage(w http.ResponseWriter, r *http.Request) {
	h.send(w, r, KindPrivate, "chatID")
}

func (h *Handler) SendGroupMessage(w http.ResponseWriter, r *http.Request) {
	h.send(w, r, KindGroup, "groupID")
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request, kind Kind, param string) {
	identity, _ := myMiddleware.IdentityFrom(r.Context())
	id, err := pathID(r, param)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, newError(ErrInvalidInput, "malformed body", err))
		return
	}

	msg, err := h.coordinator.Send(r.Context(), SendRequest{
		Conversation: ConversationRef{Kind: kind, ID: id},
		SenderID:     identity.UserID,
		Body:         req.Message,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *Handler) PrivateHistory(w http.ResponseWriter, r *http.Request) {
	h.history(w, r, KindPrivate, "chatID")
}

func (h *Handler) GroupHistory(w http.ResponseWriter, r *http.Request) {
	h.history(w, r, KindGroup, "groupID")
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request, kind Kind, param string) {
	identity, _ := myMiddleware.IdentityFrom(r.Context())
	id, err := pathID(r, param)
	if err != nil {
		h.writeError(w, err)
		return
	}

	msgs, err := h.coordinator.History(r.Context(), identity.UserID, ConversationRef{Kind: kind, ID: id}, h.historyLimit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// StartPrivateChat finds or creates the chat with receiver_id and sends the
// first message through the regular write path.
func (h *Handler) StartPrivateChat(w http.ResponseWriter, r *http.Request) {
	identity, _ := myMiddleware.IdentityFrom(r.Context())

	var req startChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, newError(ErrInvalidInput, "malformed body", err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, newError(ErrInvalidInput, "receiver_id and message are required", err))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		h.writeError(w, newError(ErrInvalidInput, "message body is empty", nil))
		return
	}
	if req.ReceiverID == identity.UserID {
		h.writeError(w, newError(ErrInvalidInput, "cannot start a chat with yourself", nil))
		return
	}

	profiles, err := h.conversations.Profiles(r.Context(), req.ReceiverID)
	if err != nil {
		h.writeError(w, newError(ErrStoreFailed, "receiver lookup failed", err))
		return
	}
	if _, ok := profiles[req.ReceiverID]; !ok {
		h.writeError(w, newError(ErrNotFound, "receiver does not exist", nil))
		return
	}

	pc, err := h.conversations.FindOrCreatePrivateChat(r.Context(), identity.UserID, req.ReceiverID)
	if err != nil {
		h.writeError(w, newError(ErrStoreFailed, "chat could not be created", err))
		return
	}

	msg, err := h.coordinator.Send(r.Context(), SendRequest{
		Conversation: Private(pc.ID),
		SenderID:     identity.UserID,
		Body:         req.Message,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, startChatResponse{ChatID: pc.ID, Message: msg})
}

func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	identity, _ := myMiddleware.IdentityFrom(r.Context())

	var req createGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, newError(ErrInvalidInput, "malformed body", err))
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, newError(ErrInvalidInput, "group_name is required", err))
		return
	}

	g := &Group{
		Name:      req.Name,
		CreatedBy: identity.UserID,
		// The creator is always a member.
		Members: lo.Uniq(append([]int64{identity.UserID}, req.Members...)),
	}
	if desc := strings.TrimSpace(req.Description); desc != "" {
		g.Description = &desc
	}

	created, err := h.conversations.CreateGroup(r.Context(), g)
	if err != nil {
		h.writeError(w, newError(ErrStoreFailed, "group could not be created", err))
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) ListPrivateChats(w http.ResponseWriter, r *http.Request) {
	identity, _ := myMiddleware.IdentityFrom(r.Context())
	chats, err := h.conversations.PrivateChats(r.Context(), identity.UserID)
	if err != nil {
		h.writeError(w, newError(ErrStoreFailed, "chats could not be listed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"privatechats": chats})
}

func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	identity, _ := myMiddleware.IdentityFrom(r.Context())
	groups, err := h.conversations.Groups(r.Context(), identity.UserID)
	if err != nil {
		h.writeError(w, newError(ErrStoreFailed, "groups could not be listed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

func (h *Handler) VerifyToken(w http.ResponseWriter, r *http.Request) {
	identity, _ := myMiddleware.IdentityFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "Token is valid",
		"user_id":  identity.UserID,
		"username": identity.Username,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]any{
		"error": ErrorBody{Code: Code(err), Message: PublicMessage(err)},
	})
}

func pathID(r *http.Request, param string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		return 0, newError(ErrInvalidInput, "invalid "+param, err)
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
