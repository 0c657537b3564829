package handlers

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/memechat/server/internal/apperr"
	"github.com/memechat/server/internal/messaging"
	"github.com/memechat/server/internal/middleware"
	"github.com/memechat/server/internal/model"
)

// MessageHandler serves conversations and encrypted messages
type MessageHandler struct {
	svc *messaging.Service
	log *slog.Logger
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(svc *messaging.Service, log *slog.Logger) *MessageHandler {
	if log == nil {
		log = slog.Default()
	}
	return &MessageHandler{svc: svc, log: log}
}

type createConversationRequest struct {
	PeerUserID string `json:"peerUserId" validate:"required,uuid"`
}

type conversationResponse struct {
	ID            string     `json:"id"`
	PeerUserID    string     `json:"peerUserId"`
	LastMessageAt *time.Time `json:"lastMessageAt"`
	UnreadCount   int        `json:"unreadCount"`
	CreatedAt     time.Time  `json:"createdAt"`
}

type sendMessageRequest struct {
	EncryptedContent    string `json:"encryptedContent" validate:"required,base64"`
	Nonce               string `json:"nonce" validate:"required,base64"`
	SenderKeyVersion    int    `json:"senderKeyVersion,omitempty" validate:"gte=0"`
	RecipientKeyVersion int    `json:"recipientKeyVersion,omitempty" validate:"gte=0"`
}

// messageResponse carries ciphertext as base64. Deleted messages have neither.
type messageResponse struct {
	ID                  string    `json:"id"`
	ConversationID      string    `json:"conversationId"`
	SenderID            string    `json:"senderId"`
	RecipientID         string    `json:"recipientId"`
	EncryptedContent    string    `json:"encryptedContent,omitempty"`
	Nonce               string    `json:"nonce,omitempty"`
	SenderKeyVersion    int       `json:"senderKeyVersion"`
	RecipientKeyVersion int       `json:"recipientKeyVersion"`
	IsRead              bool      `json:"isRead"`
	IsDeleted           bool      `json:"isDeleted"`
	Seq                 int64     `json:"seq"`
	CreatedAt           time.Time `json:"createdAt"`
}

type markReadResponse struct {
	Success bool  `json:"success"`
	Updated int64 `json:"updated"`
}

// HandleCreateConversation handles POST /conversations (protected)
func (h *MessageHandler) HandleCreateConversation(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	var req createConversationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithAppError(w, h.log, err)
		return
	}
	peerID, err := parseUUIDParam(req.PeerUserID, "peerUserId")
	if err != nil {
		respondWithAppError(w, h.log, err)
		return
	}

	conv, err := h.svc.GetOrCreateConversation(r.Context(), userID, peerID)
	if err != nil {
		respondWithAppError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, conversationResponse{
		ID:            conv.ID.String(),
		PeerUserID:    conv.Peer(userID).String(),
		LastMessageAt: conv.LastMessageAt,
		CreatedAt:     conv.CreatedAt,
	})
}

// HandleListConversations handles GET /conversations (protected)
func (h *MessageHandler) HandleListConversations(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	list, err := h.svc.ListConversations(r.Context(), userID)
	if err != nil {
		respondWithAppError(w, h.log, err)
		return
	}
	out := make([]conversationResponse, 0, len(list))
	for _, c := range list {
		out = append(out, conversationResponse{
			ID:            c.ID.String(),
			PeerUserID:    c.PeerID.String(),
			LastMessageAt: c.LastMessageAt,
			UnreadCount:   c.UnreadCount,
			CreatedAt:     c.CreatedAt,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

// HandleSend handles POST /conversations/{id}/messages (protected)
func (h *MessageHandler) HandleSend(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())
	convID, err := parseUUIDParam(chi.URLParam(r, "id"), "conversation id")
	if err != nil {
		respondWithAppError(w, h.log, err)
		return
	}

	var req sendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithAppError(w, h.log, err)
		return
	}
	content, err := base64.StdEncoding.DecodeString(req.EncryptedContent)
	if err != nil {
		respondWithAppError(w, h.log, apperr.ErrInvalidArgument.Withf("encryptedContent must be base64"))
		return
	}
	nonce, err := base64.StdEncoding.DecodeString(req.Nonce)
	if err != nil {
		respondWithAppError(w, h.log, apperr.ErrInvalidArgument.Withf("nonce must be base64"))
		return
	}

	msg, err := h.svc.Send(r.Context(), messaging.SendParams{
		ConversationID:      convID,
		SenderID:            userID,
		EncryptedContent:    content,
		Nonce:               nonce,
		SenderKeyVersion:    req.SenderKeyVersion,
		RecipientKeyVersion: req.RecipientKeyVersion,
	})
	if err != nil {
		respondWithAppError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, newMessageResponse(msg))
}

// HandleList handles GET /conversations/{id}/messages?after=&limit= (protected)
func (h *MessageHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())
	convID, err := parseUUIDParam(chi.URLParam(r, "id"), "conversation id")
	if err != nil {
		respondWithAppError(w, h.log, err)
		return
	}

	afterSeq, err := queryInt(r, "after")
	if err != nil {
		respondWithAppError(w, h.log, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		respondWithAppError(w, h.log, err)
		return
	}

	msgs, err := h.svc.ListMessages(r.Context(), convID, userID, afterSeq, int(limit))
	if err != nil {
		respondWithAppError(w, h.log, err)
		return
	}
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, newMessageResponse(m))
	}
	respondJSON(w, http.StatusOK, out)
}

// HandleMarkRead handles POST /conversations/{id}/read (protected)
func (h *MessageHandler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())
	convID, err := parseUUIDParam(chi.URLParam(r, "id"), "conversation id")
	if err != nil {
		respondWithAppError(w, h.log, err)
		return
	}

	n, err := h.svc.MarkRead(r.Context(), convID, userID)
	if err != nil {
		respondWithAppError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, markReadResponse{Success: true, Updated: n})
}

// HandleDelete handles DELETE /messages/{id} (protected)
func (h *MessageHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())
	msgID, err := parseUUIDParam(chi.URLParam(r, "id"), "message id")
	if err != nil {
		respondWithAppError(w, h.log, err)
		return
	}

	if err := h.svc.SoftDelete(r.Context(), msgID, userID); err != nil {
		respondWithAppError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, successResponse{Success: true})
}

func queryInt(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, apperr.ErrInvalidArgument.Withf("%s must be a non-negative integer", name)
	}
	return n, nil
}

func newMessageResponse(m model.Message) messageResponse {
	resp := messageResponse{
		ID:                  m.ID.String(),
		ConversationID:      m.ConversationID.String(),
		SenderID:            m.SenderID.String(),
		RecipientID:         m.RecipientID.String(),
		SenderKeyVersion:    m.SenderKeyVersion,
		RecipientKeyVersion: m.RecipientKeyVersion,
		IsRead:              m.IsRead,
		IsDeleted:           m.IsDeleted,
		Seq:                 m.Seq,
		CreatedAt:           m.CreatedAt,
	}
	if !m.IsDeleted {
		resp.EncryptedContent = base64.StdEncoding.EncodeToString(m.EncryptedContent)
		resp.Nonce = base64.StdEncoding.EncodeToString(m.Nonce)
	}
	return resp
}
