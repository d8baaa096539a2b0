package http

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/skillshare/realtime/internal/app/chat"
	"github.com/skillshare/realtime/internal/core"
	"github.com/skillshare/realtime/internal/domain"
)

type MessageStore interface {
	Insert(ctx context.Context, m domain.ChatMessage) (domain.ChatMessage, error)
	List(ctx context.Context, group domain.GroupID, page, pageSize int) ([]domain.ChatMessage, error)
}

type MessagesHandler struct {
	Messages MessageStore
	Members  core.MembershipChecker
	Hub      *chat.Hub
}

type postMessageRequest struct {
	MessageType      domain.MessageType `json:"messageType"`
	Content          string             `json:"content"`
	FileURL          *string            `json:"fileUrl"`
	FileName         *string            `json:"fileName"`
	FileSize         *int64             `json:"fileSize"`
	Duration         *int               `json:"duration"`
	ReplyToMessageID *int64             `json:"replyToMessageId"`
}

func (h *MessagesHandler) member(c *gin.Context) (domain.GroupID, bool) {
	group, err := domain.ParseGroupID(c.Param("groupId"))
	if err != nil {
		abortWith(c, err)
		return 0, false
	}
	ok, err := h.Members.IsMember(c.Request.Context(), group, currentUser(c))
	if err != nil {
		abortWith(c, fmt.Errorf("membership check: %w", err))
		return 0, false
	}
	if !ok {
		abortWith(c, domain.ErrNotMember)
		return 0, false
	}
	return group, true
}

// PostMessage persists a chat message, then pushes new_message to the
// group's live chat connections.
func (h *MessagesHandler) PostMessage(c *gin.Context) {
	group, ok := h.member(c)
	if !ok {
		return
	}
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.MessageType == "" {
		req.MessageType = domain.MessageText
	}
	if !req.MessageType.Valid() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown messageType"})
		return
	}
	if strings.TrimSpace(req.Content) == "" && req.FileURL == nil {
		abortWith(c, domain.ErrEmptyMessage)
		return
	}

	saved, err := h.Messages.Insert(c.Request.Context(), domain.ChatMessage{
		GroupID:          group,
		UserID:           currentUser(c),
		Type:             req.MessageType,
		Content:          req.Content,
		FileURL:          req.FileURL,
		FileName:         req.FileName,
		FileSize:         req.FileSize,
		Duration:         req.Duration,
		ReplyToMessageID: req.ReplyToMessageID,
	})
	if err != nil {
		abortWith(c, fmt.Errorf("insert message: %w", err))
		return
	}
	h.Hub.NotifyNewMessage(group, saved)
	c.JSON(http.StatusCreated, saved)
}

func (h *MessagesHandler) ListMessages(c *gin.Context) {
	group, ok := h.member(c)
	if !ok {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "50"))
	msgs, err := h.Messages.List(c.Request.Context(), group, page, pageSize)
	if err != nil {
		abortWith(c, fmt.Errorf("list messages: %w", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"groupId": group, "page": page, "messages": msgs})
}
