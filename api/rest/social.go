package rest

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	mw "github.com/ignite-rpg/ignite-api/middleware"
	"github.com/ignite-rpg/ignite-api/model"
	"github.com/ignite-rpg/ignite-api/relationship"
	"github.com/ignite-rpg/ignite-api/social"
)

// SocialHandler handles friends and blocking REST endpoints.
type SocialHandler struct {
	svc *social.Service
}

// NewSocialHandler creates a new SocialHandler.
func NewSocialHandler(svc *social.Service) *SocialHandler {
	return &SocialHandler{svc: svc}
}

type sendRequestBody struct {
	FriendCode string `json:"friend_code" binding:"omitempty,friendcode"`
	UserID     string `json:"user_id"     binding:"omitempty,max=36"`
}

type respondBody struct {
	Action relationship.Action `json:"action" binding:"required,oneof=accept reject"`
}

// ListFriends handles GET /api/social/friends.
func (h *SocialHandler) ListFriends(c *gin.Context) {
	friends, err := h.svc.ListFriends(c.Request.Context(), mw.GetUserID(c))
	if err != nil {
		abortRelationship(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"friends": friends})
}

// ListRequests handles GET /api/social/requests.
func (h *SocialHandler) ListRequests(c *gin.Context) {
	pending, err := h.svc.ListPendingRequests(c.Request.Context(), mw.GetUserID(c))
	if err != nil {
		abortRelationship(c, err)
		return
	}
	c.JSON(http.StatusOK, pending)
}

// SendRequest handles POST /api/social/requests. The target is named either
// by friend code or by user id; the code wins when both are present.
func (h *SocialHandler) SendRequest(c *gin.Context) {
	var req sendRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.FriendCode == "" && req.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "friend_code or user_id is required"})
		return
	}

	ctx := requestContext(c)
	callerID := mw.GetUserID(c)
	var (
		rel *model.Relationship
		err error
	)
	if req.FriendCode != "" {
		rel, err = h.svc.SendRequestByCode(ctx, callerID, req.FriendCode)
	} else {
		rel, err = h.svc.SendRequest(ctx, callerID, req.UserID)
	}
	if err != nil {
		abortRelationship(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"relationship": rel})
}

// Respond handles POST /api/social/requests/:id/respond.
func (h *SocialHandler) Respond(c *gin.Context) {
	var req respondBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.svc.Respond(requestContext(c), mw.GetUserID(c), c.Param("id"), req.Action)
	if err != nil {
		abortRelationship(c, err)
		return
	}
	if res.Removed {
		c.JSON(http.StatusOK, gin.H{"removed": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"relationship": res.Relationship})
}

// RemoveFriend handles DELETE /api/social/friends/:id, where :id is the
// friend's user id.
func (h *SocialHandler) RemoveFriend(c *gin.Context) {
	if err := h.svc.RemoveFriend(requestContext(c), mw.GetUserID(c), c.Param("id")); err != nil {
		abortRelationship(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "friend removed"})
}

// Block handles POST /api/social/block/:id, where :id is the target user id.
func (h *SocialHandler) Block(c *gin.Context) {
	rel, err := h.svc.BlockUser(requestContext(c), mw.GetUserID(c), c.Param("id"))
	if err != nil {
		abortRelationship(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"relationship": rel})
}

// ListBlocked handles GET /api/social/blocked.
func (h *SocialHandler) ListBlocked(c *gin.Context) {
	blocked, err := h.svc.ListBlocked(c.Request.Context(), mw.GetUserID(c))
	if err != nil {
		abortRelationship(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"blocked": blocked})
}

// requestContext attaches the trace id and client address that audit entries
// record for mutations.
func requestContext(c *gin.Context) context.Context {
	return social.WithRequestMeta(c.Request.Context(), social.RequestMeta{
		TraceID: mw.GetTraceID(c),
		IP:      c.ClientIP(),
	})
}
