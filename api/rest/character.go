package rest

import (
	"context"
	"errors"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ignite-rpg/ignite-api/config"
	"github.com/ignite-rpg/ignite-api/media"
	mw "github.com/ignite-rpg/ignite-api/middleware"
	"github.com/ignite-rpg/ignite-api/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxPortraitBytes = 5 << 20
	portraitFolder   = "portraits"
)

var portraitExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".webp": true, ".gif": true}

// FriendChecker reports whether two users are accepted friends.
type FriendChecker interface {
	AreFriends(ctx context.Context, x, y string) (bool, error)
}

// CharacterHandler handles character sheet REST endpoints.
type CharacterHandler struct {
	db      *gorm.DB
	friends FriendChecker
	media   media.Store
	cfg     config.CharacterConfig
	logger  *zap.Logger
}

// NewCharacterHandler creates a new CharacterHandler.
func NewCharacterHandler(db *gorm.DB, friends FriendChecker, store media.Store, cfg config.CharacterConfig, logger *zap.Logger) *CharacterHandler {
	return &CharacterHandler{db: db, friends: friends, media: store, cfg: cfg, logger: logger}
}

type createCharacterRequest struct {
	Name       string `json:"name"       binding:"required,min=1,max=64"`
	Species    string `json:"species"    binding:"max=64"`
	Race       string `json:"race"       binding:"max=64"`
	Class      string `json:"class"      binding:"max=64"`
	Level      int    `json:"level"      binding:"omitempty,min=1,max=100"`
	Backstory  string `json:"backstory"  binding:"max=20000"`
	Visibility string `json:"visibility" binding:"omitempty,oneof=private friends public"`
}

// List handles GET /api/characters.
func (h *CharacterHandler) List(c *gin.Context) {
	var chars []model.Character
	if err := h.db.WithContext(c.Request.Context()).
		Where("owner_id = ?", mw.GetUserID(c)).
		Order("created_at ASC").
		Find(&chars).Error; err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"characters": chars})
}

// Create handles POST /api/characters.
func (h *CharacterHandler) Create(c *gin.Context) {
	var req createCharacterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ownerID := mw.GetUserID(c)
	db := h.db.WithContext(c.Request.Context())

	if h.cfg.MaxPerUser > 0 {
		var n int64
		if err := db.Model(&model.Character{}).Where("owner_id = ?", ownerID).Count(&n).Error; err != nil {
			internalError(c, err)
			return
		}
		if n >= int64(h.cfg.MaxPerUser) {
			c.JSON(http.StatusConflict, gin.H{"error": "max characters reached"})
			return
		}
	}

	ch := &model.Character{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		Name:       req.Name,
		Species:    req.Species,
		Race:       req.Race,
		Class:      req.Class,
		Level:      req.Level,
		Backstory:  req.Backstory,
		Visibility: req.Visibility,
	}
	if ch.Level == 0 {
		ch.Level = 1
	}
	if ch.Visibility == "" {
		ch.Visibility = model.VisibilityPrivate
	}
	if err := db.Create(ch).Error; err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"character": ch})
}

// Get handles GET /api/characters/:id. Characters the caller may not see are
// reported as missing.
func (h *CharacterHandler) Get(c *gin.Context) {
	ch, ok := h.load(c)
	if !ok {
		return
	}
	visible, err := h.visible(c.Request.Context(), ch, mw.GetUserID(c))
	if err != nil {
		internalError(c, err)
		return
	}
	if !visible {
		c.JSON(http.StatusNotFound, gin.H{"error": "character not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"character": ch})
}

// Update handles PATCH /api/characters/:id.
func (h *CharacterHandler) Update(c *gin.Context) {
	var patch model.CharacterPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if patch.Empty() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nothing to update"})
		return
	}
	ch, ok := h.loadOwned(c)
	if !ok {
		return
	}
	patch.Apply(ch)
	if err := h.db.WithContext(c.Request.Context()).Save(ch).Error; err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"character": ch})
}

// Delete handles DELETE /api/characters/:id.
func (h *CharacterHandler) Delete(c *gin.Context) {
	ch, ok := h.loadOwned(c)
	if !ok {
		return
	}
	if err := h.db.WithContext(c.Request.Context()).Delete(&model.Character{}, "id = ?", ch.ID).Error; err != nil {
		internalError(c, err)
		return
	}
	h.dropPortrait(c.Request.Context(), ch)
	c.JSON(http.StatusOK, gin.H{"message": "character deleted"})
}

// UploadPortrait handles POST /api/characters/:id/portrait (multipart "file").
func (h *CharacterHandler) UploadPortrait(c *gin.Context) {
	ch, ok := h.loadOwned(c)
	if !ok {
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file"})
		return
	}
	if fh.Size > maxPortraitBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "portrait too large"})
		return
	}
	ext := strings.ToLower(path.Ext(fh.Filename))
	if !portraitExts[ext] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported image type"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		internalError(c, err)
		return
	}
	defer f.Close()

	url, err := h.media.Put(c.Request.Context(), ch.ID+ext, f, portraitFolder)
	switch {
	case errors.Is(err, media.ErrNotConfigured), errors.Is(err, media.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	case err != nil:
		_ = c.Error(err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "upload failed"})
		return
	}

	old := *ch
	patch := model.CharacterPatch{PortraitURL: &url}
	patch.Apply(ch)
	if err := h.db.WithContext(c.Request.Context()).Save(ch).Error; err != nil {
		internalError(c, err)
		return
	}
	if old.PortraitURL != url {
		h.dropPortrait(c.Request.Context(), &old)
	}
	c.JSON(http.StatusOK, gin.H{"character": ch})
}

func (h *CharacterHandler) load(c *gin.Context) (*model.Character, bool) {
	var ch model.Character
	err := h.db.WithContext(c.Request.Context()).Where("id = ?", c.Param("id")).First(&ch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "character not found"})
		return nil, false
	}
	if err != nil {
		internalError(c, err)
		return nil, false
	}
	return &ch, true
}

func (h *CharacterHandler) loadOwned(c *gin.Context) (*model.Character, bool) {
	ch, ok := h.load(c)
	if !ok {
		return nil, false
	}
	if ch.OwnerID != mw.GetUserID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your character"})
		return nil, false
	}
	return ch, true
}

func (h *CharacterHandler) visible(ctx context.Context, ch *model.Character, viewerID string) (bool, error) {
	switch {
	case ch.OwnerID == viewerID, ch.Visibility == model.VisibilityPublic:
		return true, nil
	case ch.Visibility == model.VisibilityFriends:
		return h.friends.AreFriends(ctx, ch.OwnerID, viewerID)
	}
	return false, nil
}

// dropPortrait removes a portrait that is no longer referenced. Failures only
// leave an orphaned object behind, so they are logged and ignored.
func (h *CharacterHandler) dropPortrait(ctx context.Context, ch *model.Character) {
	if ch.PortraitURL == "" {
		return
	}
	if err := h.media.Delete(ctx, ch.PortraitURL); err != nil {
		h.logger.Warn("portrait delete failed",
			zap.String("character_id", ch.ID), zap.String("url", ch.PortraitURL), zap.Error(err))
	}
}
