package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ignite-rpg/ignite-api/relationship"
)

// relationshipStatus maps relationship errors onto HTTP status codes.
// Anything unrecognized, store outages included, is a 500.
func relationshipStatus(err error) int {
	switch {
	case errors.Is(err, relationship.ErrInvalidPair),
		errors.Is(err, relationship.ErrSelfBlock),
		errors.Is(err, relationship.ErrInvalidAction):
		return http.StatusBadRequest
	case errors.Is(err, relationship.ErrForbiddenTransition):
		return http.StatusForbidden
	case errors.Is(err, relationship.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, relationship.ErrDuplicatePair),
		errors.Is(err, relationship.ErrNotPending),
		errors.Is(err, relationship.ErrNotFriends):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// abortRelationship writes the mapped status. Internal failures are recorded on
// the context for the request logger and answered with a generic message.
func abortRelationship(c *gin.Context, err error) {
	status := relationshipStatus(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func internalError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
