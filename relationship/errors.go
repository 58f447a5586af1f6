package relationship

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPair is returned when both sides of a pair are the same user.
	ErrInvalidPair = errors.New("relationship: a user cannot relate to themselves")
	// ErrDuplicatePair is returned when a row already exists for the pair.
	ErrDuplicatePair = errors.New("relationship: a relationship already exists between these users")
	// ErrForbiddenTransition is returned when the caller may not change the row.
	ErrForbiddenTransition = errors.New("relationship: transition not allowed for this user")
	// ErrSelfResponse is returned when the requester tries to answer their own
	// request. It matches ErrForbiddenTransition under errors.Is.
	ErrSelfResponse = fmt.Errorf("%w: cannot respond to your own request", ErrForbiddenTransition)
	// ErrNotPending is returned when a response targets a row that is no
	// longer pending.
	ErrNotPending = errors.New("relationship: request is no longer pending")
	// ErrNotFriends is returned by Remove when the pair is not an accepted
	// friendship.
	ErrNotFriends = errors.New("relationship: users are not friends")
	// ErrSelfBlock is returned when a user tries to block themselves.
	ErrSelfBlock = errors.New("relationship: cannot block yourself")
	// ErrNotFound is returned when the referenced relationship does not exist.
	ErrNotFound = errors.New("relationship: not found")
	// ErrInvalidAction is returned for a response action other than accept or reject.
	ErrInvalidAction = errors.New("relationship: action must be accept or reject")
	// ErrStoreUnavailable wraps any failure of the backing store.
	ErrStoreUnavailable = errors.New("relationship: store unavailable")
)

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
