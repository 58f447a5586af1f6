package rest

import (
	"regexp"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/ignite-rpg/ignite-api/user"
)

var (
	registerOnce    sync.Once
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
)

// RegisterValidators adds the custom binding tags used by request structs:
// "friendcode" accepts any casing or surrounding whitespace of a valid code,
// "username" restricts login names to a URL-safe alphabet.
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("friendcode", func(fl validator.FieldLevel) bool {
			return user.ValidFriendCode(user.NormalizeFriendCode(fl.Field().String()))
		})
		_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
			return usernamePattern.MatchString(fl.Field().String())
		})
	})
}
