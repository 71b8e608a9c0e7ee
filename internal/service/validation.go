package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/player-leaderboard/internal/domain"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report fields by their JSON names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationError converts validator output into a domain.ErrValidation
// carrying the first failing field
func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		if fe.Param() != "" {
			return fmt.Errorf("%w: %s must satisfy %s=%s", domain.ErrValidation, fe.Field(), fe.Tag(), fe.Param())
		}
		return fmt.Errorf("%w: %s must satisfy %s", domain.ErrValidation, fe.Field(), fe.Tag())
	}
	return fmt.Errorf("%w: %v", domain.ErrValidation, err)
}

// An empty avatar URL means "no avatar"
func normalizeInput(in *domain.PlayerInput) {
	if in.AvatarURL != nil && *in.AvatarURL == "" {
		in.AvatarURL = nil
	}
}

func normalizePatch(patch *domain.PlayerPatch) {
	if patch.AvatarURL != nil && *patch.AvatarURL == "" {
		patch.AvatarURL = nil
	}
}
