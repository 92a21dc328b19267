package auth

import (
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

// Credentials is the body of the login endpoint.
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type tokenLogin struct {
	Token string `json:"token" validate:"required"`
}

var requestValidator = validator.New()

func validateRequest(method string, v any) error {
	if err := requestValidator.Struct(v); err != nil {
		return errors.Wrapf(InvalidCredentialsErr, "[%s] %v", method, err)
	}
	return nil
}
