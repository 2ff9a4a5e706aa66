package utils

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// NormalizeEmail trims and lowercases an address so invitations compare by mailbox
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsValidEmail reports whether email is a syntactically valid address
func IsValidEmail(email string) bool {
	return validate.Var(email, "required,email") == nil
}
