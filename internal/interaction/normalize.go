package interaction

import (
	"errors"
	"strings"

	"marketbot/internal/command"
)

// Category is the failure class reported alongside a normalized message.
type Category string

const (
	CategoryValidation    Category = "validation"
	CategoryAuthorization Category = "authorization"
	CategoryConflict      Category = "conflict"
	CategoryUnknown       Category = "unknown"
)

// FallbackMessage is shown for every failure that is not safe to echo.
const FallbackMessage = "Something went wrong. Please try again later."

// Normalize maps an execution or resolution failure to a short message and a category.
// Unknown errors never leak their text.
func Normalize(err error) (string, Category) {
	var (
		validation *command.ValidationError
		authz      *command.AuthorizationError
		resolve    *ResolveError
		conflict   *command.ConflictError
	)
	switch {
	case err == nil:
		return "", ""
	case errors.As(err, &validation) && len(validation.Problems) > 0:
		lines := make([]string, 0, len(validation.Problems))
		for _, p := range validation.Problems {
			lines = append(lines, "• "+p.Message)
		}
		return strings.Join(lines, "\n"), CategoryValidation
	case errors.As(err, &authz) && authz.Message != "":
		return authz.Message, CategoryAuthorization
	case errors.As(err, &resolve) && resolve.Message != "":
		return resolve.Message, CategoryValidation
	case errors.As(err, &conflict) && conflict.Message != "":
		return conflict.Message, CategoryConflict
	default:
		return FallbackMessage, CategoryUnknown
	}
}
