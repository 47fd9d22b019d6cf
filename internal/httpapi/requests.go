package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/whisper/chatroom/internal/chat"
)

const maxBodyBytes = 64 << 10

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type registerRequest struct {
	Name string `json:"name" validate:"required"`
}

type postMessageRequest struct {
	To   string `json:"to" validate:"required"`
	Text string `json:"text" validate:"required"`
	Type string `json:"type" validate:"required,oneof=message private_message"`
}

// editMessageRequest leaves to and type unchanged when they are omitted.
type editMessageRequest struct {
	To   string `json:"to"`
	Text string `json:"text" validate:"required"`
	Type string `json:"type" validate:"omitempty,oneof=message private_message"`
}

// decode reads a JSON body into dst and validates it. Every failure is an
// ErrInvalidInput.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed JSON body", chat.ErrInvalidInput)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("%w: %s", chat.ErrInvalidInput, describe(verrs))
		}
		return fmt.Errorf("%w: %v", chat.ErrInvalidInput, err)
	}
	return nil
}

func describe(verrs validator.ValidationErrors) string {
	return strings.Join(lo.Map(verrs, func(fe validator.FieldError, _ int) string {
		switch fe.Tag() {
		case "required":
			return fe.Field() + " is required"
		case "oneof":
			return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
		default:
			return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
		}
	}), "; ")
}

// requester returns the participant named by the User header.
func requester(r *http.Request) (string, error) {
	user := strings.TrimSpace(r.Header.Get("User"))
	if user == "" {
		return "", fmt.Errorf("%w: User header is required", chat.ErrInvalidInput)
	}
	return user, nil
}
