package handler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/FACorreiaa/finance-import/internal/domain/import/model"
)

var errInvalidRequest = errors.New("invalid request")

func newValidator() *validator.Validate {
	v := validator.New()

	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = v.RegisterValidation("txtype", func(fl validator.FieldLevel) bool {
		_, ok := model.ParseTransactionType(fl.Field().String())
		return ok
	})
	return v
}

func (h *ImportHandler) validateStruct(v any) error {
	err := h.validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, fieldErrorToString(e))
	}
	return fmt.Errorf("%w: %s", errInvalidRequest, strings.Join(msgs, "; "))
}

func fieldErrorToString(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", e.Field())
	case "notblank":
		return fmt.Sprintf("%s must not be blank", e.Field())
	case "txtype":
		return fmt.Sprintf("%s must be deposit, withdrawal, transfer or a known alias", e.Field())
	case "gt", "gte":
		return fmt.Sprintf("%s must be positive", e.Field())
	default:
		return fmt.Sprintf("%s is invalid", e.Field())
	}
}
