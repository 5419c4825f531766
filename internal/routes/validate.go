package routes

import (
	"context"
	"errors"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/traffic-tacos/todo-api/internal/auth"
	"github.com/traffic-tacos/todo-api/internal/store"
	apperrors "github.com/traffic-tacos/todo-api/pkg/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their JSON names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// bindAndValidate parses the body into dst (400 when unparsable) and checks its tags (422)
func bindAndValidate(c *fiber.Ctx, dst interface{}) error {
	if err := c.BodyParser(dst); err != nil {
		return apperrors.NewAppError(apperrors.CodeBadRequest, "Invalid request body", err)
	}
	return validateStruct(dst)
}

func validateStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperrors.NewAppError(apperrors.CodeBadRequest, "Invalid request body", err)
	}

	details := make([]apperrors.FieldError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		details = append(details, apperrors.FieldError{
			Field: fe.Field(),
			Rule:  fe.Tag(),
			Param: fe.Param(),
		})
	}
	return apperrors.NewValidationError(details)
}

// pathID reads a positive integer path parameter
func pathID(c *fiber.Ctx, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.NewValidationError([]apperrors.FieldError{{Field: name, Rule: "gt", Param: "0"}})
	}
	return id, nil
}

// storeError maps a storage failure to the API error taxonomy
func storeError(err error, resource string) error {
	switch {
	case store.IsNotFound(err):
		return apperrors.NotFound(resource)
	case store.IsConflict(err):
		return apperrors.NewAppErrorf(apperrors.CodeConflict, err, "%s already exists", resource)
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.NewAppError(apperrors.CodeUpstreamTimeout, "Storage did not respond in time", err)
	case errors.Is(err, auth.ErrPasswordTooLong):
		return apperrors.NewValidationError([]apperrors.FieldError{{Field: "password", Rule: "max", Param: "72"}})
	default:
		return apperrors.NewAppError(apperrors.CodeUpstreamUnavailable, "Storage is unavailable", err)
	}
}
