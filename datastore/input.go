package datastore

import (
	"fmt"
	"reflect"

	"github.com/go-playground/validator/v10"

	"github.com/mmdatafocus/recipe_integrity/models"
	"github.com/mmdatafocus/recipe_integrity/utils"
)

var inputValidator = validator.New()

// InvalidInputError is returned by the Upsert methods when the input fails validation.
type InvalidInputError struct {
	Fields map[string]string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %v", e.Fields)
}

func (e *InvalidInputError) Is(target error) bool { return target == models.ErrInvalidDefinition }

func validateInput(input any) error {
	if err := inputValidator.Struct(input); err != nil {
		return &InvalidInputError{Fields: utils.ProcessValidationErrors(err)}
	}
	return nil
}

func isNilPointer(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}
