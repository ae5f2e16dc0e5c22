package cfg

import (
	"reflect"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validate 按 validate 标签校验结构体，非结构体直接通过
func Validate(object any) error {
	rv := reflect.ValueOf(object)
	for rv.IsValid() && rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() || rv.Kind() != reflect.Struct || rv.Type() == timeType {
		return nil
	}

	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			return fieldKey(field)
		})
	})

	if err := validate.Struct(rv.Interface()); err != nil {
		return errors.Wrap(err, "validate.Struct failed")
	}
	return nil
}
