package cfg

import (
	"reflect"
	"time"

	"github.com/pkg/errors"
)

// SetDefaults 按 def 标签为零值字段填充默认值
// 嵌套结构体会递归处理，结构体指针为 nil 时先分配
func SetDefaults(object any) error {
	rv := reflect.ValueOf(object)
	if !rv.IsValid() || rv.Kind() != reflect.Ptr || rv.IsNil() {
		return errors.New("object must be a non-nil pointer")
	}
	return setDefaults(rv.Elem())
}

func setDefaults(rv reflect.Value) error {
	if rv.Kind() == reflect.Ptr {
		if rv.Type().Elem().Kind() != reflect.Struct {
			return nil
		}
		if rv.IsNil() {
			rv.Set(reflect.New(rv.Type().Elem()))
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct || rv.Type() == timeType {
		return nil
	}

	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		fv := rv.Field(i)
		if !fv.CanSet() {
			continue
		}

		if isNested(field.Type) {
			if err := setDefaults(fv); err != nil {
				return errors.WithMessagef(err, "field %s", field.Name)
			}
			continue
		}

		tag, ok := field.Tag.Lookup("def")
		if !ok || !fv.IsZero() {
			continue
		}
		if fv.Kind() == reflect.Ptr {
			fv.Set(reflect.New(fv.Type().Elem()))
			fv = fv.Elem()
		}
		if fv.Type() == timeType {
			t, err := time.Parse(time.RFC3339, tag)
			if err != nil {
				return errors.Wrapf(err, "field %s", field.Name)
			}
			fv.Set(reflect.ValueOf(t))
			continue
		}
		if err := setScalar(fv, tag); err != nil {
			return errors.WithMessagef(err, "field %s", field.Name)
		}
	}
	return nil
}

func isNested(t reflect.Type) bool {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct && t != timeType
}
