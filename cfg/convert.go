package cfg

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var (
	durationType = reflect.TypeOf(time.Duration(0))
	timeType     = reflect.TypeOf(time.Time{})
)

// setScalar 把字符串形式的值写入字段，def 标签和环境变量都走这里
func setScalar(dst reflect.Value, s string) error {
	if dst.Type() == durationType {
		d, err := time.ParseDuration(s)
		if err != nil {
			n, nerr := strconv.ParseInt(s, 10, 64)
			if nerr != nil {
				return errors.Wrapf(err, "invalid duration %q", s)
			}
			d = time.Duration(n)
		}
		dst.SetInt(int64(d))
		return nil
	}

	switch dst.Kind() {
	case reflect.String:
		dst.SetString(s)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return errors.Wrapf(err, "invalid bool %q", s)
		}
		dst.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 0, dst.Type().Bits())
		if err != nil {
			return errors.Wrapf(err, "invalid int %q", s)
		}
		dst.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 0, dst.Type().Bits())
		if err != nil {
			return errors.Wrapf(err, "invalid uint %q", s)
		}
		dst.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, dst.Type().Bits())
		if err != nil {
			return errors.Wrapf(err, "invalid float %q", s)
		}
		dst.SetFloat(f)
	case reflect.Slice:
		ek := dst.Type().Elem().Kind()
		if ek == reflect.Ptr || ek == reflect.Struct || ek == reflect.Map || ek == reflect.Slice {
			return errors.Errorf("cannot set %v from %q", dst.Type(), s)
		}
		parts := strings.Split(s, ",")
		out := reflect.MakeSlice(dst.Type(), 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			elem := reflect.New(dst.Type().Elem()).Elem()
			if err := setScalar(elem, p); err != nil {
				return err
			}
			out = reflect.Append(out, elem)
		}
		dst.Set(out)
	case reflect.Interface:
		dst.Set(reflect.ValueOf(s))
	default:
		return errors.Errorf("unsupported type %v", dst.Type())
	}
	return nil
}

// bind 把解码后的配置树写入 dst
// struct 字段按 cfg 标签匹配（不区分大小写），没有标签时使用字段名
// 声明为 any 的 struct 字段会得到一个 *Storage，交给 ref 按构造函数的参数类型再转换
func bind(dst reflect.Value, src any, fieldIsAny bool) error {
	if src == nil {
		return nil
	}

	if dst.Kind() == reflect.Ptr {
		if dst.IsNil() {
			dst.Set(reflect.New(dst.Type().Elem()))
		}
		return bind(dst.Elem(), src, false)
	}

	if dst.Kind() == reflect.Interface {
		if fieldIsAny {
			dst.Set(reflect.ValueOf(NewStorage(src)))
		} else {
			dst.Set(reflect.ValueOf(src))
		}
		return nil
	}

	if dst.Type() == durationType || dst.Type() == timeType {
		return bindScalar(dst, src)
	}

	switch dst.Kind() {
	case reflect.Struct:
		m, ok := src.(map[string]any)
		if !ok {
			return errors.Errorf("expected a map for %v, got %T", dst.Type(), src)
		}
		return bindStruct(dst, m)
	case reflect.Map:
		m, ok := src.(map[string]any)
		if !ok {
			return errors.Errorf("expected a map for %v, got %T", dst.Type(), src)
		}
		if dst.Type().Key().Kind() != reflect.String {
			return errors.Errorf("map key of %v must be string", dst.Type())
		}
		if dst.IsNil() {
			dst.Set(reflect.MakeMapWithSize(dst.Type(), len(m)))
		}
		for k, v := range m {
			elem := reflect.New(dst.Type().Elem()).Elem()
			if err := bind(elem, v, false); err != nil {
				return errors.WithMessagef(err, "key %s", k)
			}
			dst.SetMapIndex(reflect.ValueOf(k).Convert(dst.Type().Key()), elem)
		}
		return nil
	case reflect.Slice:
		switch v := src.(type) {
		case []any:
			out := reflect.MakeSlice(dst.Type(), len(v), len(v))
			for i, item := range v {
				if err := bind(out.Index(i), item, false); err != nil {
					return errors.WithMessagef(err, "index %d", i)
				}
			}
			dst.Set(out)
			return nil
		case string:
			return setScalar(dst, v)
		}
		return errors.Errorf("expected a list for %v, got %T", dst.Type(), src)
	}

	return bindScalar(dst, src)
}

func bindStruct(dst reflect.Value, m map[string]any) error {
	lower := make(map[string]any, len(m))
	for k, v := range m {
		lower[strings.ToLower(k)] = v
	}

	t := dst.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name := fieldKey(field)
		if name == "-" {
			continue
		}
		v, ok := lower[strings.ToLower(name)]
		if !ok {
			continue
		}
		if err := bind(dst.Field(i), v, field.Type.Kind() == reflect.Interface); err != nil {
			return errors.WithMessagef(err, "field %s", name)
		}
	}
	return nil
}

func bindScalar(dst reflect.Value, src any) error {
	switch v := src.(type) {
	case string:
		return setScalar(dst, v)
	case bool:
		if dst.Kind() == reflect.Bool {
			dst.SetBool(v)
			return nil
		}
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		sv := reflect.ValueOf(v)
		switch dst.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
			reflect.Float32, reflect.Float64:
			dst.Set(sv.Convert(dst.Type()))
			return nil
		case reflect.String:
			dst.SetString(fmt.Sprint(v))
			return nil
		}
	case time.Time:
		if dst.Type() == timeType {
			dst.Set(reflect.ValueOf(v))
			return nil
		}
	}
	return errors.Errorf("cannot assign %T to %v", src, dst.Type())
}

func fieldKey(field reflect.StructField) string {
	tag := field.Tag.Get("cfg")
	if tag == "" {
		return field.Name
	}
	if idx := strings.Index(tag, ","); idx >= 0 {
		tag = tag[:idx]
	}
	return tag
}
