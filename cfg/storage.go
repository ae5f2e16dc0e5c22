package cfg

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/pkg/errors"
)

// Storage 保存解码后的配置树（map[string]any / []any / 标量）
// 实现了 ref.Convertable，可以直接作为 ref.TypeOptions.Options 使用
type Storage struct {
	data any
}

func NewStorage(data any) *Storage {
	return &Storage{data: normalize(data)}
}

func (s *Storage) Data() any {
	if s == nil {
		return nil
	}
	return s.data
}

// Sub 按 "a.b.c" 路径取子树，key 不区分大小写，取不到时返回空的 Storage
func (s *Storage) Sub(key string) *Storage {
	if s == nil {
		return &Storage{}
	}
	if key == "" {
		return s
	}

	cur := s.data
	for _, part := range strings.Split(key, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return &Storage{}
		}
		v, ok := lookup(m, part)
		if !ok {
			return &Storage{}
		}
		cur = v
	}
	return &Storage{data: cur}
}

// ConvertTo 依次填充默认值、绑定配置、校验
func (s *Storage) ConvertTo(object any) error {
	rv := reflect.ValueOf(object)
	if !rv.IsValid() || rv.Kind() != reflect.Ptr || rv.IsNil() {
		return errors.Errorf("object must be a non-nil pointer, got %T", object)
	}

	if err := SetDefaults(object); err != nil {
		return errors.WithMessage(err, "set defaults")
	}
	if s != nil && s.data != nil {
		if err := bind(rv.Elem(), s.data, false); err != nil {
			return errors.WithMessage(err, "bind")
		}
	}
	if err := Validate(object); err != nil {
		return errors.WithMessage(err, "validate")
	}
	return nil
}

func lookup(m map[string]any, key string) (any, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

// normalize 把各解码器的输出统一成 map[string]any 和 []any
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = normalize(item)
		}
		return t
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, item := range t {
			m[toString(k)] = normalize(item)
		}
		return m
	case []any:
		for i, item := range t {
			t[i] = normalize(item)
		}
		return t
	case []map[string]any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = normalize(item)
		}
		return out
	}
	return v
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
