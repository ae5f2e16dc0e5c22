package ref

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/pkg/errors"
)

// TypeOptions 描述一个通过注册表创建的对象
// Namespace + Type 定位构造函数，Options 作为构造参数传入
type TypeOptions struct {
	Namespace string `cfg:"namespace"`
	Type      string `cfg:"type"`
	Options   any    `cfg:"options"`
}

// Convertable 配置数据可以自行转换为构造函数需要的参数类型
// cfg.Storage 实现了该接口，所以配置文件中的子树可以直接作为 Options
type Convertable interface {
	ConvertTo(object any) error
}

type constructor struct {
	fn           reflect.Value
	hasOptions   bool
	returnsError bool
}

var registry sync.Map

var errorType = reflect.TypeOf((*error)(nil)).Elem()

func newConstructor(fn any) (*constructor, error) {
	fv := reflect.ValueOf(fn)
	if fv.Kind() != reflect.Func {
		return nil, errors.Errorf("constructor must be a function, got %T", fn)
	}

	ft := fv.Type()
	if ft.NumIn() > 1 {
		return nil, errors.Errorf("constructor must take 0 or 1 parameters, got %d", ft.NumIn())
	}
	if ft.NumOut() != 1 && ft.NumOut() != 2 {
		return nil, errors.Errorf("constructor must return 1 or 2 values, got %d", ft.NumOut())
	}
	if ft.NumOut() == 2 && !ft.Out(1).Implements(errorType) {
		return nil, errors.New("second return value of constructor must be an error")
	}

	return &constructor{
		fn:           fv,
		hasOptions:   ft.NumIn() == 1,
		returnsError: ft.NumOut() == 2,
	}, nil
}

// Register 注册构造函数，同一个 key 重复注册同一个函数是幂等的
func Register(namespace string, typ string, fn any) error {
	key := namespace + ":" + typ

	c, err := newConstructor(fn)
	if err != nil {
		return errors.WithMessagef(err, "register %s", key)
	}

	if old, loaded := registry.LoadOrStore(key, c); loaded {
		if old.(*constructor).fn.Pointer() != c.fn.Pointer() {
			return errors.Errorf("constructor for %s already registered with a different function", key)
		}
	}
	return nil
}

func MustRegister(namespace string, typ string, fn any) {
	if err := Register(namespace, typ, fn); err != nil {
		panic(err)
	}
}

// New 根据 namespace 和 type 创建对象
func New(namespace string, typ string, options any) (any, error) {
	key := namespace + ":" + typ
	v, ok := registry.Load(key)
	if !ok {
		return nil, errors.Errorf("constructor not found for %s", key)
	}
	return v.(*constructor).call(options)
}

// NewWithOptions 是 New 的 TypeOptions 版本
func NewWithOptions(options *TypeOptions) (any, error) {
	if options == nil {
		return nil, errors.New("type options cannot be nil")
	}
	return New(options.Namespace, options.Type, options.Options)
}

func (c *constructor) call(options any) (any, error) {
	var args []reflect.Value
	if c.hasOptions {
		arg, err := c.convertOptions(options)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}

	out := c.fn.Call(args)
	if c.returnsError && !out[1].IsNil() {
		return nil, out[1].Interface().(error)
	}
	return out[0].Interface(), nil
}

// convertOptions 把传入的 options 转成构造函数的参数类型
// nil 会被转换为参数类型的零值（指针参数则为新分配的零值对象）
func (c *constructor) convertOptions(options any) (reflect.Value, error) {
	paramType := c.fn.Type().In(0)

	if conv, ok := options.(Convertable); ok {
		target := newTarget(paramType)
		if err := conv.ConvertTo(target.Interface()); err != nil {
			return reflect.Value{}, errors.WithMessagef(err, "convert options to %v", paramType)
		}
		return derefIfNeeded(target, paramType), nil
	}

	if options == nil {
		return derefIfNeeded(newTarget(paramType), paramType), nil
	}

	ov := reflect.ValueOf(options)
	if ov.Type().AssignableTo(paramType) {
		return ov, nil
	}
	if ov.Kind() == reflect.Ptr && ov.Elem().Type().AssignableTo(paramType) {
		return ov.Elem(), nil
	}
	if paramType.Kind() == reflect.Ptr && ov.Type().AssignableTo(paramType.Elem()) {
		p := reflect.New(paramType.Elem())
		p.Elem().Set(ov)
		return p, nil
	}

	return reflect.Value{}, fmt.Errorf("options of type %T cannot be used as %v", options, paramType)
}

func newTarget(paramType reflect.Type) reflect.Value {
	if paramType.Kind() == reflect.Ptr {
		return reflect.New(paramType.Elem())
	}
	return reflect.New(paramType)
}

func derefIfNeeded(target reflect.Value, paramType reflect.Type) reflect.Value {
	if paramType.Kind() == reflect.Ptr {
		return target
	}
	return target.Elem()
}
