package cfg

import (
	"os"
	"reflect"

	"github.com/pkg/errors"
)

type loadOptions struct {
	file      string
	format    string
	envPrefix string
	environ   []string
	useEnv    bool
}

type Option func(*loadOptions)

// WithFile 从文件加载，格式由扩展名决定
func WithFile(filename string) Option {
	return func(o *loadOptions) {
		o.file = filename
	}
}

// WithFormat 显式指定文件格式，覆盖扩展名判断
func WithFormat(format string) Option {
	return func(o *loadOptions) {
		o.format = format
	}
}

func WithEnvPrefix(prefix string) Option {
	return func(o *loadOptions) {
		o.envPrefix = prefix
	}
}

// WithEnviron 替换 os.Environ()，主要用于测试
func WithEnviron(environ []string) Option {
	return func(o *loadOptions) {
		o.environ = environ
	}
}

// WithoutEnv 不读取环境变量
func WithoutEnv() Option {
	return func(o *loadOptions) {
		o.useEnv = false
	}
}

// Load 加载配置到 object，优先级：def 默认值 < 配置文件 < 环境变量，最后校验
func Load(object any, opts ...Option) error {
	options := &loadOptions{useEnv: true}
	for _, opt := range opts {
		opt(options)
	}

	rv := reflect.ValueOf(object)
	if !rv.IsValid() || rv.Kind() != reflect.Ptr || rv.IsNil() {
		return errors.Errorf("object must be a non-nil pointer, got %T", object)
	}

	if err := SetDefaults(object); err != nil {
		return errors.WithMessage(err, "set defaults")
	}

	if options.file != "" {
		storage, err := LoadFile(options.file, options.format)
		if err != nil {
			return err
		}
		if err := bind(rv.Elem(), storage.Data(), false); err != nil {
			return errors.WithMessagef(err, "bind %s", options.file)
		}
	}

	if options.useEnv {
		environ := options.environ
		if environ == nil {
			environ = os.Environ()
		}
		if _, err := applyEnv(rv.Elem(), parseEnviron(environ), options.envPrefix, nil); err != nil {
			return errors.WithMessage(err, "apply env")
		}
	}

	if err := Validate(object); err != nil {
		return err
	}
	return nil
}

// LoadFile 读取并解码配置文件
func LoadFile(filename string, format string) (*Storage, error) {
	if format == "" {
		format = FormatOf(filename)
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "os.ReadFile failed, filename: %s", filename)
	}
	storage, err := Decode(data, format)
	if err != nil {
		return nil, errors.WithMessagef(err, "decode %s", filename)
	}
	return storage, nil
}
