package cfg

import (
	"reflect"
	"strings"

	"github.com/pkg/errors"
)

// EnvName 返回字段路径对应的环境变量名，如 prefix=APP, path=[db user] -> APP_DB_USER
func EnvName(prefix string, path ...string) string {
	parts := make([]string, 0, len(path)+1)
	if prefix != "" {
		parts = append(parts, prefix)
	}
	parts = append(parts, path...)
	return strings.ToUpper(strings.Join(parts, "_"))
}

func parseEnviron(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if idx := strings.Index(kv, "="); idx > 0 {
			env[kv[:idx]] = kv[idx+1:]
		}
	}
	return env
}

// applyEnv 用环境变量覆盖结构体中的标量字段
// 只覆盖在环境中出现的变量，结构体指针仅在其子字段命中时分配
func applyEnv(rv reflect.Value, env map[string]string, prefix string, path []string) (bool, error) {
	if rv.Kind() == reflect.Ptr {
		if rv.Type().Elem().Kind() != reflect.Struct {
			return setEnvScalar(rv, env, prefix, path)
		}
		target := rv
		if rv.IsNil() {
			target = reflect.New(rv.Type().Elem())
		}
		hit, err := applyEnv(target.Elem(), env, prefix, path)
		if err != nil {
			return false, err
		}
		if hit && rv.IsNil() {
			rv.Set(target)
		}
		return hit, nil
	}

	if rv.Kind() != reflect.Struct || rv.Type() == timeType {
		return setEnvScalar(rv, env, prefix, path)
	}

	hit := false
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		key := fieldKey(field)
		if key == "-" {
			continue
		}
		switch field.Type.Kind() {
		case reflect.Interface, reflect.Map:
			continue
		}
		ok, err := applyEnv(rv.Field(i), env, prefix, append(path[:len(path):len(path)], key))
		if err != nil {
			return false, errors.WithMessagef(err, "field %s", field.Name)
		}
		hit = hit || ok
	}
	return hit, nil
}

func setEnvScalar(rv reflect.Value, env map[string]string, prefix string, path []string) (bool, error) {
	name := EnvName(prefix, path...)
	val, ok := env[name]
	if !ok {
		return false, nil
	}
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			rv.Set(reflect.New(rv.Type().Elem()))
		}
		rv = rv.Elem()
	}
	if err := bindScalar(rv, val); err != nil {
		return false, errors.WithMessagef(err, "env %s", name)
	}
	return true, nil
}
