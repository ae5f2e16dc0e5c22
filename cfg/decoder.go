package cfg

import (
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// FormatOf 根据文件扩展名判断配置格式
func FormatOf(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	case ".toml":
		return "toml"
	case ".ini":
		return "ini"
	}
	return ""
}

// Decode 把配置内容解码为 Storage
func Decode(data []byte, format string) (*Storage, error) {
	var m map[string]any

	switch format {
	case "json":
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, errors.Wrap(err, "json.Unmarshal failed")
		}
	case "yaml":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, errors.Wrap(err, "yaml.Unmarshal failed")
		}
	case "toml":
		if err := toml.Unmarshal(data, &m); err != nil {
			return nil, errors.Wrap(err, "toml.Unmarshal failed")
		}
	case "ini":
		var err error
		if m, err = decodeIni(data); err != nil {
			return nil, err
		}
	default:
		return nil, errors.Errorf("unsupported config format %q", format)
	}

	if m == nil {
		m = map[string]any{}
	}
	return NewStorage(m), nil
}

// decodeIni section 映射为嵌套的 key，"db.pool" 这样的 section 会展开成多层
// 值保持字符串，绑定时再按字段类型转换
func decodeIni(data []byte) (map[string]any, error) {
	file, err := ini.LoadSources(ini.LoadOptions{
		AllowBooleanKeys:         true,
		SpaceBeforeInlineComment: true,
	}, data)
	if err != nil {
		return nil, errors.Wrap(err, "ini.LoadSources failed")
	}

	result := map[string]any{}
	for _, section := range file.Sections() {
		target := result
		if section.Name() != ini.DefaultSection {
			for _, part := range strings.Split(section.Name(), ".") {
				next, ok := target[part].(map[string]any)
				if !ok {
					next = map[string]any{}
					target[part] = next
				}
				target = next
			}
		}
		for _, key := range section.Keys() {
			target[key.Name()] = key.String()
		}
	}
	return result, nil
}
