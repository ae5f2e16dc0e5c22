package rdb

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// Row 有序的列名到值的映射
type Row struct {
	Columns []string
	Values  []any
}

func (r Row) Len() int {
	return len(r.Columns)
}

func (r Row) Get(column string) (any, bool) {
	for i, c := range r.Columns {
		if c == column {
			return r.Values[i], true
		}
	}
	return nil, false
}

// Set 已存在的列覆盖值，否则追加在末尾
func (r *Row) Set(column string, value any) {
	for i, c := range r.Columns {
		if c == column {
			r.Values[i] = value
			return
		}
	}
	r.Columns = append(r.Columns, column)
	r.Values = append(r.Values, value)
}

// Map 丢掉顺序，方便测试比较
func (r Row) Map() map[string]any {
	m := make(map[string]any, len(r.Columns))
	for i, c := range r.Columns {
		m[c] = r.Values[i]
	}
	return m
}

// MarshalJSON 按列顺序输出 JSON 对象
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r.Columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(r.Values[i])
		if err != nil {
			return nil, errors.Wrapf(err, "marshal column %s", c)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Payload 请求体解出来的行数据，保留 key 的顺序
type Payload struct {
	Row
}

// NewPayload 按 key, value, key, value... 构造
func NewPayload(kvs ...any) Payload {
	var p Payload
	for i := 0; i+1 < len(kvs); i += 2 {
		p.Set(kvs[i].(string), kvs[i+1])
	}
	return p
}

// DecodePayload 从请求体读取 JSON 对象
// 数字解成 int64 或 float64，嵌套的对象和数组保留为 JSON 文本
func DecodePayload(r io.Reader) (Payload, error) {
	var p Payload
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return p, errors.Wrap(ErrInvalidPayload, err.Error())
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return p, ErrInvalidPayload
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return p, errors.Wrap(ErrInvalidPayload, err.Error())
		}
		key := tok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return p, errors.Wrap(ErrInvalidPayload, err.Error())
		}
		value, err := decodeValue(raw)
		if err != nil {
			return p, errors.Wrap(ErrInvalidPayload, err.Error())
		}
		p.Set(key, value)
	}

	if _, err := dec.Token(); err != nil {
		return p, errors.Wrap(ErrInvalidPayload, err.Error())
	}
	if _, err := dec.Token(); err != io.EOF {
		return p, errors.Wrap(ErrInvalidPayload, "unexpected data after JSON object")
	}
	return p, nil
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	decoded, err := DecodePayload(bytes.NewReader(data))
	if err != nil {
		return err
	}
	*p = decoded
	return nil
}

func decodeValue(raw json.RawMessage) (any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && (raw[0] == '{' || raw[0] == '[') {
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return nil, err
		}
		return buf.String(), nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		return n.Float64()
	}
	return v, nil
}
