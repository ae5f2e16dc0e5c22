package rdb

import (
	"encoding/base64"
)

// Serialize 二进制列转成标准 base64 文本，其余值原样保留
func Serialize(row Row) Row {
	out := Row{
		Columns: append([]string(nil), row.Columns...),
		Values:  make([]any, len(row.Values)),
	}
	for i, v := range row.Values {
		if b, ok := v.([]byte); ok {
			out.Values[i] = base64.StdEncoding.EncodeToString(b)
			continue
		}
		out.Values[i] = v
	}
	return out
}

func SerializeAll(rows []Row) []Row {
	out := make([]Row, len(rows))
	for i, row := range rows {
		out[i] = Serialize(row)
	}
	return out
}
