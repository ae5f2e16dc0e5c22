package rdb

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// SelectLimit GET /table/{table} 返回的最大行数
const SelectLimit = 100

// Statement 使用 :name 命名参数的 SQL，执行时按驱动改写占位符
// 值参数命名为 v0..vN，主键参数为 pk / id，不会和列名冲突
type Statement struct {
	SQL    string
	Params map[string]any
}

// ColumnSet 有序、去重的列名
type ColumnSet []string

func (c ColumnSet) Contains(name string) bool {
	for _, col := range c {
		if col == name {
			return true
		}
	}
	return false
}

// ColumnDef 建表时的列定义
type ColumnDef struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	PrimaryKey bool   `json:"primary_key"`
}

// VARCHAR(255), NUMERIC(10,2), TIMESTAMP WITH TIME ZONE, TEXT[]
var columnTypeRegexp = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_ ]*(\(\s*\d+\s*(,\s*\d+\s*)?\))?(\[\])?$`)

func returning(d Dialect) string {
	if d.Returning() {
		return " RETURNING *"
	}
	return ""
}

// BuildInsert 只保留 payload 中属于 insertable 的列，顺序跟随 payload
func BuildInsert(d Dialect, table Identifier, insertable ColumnSet, payload Payload) (Statement, error) {
	var cols []string
	var placeholders []string
	params := map[string]any{}

	for i, col := range payload.Columns {
		if !insertable.Contains(col) {
			continue
		}
		name := fmt.Sprintf("v%d", len(cols))
		cols = append(cols, col)
		placeholders = append(placeholders, ":"+name)
		params[name] = payload.Values[i]
	}

	if len(cols) == 0 {
		return Statement{}, errors.Wrapf(ErrNoValidColumns, "table '%s'", table)
	}

	return Statement{
		SQL: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)%s",
			d.Qualify(table), strings.Join(cols, ", "), strings.Join(placeholders, ", "), returning(d)),
		Params: params,
	}, nil
}

// BuildUpdate payload 的每个 key 都会出现在 SET 中，不认识的列交给数据库报错
func BuildUpdate(d Dialect, table Identifier, pkColumn string, pkValue any, payload Payload) (Statement, error) {
	if payload.Len() == 0 {
		return Statement{}, ErrEmptyPayload
	}

	sets := make([]string, 0, payload.Len())
	params := make(map[string]any, payload.Len()+1)
	for i, col := range payload.Columns {
		if err := ValidateColumn(col); err != nil {
			return Statement{}, err
		}
		name := fmt.Sprintf("v%d", i)
		sets = append(sets, fmt.Sprintf("%s = :%s", col, name))
		params[name] = payload.Values[i]
	}
	params["pk"] = pkValue

	return Statement{
		SQL: fmt.Sprintf("UPDATE %s SET %s WHERE %s = :pk%s",
			d.Qualify(table), strings.Join(sets, ", "), pkColumn, returning(d)),
		Params: params,
	}, nil
}

func BuildDelete(d Dialect, table Identifier, pkColumn string, pkValue any) Statement {
	return Statement{
		SQL:    fmt.Sprintf("DELETE FROM %s WHERE %s = :pk", d.Qualify(table), pkColumn),
		Params: map[string]any{"pk": pkValue},
	}
}

func BuildSelectAll(d Dialect, table Identifier) Statement {
	return Statement{
		SQL: fmt.Sprintf("SELECT * FROM %s LIMIT %d", d.Qualify(table), SelectLimit),
	}
}

func BuildSelectByKey(d Dialect, table Identifier, pkColumn string, id any) Statement {
	return Statement{
		SQL:    fmt.Sprintf("SELECT * FROM %s WHERE %s = :id", d.Qualify(table), pkColumn),
		Params: map[string]any{"id": id},
	}
}

// BuildCreateTable 列名走完整的表名校验，类型只允许简单的类型写法
func BuildCreateTable(d Dialect, table Identifier, columns []ColumnDef) (Statement, error) {
	if len(columns) == 0 {
		return Statement{}, errors.Wrapf(ErrNoValidColumns, "table '%s'", table)
	}

	defs := make([]string, 0, len(columns))
	for _, c := range columns {
		if _, err := ValidateTable(c.Name); err != nil {
			return Statement{}, errors.WithMessage(err, "column")
		}
		typ := strings.TrimSpace(c.Type)
		if !columnTypeRegexp.MatchString(typ) {
			return Statement{}, errors.Wrapf(ErrInvalidColumnType, "column %s: %q", c.Name, c.Type)
		}
		def := c.Name + " " + typ
		if c.PrimaryKey {
			def += " PRIMARY KEY"
		}
		defs = append(defs, def)
	}

	return Statement{
		SQL: fmt.Sprintf("CREATE TABLE %s (%s)", d.Qualify(table), strings.Join(defs, ", ")),
	}, nil
}
