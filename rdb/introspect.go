package rdb

import (
	"context"

	"github.com/pkg/errors"
)

// Introspector 运行时查询目录表，每次都查，不做缓存
type Introspector struct {
	dialect Dialect
}

func NewIntrospector(dialect Dialect) *Introspector {
	return &Introspector{dialect: dialect}
}

// PrimaryKey 返回表的主键列，没有主键和表不存在都返回 ok=false
// 复合主键只返回第一列
func (i *Introspector) PrimaryKey(ctx context.Context, exec Executor, table Identifier) (string, bool, error) {
	names, err := queryStrings(ctx, exec, i.dialect.PrimaryKeyQuery(table))
	if err != nil {
		return "", false, errors.WithMessagef(err, "primary key of %s", table)
	}
	if len(names) == 0 {
		return "", false, nil
	}
	return names[0], true, nil
}

// InsertableColumns 按定义顺序返回可以插入的列，排除自增和生成列
func (i *Introspector) InsertableColumns(ctx context.Context, exec Executor, table Identifier) (ColumnSet, error) {
	names, err := queryStrings(ctx, exec, i.dialect.ColumnsQuery(table))
	if err != nil {
		return nil, errors.WithMessagef(err, "columns of %s", table)
	}

	seen := make(map[string]struct{}, len(names))
	columns := make(ColumnSet, 0, len(names))
	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		columns = append(columns, name)
	}
	return columns, nil
}

// ListTables 按字母序返回所有基础表
func (i *Introspector) ListTables(ctx context.Context, exec Executor) ([]string, error) {
	names, err := queryStrings(ctx, exec, i.dialect.TablesQuery())
	if err != nil {
		return nil, errors.WithMessage(err, "list tables")
	}
	return names, nil
}
