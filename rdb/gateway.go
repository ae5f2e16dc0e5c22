package rdb

import (
	"context"

	"github.com/pkg/errors"
)

// Gateway 对任意表的增删改查，事务由调用方通过 exec 传入
type Gateway interface {
	ListTables(ctx context.Context, exec Executor) ([]string, error)
	List(ctx context.Context, exec Executor, table string) ([]Row, error)
	Get(ctx context.Context, exec Executor, table string, id int64) (Row, error)
	Insert(ctx context.Context, exec Executor, table string, payload Payload) (Row, error)
	Update(ctx context.Context, exec Executor, table string, id int64, payload Payload) (Row, error)
	Delete(ctx context.Context, exec Executor, table string, id int64) error
	CreateTable(ctx context.Context, exec Executor, table string, columns []ColumnDef) error
}

// DynamicGateway 运行时按目录信息拼 SQL 的 Gateway 实现
type DynamicGateway struct {
	dialect      Dialect
	introspector *Introspector
}

func NewGateway(dialect Dialect) *DynamicGateway {
	return &DynamicGateway{
		dialect:      dialect,
		introspector: NewIntrospector(dialect),
	}
}

func (g *DynamicGateway) ListTables(ctx context.Context, exec Executor) ([]string, error) {
	return g.introspector.ListTables(ctx, exec)
}

func (g *DynamicGateway) List(ctx context.Context, exec Executor, table string) ([]Row, error) {
	t, err := ValidateTable(table)
	if err != nil {
		return nil, err
	}
	rows, err := queryRows(ctx, exec, BuildSelectAll(g.dialect, t), SelectLimit)
	if err != nil {
		return nil, err
	}
	return SerializeAll(rows), nil
}

func (g *DynamicGateway) Get(ctx context.Context, exec Executor, table string, id int64) (Row, error) {
	t, pk, err := g.tableWithKey(ctx, exec, table)
	if err != nil {
		return Row{}, err
	}

	row, ok, err := queryRow(ctx, exec, BuildSelectByKey(g.dialect, t, pk, id))
	if err != nil {
		return Row{}, err
	}
	if !ok {
		return Row{}, ErrNotFound
	}
	return Serialize(row), nil
}

// Insert 丢弃不可插入的列，返回插入后的完整行
func (g *DynamicGateway) Insert(ctx context.Context, exec Executor, table string, payload Payload) (Row, error) {
	t, err := ValidateTable(table)
	if err != nil {
		return Row{}, err
	}

	columns, err := g.introspector.InsertableColumns(ctx, exec, t)
	if err != nil {
		return Row{}, err
	}
	stmt, err := BuildInsert(g.dialect, t, columns, payload)
	if err != nil {
		return Row{}, err
	}

	if g.dialect.Returning() {
		row, ok, err := queryRow(ctx, exec, stmt)
		if err != nil {
			return Row{}, err
		}
		if !ok {
			return Row{}, errors.Errorf("insert into %s returned no row", t)
		}
		return Serialize(row), nil
	}

	res, err := execStatement(ctx, exec, stmt)
	if err != nil {
		return Row{}, err
	}

	inserted := sanitized(payload, columns)
	pk, ok, err := g.introspector.PrimaryKey(ctx, exec, t)
	if err != nil || !ok {
		return Serialize(inserted), err
	}
	key, ok := inserted.Get(pk)
	if !ok {
		id, err := res.LastInsertId()
		if err != nil {
			return Serialize(inserted), nil
		}
		key = id
	}
	row, ok, err := queryRow(ctx, exec, BuildSelectByKey(g.dialect, t, pk, key))
	if err != nil {
		return Row{}, err
	}
	if !ok {
		return Serialize(inserted), nil
	}
	return Serialize(row), nil
}

func (g *DynamicGateway) Update(ctx context.Context, exec Executor, table string, id int64, payload Payload) (Row, error) {
	t, pk, err := g.tableWithKey(ctx, exec, table)
	if err != nil {
		return Row{}, err
	}

	stmt, err := BuildUpdate(g.dialect, t, pk, id, payload)
	if err != nil {
		return Row{}, err
	}

	if g.dialect.Returning() {
		row, ok, err := queryRow(ctx, exec, stmt)
		if err != nil {
			return Row{}, err
		}
		if !ok {
			return Row{}, ErrNotFound
		}
		return Serialize(row), nil
	}

	res, err := execStatement(ctx, exec, stmt)
	if err != nil {
		return Row{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Row{}, NewDatabaseError(err)
	}
	if n == 0 {
		return Row{}, ErrNotFound
	}

	// 主键本身被修改时按新值回读
	var key any = id
	if v, ok := payload.Get(pk); ok {
		key = v
	}
	row, ok, err := queryRow(ctx, exec, BuildSelectByKey(g.dialect, t, pk, key))
	if err != nil {
		return Row{}, err
	}
	if !ok {
		return Row{}, ErrNotFound
	}
	return Serialize(row), nil
}

func (g *DynamicGateway) Delete(ctx context.Context, exec Executor, table string, id int64) error {
	t, pk, err := g.tableWithKey(ctx, exec, table)
	if err != nil {
		return err
	}

	res, err := execStatement(ctx, exec, BuildDelete(g.dialect, t, pk, id))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return NewDatabaseError(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *DynamicGateway) CreateTable(ctx context.Context, exec Executor, table string, columns []ColumnDef) error {
	t, err := ValidateTable(table)
	if err != nil {
		return err
	}
	stmt, err := BuildCreateTable(g.dialect, t, columns)
	if err != nil {
		return err
	}
	_, err = execStatement(ctx, exec, stmt)
	return err
}

// tableWithKey 校验表名并查出主键，表不存在时同样得到 ErrNoPrimaryKey
func (g *DynamicGateway) tableWithKey(ctx context.Context, exec Executor, table string) (Identifier, string, error) {
	t, err := ValidateTable(table)
	if err != nil {
		return "", "", err
	}
	pk, ok, err := g.introspector.PrimaryKey(ctx, exec, t)
	if err != nil {
		return "", "", err
	}
	if !ok {
		return "", "", errors.Wrapf(ErrNoPrimaryKey, "table '%s'", t)
	}
	return t, pk, nil
}

func sanitized(payload Payload, columns ColumnSet) Row {
	var row Row
	for i, col := range payload.Columns {
		if columns.Contains(col) {
			row.Set(col, payload.Values[i])
		}
	}
	return row
}
