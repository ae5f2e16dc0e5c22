package rdb

import (
	"github.com/hatlonely/crudgw/ref"
	"github.com/pkg/errors"
)

// DialectNamespace 方言在 ref 注册表中的命名空间
const DialectNamespace = "github.com/hatlonely/crudgw/rdb/dialect"

func init() {
	ref.MustRegister(DialectNamespace, "postgres", NewPostgresDialect)
	ref.MustRegister(DialectNamespace, "mysql", NewMySQLDialect)
	ref.MustRegister(DialectNamespace, "sqlite3", NewSQLiteDialect)
}

// Dialect 屏蔽各数据库在目录查询和语法上的差异
// 目录查询使用 :table 命名参数
type Dialect interface {
	Name() string
	// Qualify 返回拼进 SQL 的表名
	Qualify(table Identifier) string
	// Returning 是否支持 INSERT/UPDATE ... RETURNING *
	Returning() bool

	PrimaryKeyQuery(table Identifier) Statement
	ColumnsQuery(table Identifier) Statement
	TablesQuery() Statement
}

// DialectForDriver 按 database/sql 驱动名选择方言
func DialectForDriver(driver string) (Dialect, error) {
	name := driver
	switch driver {
	case "pgx", "postgres":
		name = "postgres"
	}
	obj, err := ref.New(DialectNamespace, name, nil)
	if err != nil {
		return nil, errors.WithMessagef(err, "no dialect for driver %s", driver)
	}
	return obj.(Dialect), nil
}

type PostgresDialect struct{}

func NewPostgresDialect() *PostgresDialect {
	return &PostgresDialect{}
}

func (d *PostgresDialect) Name() string {
	return "postgres"
}

func (d *PostgresDialect) Qualify(table Identifier) string {
	return "public." + string(table)
}

func (d *PostgresDialect) Returning() bool {
	return true
}

// 和其他语句一样限定在 public 下，不走 search_path
// 表不存在时 to_regclass 返回 NULL，查询结果为空，和没有主键一样处理
func (d *PostgresDialect) PrimaryKeyQuery(table Identifier) Statement {
	return Statement{
		SQL: "SELECT a.attname FROM pg_index i " +
			"JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey) " +
			"WHERE i.indrelid = to_regclass('public.' || :table) AND i.indisprimary " +
			"ORDER BY array_position(CAST(i.indkey AS int2[]), a.attnum)",
		Params: map[string]any{"table": string(table)},
	}
}

func (d *PostgresDialect) ColumnsQuery(table Identifier) Statement {
	return Statement{
		SQL: "SELECT column_name FROM information_schema.columns " +
			"WHERE table_schema = 'public' AND table_name = :table " +
			"AND is_identity = 'NO' AND is_generated = 'NEVER' " +
			"ORDER BY ordinal_position",
		Params: map[string]any{"table": string(table)},
	}
}

func (d *PostgresDialect) TablesQuery() Statement {
	return Statement{
		SQL: "SELECT table_name FROM information_schema.tables " +
			"WHERE table_schema = 'public' AND table_type = 'BASE TABLE' " +
			"ORDER BY table_name",
	}
}

// MySQLDialect 不支持 RETURNING，写操作之后按主键回读
type MySQLDialect struct{}

func NewMySQLDialect() *MySQLDialect {
	return &MySQLDialect{}
}

func (d *MySQLDialect) Name() string {
	return "mysql"
}

func (d *MySQLDialect) Qualify(table Identifier) string {
	return string(table)
}

func (d *MySQLDialect) Returning() bool {
	return false
}

func (d *MySQLDialect) PrimaryKeyQuery(table Identifier) Statement {
	return Statement{
		SQL: "SELECT column_name FROM information_schema.key_column_usage " +
			"WHERE table_schema = DATABASE() AND table_name = :table AND constraint_name = 'PRIMARY' " +
			"ORDER BY ordinal_position",
		Params: map[string]any{"table": string(table)},
	}
}

// ColumnsQuery 只排除自增列和 VIRTUAL/STORED 生成列
// extra 里的 DEFAULT_GENERATED 只表示默认值是表达式，这类列仍然可以插入
func (d *MySQLDialect) ColumnsQuery(table Identifier) Statement {
	return Statement{
		SQL: "SELECT column_name FROM information_schema.columns " +
			"WHERE table_schema = DATABASE() AND table_name = :table " +
			"AND extra NOT LIKE '%auto_increment%' AND COALESCE(generation_expression, '') = '' " +
			"ORDER BY ordinal_position",
		Params: map[string]any{"table": string(table)},
	}
}

func (d *MySQLDialect) TablesQuery() Statement {
	return Statement{
		SQL: "SELECT table_name FROM information_schema.tables " +
			"WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE' " +
			"ORDER BY table_name",
	}
}

type SQLiteDialect struct{}

func NewSQLiteDialect() *SQLiteDialect {
	return &SQLiteDialect{}
}

func (d *SQLiteDialect) Name() string {
	return "sqlite3"
}

func (d *SQLiteDialect) Qualify(table Identifier) string {
	return string(table)
}

func (d *SQLiteDialect) Returning() bool {
	return true
}

func (d *SQLiteDialect) PrimaryKeyQuery(table Identifier) Statement {
	return Statement{
		SQL:    "SELECT name FROM pragma_table_info(:table) WHERE pk > 0 ORDER BY pk",
		Params: map[string]any{"table": string(table)},
	}
}

// hidden 非 0 的是生成列或虚表隐藏列
func (d *SQLiteDialect) ColumnsQuery(table Identifier) Statement {
	return Statement{
		SQL:    "SELECT name FROM pragma_table_xinfo(:table) WHERE hidden = 0 ORDER BY cid",
		Params: map[string]any{"table": string(table)},
	}
}

func (d *SQLiteDialect) TablesQuery() Statement {
	return Statement{
		SQL: "SELECT name FROM sqlite_master " +
			"WHERE type = 'table' AND name NOT LIKE 'sqlite\\_%' ESCAPE '\\' " +
			"ORDER BY name",
	}
}
