package rdb

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/hatlonely/crudgw/log"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

type SQLOptions struct {
	// pgx, postgres (lib/pq), mysql, sqlite3
	Driver string `cfg:"driver" def:"pgx" validate:"oneof=pgx postgres mysql sqlite3"`
	// 设置后忽略下面的连接参数
	DSN      string `cfg:"dsn"`
	User     string `cfg:"user" def:"postgres"`
	Password string `cfg:"password" def:"pgadmin"`
	Host     string `cfg:"host" def:"postgres15"`
	Port     int    `cfg:"port" def:"5432" validate:"min=1,max=65535"`
	Name     string `cfg:"name" def:"greencycles"`

	MaxConns        int           `cfg:"maxConns" def:"10"`
	MaxIdle         int           `cfg:"maxIdle" def:"5"`
	ConnMaxLifetime time.Duration `cfg:"connMaxLifetime" def:"30m"`
	ConnectTimeout  time.Duration `cfg:"connectTimeout" def:"5s"`

	// 以 debug 级别打印每条执行的 SQL
	LogStatements bool `cfg:"logStatements"`
}

// Executor 执行语句的句柄，*sqlx.DB 和 *sqlx.Tx 都满足
type Executor interface {
	sqlx.ExtContext
}

// SQL 连接池，进程启动时创建，退出时关闭
type SQL struct {
	db      *sqlx.DB
	dialect Dialect
	options *SQLOptions
	logger  log.Logger
}

// DataSourceName 按驱动拼接连接串
func DataSourceName(options *SQLOptions) (string, error) {
	if options.DSN != "" {
		return options.DSN, nil
	}

	switch options.Driver {
	case "pgx", "postgres":
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(options.User, options.Password),
			Host:   fmt.Sprintf("%s:%d", options.Host, options.Port),
			Path:   "/" + options.Name,
		}
		q := url.Values{}
		q.Set("sslmode", "disable")
		if options.ConnectTimeout > 0 {
			q.Set("connect_timeout", fmt.Sprintf("%d", int(options.ConnectTimeout.Seconds())))
		}
		u.RawQuery = q.Encode()
		return u.String(), nil
	case "mysql":
		c := mysql.NewConfig()
		c.User = options.User
		c.Passwd = options.Password
		c.Net = "tcp"
		c.Addr = fmt.Sprintf("%s:%d", options.Host, options.Port)
		c.DBName = options.Name
		c.ParseTime = true
		c.Timeout = options.ConnectTimeout
		// UPDATE 的影响行数按匹配行计算，值未变化时也不会误判为不存在
		c.ClientFoundRows = true
		return c.FormatDSN(), nil
	case "sqlite3":
		return options.Name, nil
	}
	return "", errors.Errorf("unsupported driver: %s", options.Driver)
}

func NewSQLWithOptions(options *SQLOptions) (*SQL, error) {
	if options == nil {
		return nil, errors.New("options cannot be nil")
	}

	dialect, err := DialectForDriver(options.Driver)
	if err != nil {
		return nil, err
	}

	dsn, err := DataSourceName(options)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(options.Driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "sqlx.Open failed, driver: %s", options.Driver)
	}

	// sqlite 内存库每个连接都是独立的库，只能保持一个常驻连接
	if options.Driver == "sqlite3" && strings.Contains(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(options.MaxConns)
		db.SetMaxIdleConns(options.MaxIdle)
		db.SetConnMaxLifetime(options.ConnMaxLifetime)
	}

	return &SQL{
		db:      db,
		dialect: dialect,
		options: options,
		logger:  log.Discard(),
	}, nil
}

func (s *SQL) SetLogger(logger log.Logger) {
	s.logger = logger
}

func (s *SQL) Dialect() Dialect {
	return s.dialect
}

// DB 底层连接池，测试中用来准备数据
func (s *SQL) DB() *sqlx.DB {
	return s.db
}

func (s *SQL) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return NewDatabaseError(err)
	}
	return nil
}

func (s *SQL) Close() error {
	return s.db.Close()
}

// WithTx 在一个事务中执行 fn，fn 返回错误或 panic 时回滚，否则提交
func (s *SQL) WithTx(ctx context.Context, fn func(exec Executor) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewDatabaseError(err)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
	}()

	var exec Executor = tx
	if s.options.LogStatements {
		exec = &loggingExecutor{Executor: tx, logger: s.logger}
	}

	if err := fn(exec); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.WarnContext(ctx, "rollback failed", "error", rbErr.Error())
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewDatabaseError(err)
	}
	return nil
}

type loggingExecutor struct {
	Executor
	logger log.Logger
}

func (e *loggingExecutor) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	e.logger.DebugContext(ctx, "exec", "sql", query, "args", args)
	return e.Executor.ExecContext(ctx, query, args...)
}

func (e *loggingExecutor) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	e.logger.DebugContext(ctx, "query", "sql", query, "args", args)
	return e.Executor.QueryContext(ctx, query, args...)
}

func (e *loggingExecutor) QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error) {
	e.logger.DebugContext(ctx, "query", "sql", query, "args", args)
	return e.Executor.QueryxContext(ctx, query, args...)
}

func (e *loggingExecutor) QueryRowxContext(ctx context.Context, query string, args ...any) *sqlx.Row {
	e.logger.DebugContext(ctx, "query", "sql", query, "args", args)
	return e.Executor.QueryRowxContext(ctx, query, args...)
}

// bind 把命名参数改写成驱动的占位符
func bind(exec Executor, stmt Statement) (string, []any, error) {
	if len(stmt.Params) == 0 {
		return stmt.SQL, nil, nil
	}
	query, args, err := exec.BindNamed(stmt.SQL, stmt.Params)
	if err != nil {
		return "", nil, errors.Wrapf(err, "bind statement %q", stmt.SQL)
	}
	return query, args, nil
}

func queryRows(ctx context.Context, exec Executor, stmt Statement, limit int) ([]Row, error) {
	query, args, err := bind(exec, stmt)
	if err != nil {
		return nil, err
	}

	rows, err := exec.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, NewDatabaseError(err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, NewDatabaseError(err)
	}
	columns := make([]string, len(types))
	for i, t := range types {
		columns[i] = t.Name()
	}

	var result []Row
	for rows.Next() {
		row, err := scanRow(rows, columns, types)
		if err != nil {
			return nil, err
		}
		result = append(result, row)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, NewDatabaseError(err)
	}
	return result, nil
}

// queryRow 只取第一行，没有结果时 ok 为 false
func queryRow(ctx context.Context, exec Executor, stmt Statement) (Row, bool, error) {
	rows, err := queryRows(ctx, exec, stmt, 1)
	if err != nil || len(rows) == 0 {
		return Row{}, false, err
	}
	return rows[0], true, nil
}

func execStatement(ctx context.Context, exec Executor, stmt Statement) (sql.Result, error) {
	query, args, err := bind(exec, stmt)
	if err != nil {
		return nil, err
	}
	res, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, NewDatabaseError(err)
	}
	return res, nil
}

func queryStrings(ctx context.Context, exec Executor, stmt Statement) ([]string, error) {
	rows, err := queryRows(ctx, exec, stmt, 0)
	if err != nil {
		return nil, err
	}
	result := make([]string, 0, len(rows))
	for _, row := range rows {
		if len(row.Values) == 0 {
			continue
		}
		result = append(result, toString(row.Values[0]))
	}
	return result, nil
}

func scanRow(rows *sqlx.Rows, columns []string, types []*sql.ColumnType) (Row, error) {
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return Row{}, NewDatabaseError(err)
	}

	for i, v := range values {
		if b, ok := v.([]byte); ok && isTextual(types[i].DatabaseTypeName()) {
			values[i] = string(b)
		}
	}
	return Row{Columns: columns, Values: values}, nil
}

var textualTypes = []string{"CHAR", "TEXT", "JSON", "DECIMAL", "NUMERIC", "ENUM", "SET", "DATE", "TIME", "YEAR", "UUID", "NAME"}

// isTextual 有的驱动（mysql）把文本列也作为 []byte 返回，按列类型区分真正的二进制列
func isTextual(databaseType string) bool {
	t := strings.ToUpper(databaseType)
	for _, textual := range textualTypes {
		if strings.Contains(t, textual) {
			return true
		}
	}
	return false
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	}
	return fmt.Sprint(v)
}
