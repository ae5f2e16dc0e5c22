package rdb

import (
	"strconv"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

var (
	ErrInvalidIdentifier = errors.New("invalid identifier")
	ErrAccessDenied      = errors.New("access denied")
	ErrNoValidColumns    = errors.New("no valid insertable columns")
	ErrEmptyPayload      = errors.New("no data to update")
	ErrNoPrimaryKey      = errors.New("table has no primary key")
	ErrNotFound          = errors.New("row not found")
	ErrInvalidPayload    = errors.New("request body must be a JSON object")
	ErrInvalidColumnType = errors.New("invalid column type")
)

// DatabaseError 数据库返回的错误，消息原样透传给调用方
type DatabaseError struct {
	// SQLSTATE 或驱动自己的错误码，未知时为空
	Code string
	// 违反完整性约束（唯一键、外键、非空等）
	IntegrityViolation bool

	err error
}

func (e *DatabaseError) Error() string {
	return e.err.Error()
}

func (e *DatabaseError) Unwrap() error {
	return e.err
}

func (e *DatabaseError) Cause() error {
	return e.err
}

// NewDatabaseError 按驱动类型提取错误码，已经是 DatabaseError 的原样返回
func NewDatabaseError(err error) error {
	if err == nil {
		return nil
	}

	var dbErr *DatabaseError
	if errors.As(err, &dbErr) {
		return err
	}

	dbErr = &DatabaseError{err: err}

	var pgErr *pgconn.PgError
	var pqErr *pq.Error
	var myErr *mysql.MySQLError
	var liteErr sqlite3.Error

	switch {
	case errors.As(err, &pgErr):
		dbErr.Code = pgErr.Code
		dbErr.IntegrityViolation = pgerrcode.IsIntegrityConstraintViolation(pgErr.Code)
	case errors.As(err, &pqErr):
		dbErr.Code = string(pqErr.Code)
		dbErr.IntegrityViolation = pgerrcode.IsIntegrityConstraintViolation(string(pqErr.Code))
	case errors.As(err, &myErr):
		dbErr.Code = strconv.Itoa(int(myErr.Number))
		switch myErr.Number {
		// ER_DUP_ENTRY, ER_BAD_NULL_ERROR, ER_ROW_IS_REFERENCED_2, ER_NO_REFERENCED_ROW_2
		case 1062, 1048, 1451, 1452:
			dbErr.IntegrityViolation = true
		}
	case errors.As(err, &liteErr):
		dbErr.Code = strconv.Itoa(int(liteErr.ExtendedCode))
		dbErr.IntegrityViolation = liteErr.Code == sqlite3.ErrConstraint
	}

	return dbErr
}

// IsClientError 调用方输入导致的错误（4xx）
func IsClientError(err error) bool {
	for _, target := range []error{
		ErrInvalidIdentifier,
		ErrAccessDenied,
		ErrNoValidColumns,
		ErrEmptyPayload,
		ErrNoPrimaryKey,
		ErrNotFound,
		ErrInvalidPayload,
		ErrInvalidColumnType,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
