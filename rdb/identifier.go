package rdb

import (
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

// Identifier 校验通过的表名，只有 ValidateTable 能构造出来
type Identifier string

func (i Identifier) String() string {
	return string(i)
}

// 系统 schema 的前缀，区分大小写
var reservedPrefixes = []string{"pg_", "sql_", "information_schema"}

// ValidateTable 校验表名，语法不合法返回 ErrInvalidIdentifier，系统表前缀返回 ErrAccessDenied
func ValidateTable(name string) (Identifier, error) {
	if !isIdentifier(name) {
		return "", errors.Wrapf(ErrInvalidIdentifier, "%q", name)
	}
	for _, prefix := range reservedPrefixes {
		if strings.HasPrefix(name, prefix) {
			return "", errors.Wrapf(ErrAccessDenied, "%q", name)
		}
	}
	return Identifier(name), nil
}

// ValidateColumn 只检查语法，用于会拼进 SQL 的调用方列名
func ValidateColumn(name string) error {
	if !isIdentifier(name) {
		return errors.Wrapf(ErrInvalidIdentifier, "column %q", name)
	}
	return nil
}

// isIdentifier 字母或下划线开头，后面是字母、数字、下划线
func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', unicode.IsLetter(r):
		case unicode.IsDigit(r) && i > 0:
		default:
			return false
		}
	}
	return true
}
