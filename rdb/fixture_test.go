package rdb

import (
	"context"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Actor 示例库 greencycles 中的 actor 表
type Actor struct {
	ActorID    int64     `gorm:"column:actor_id;primaryKey;autoIncrement"`
	FirstName  string    `gorm:"column:first_name;size:45;not null"`
	LastName   string    `gorm:"column:last_name;size:45;not null"`
	LastUpdate time.Time `gorm:"column:last_update;not null;default:CURRENT_TIMESTAMP"`
}

func (Actor) TableName() string {
	return "actor"
}

// Note 没有主键的表
type Note struct {
	Body string `gorm:"column:body"`
}

func (Note) TableName() string {
	return "note"
}

// newTestSQL 内存 sqlite，建好 actor 和 note 两张表并插入两个 actor
func newTestSQL(t *testing.T) *SQL {
	t.Helper()

	s, err := NewSQLWithOptions(&SQLOptions{
		Driver:   "sqlite3",
		Name:     ":memory:",
		MaxConns: 1,
		MaxIdle:  1,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })

	db, err := gorm.Open(sqlite.New(sqlite.Config{Conn: s.DB().DB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.AutoMigrate(&Actor{}, &Note{}); err != nil {
		t.Fatal(err)
	}
	actors := []Actor{
		{FirstName: "PENELOPE", LastName: "GUINESS"},
		{FirstName: "NICK", LastName: "WAHLBERG"},
	}
	if err := db.Create(&actors).Error; err != nil {
		t.Fatal(err)
	}
	return s
}

// inTx 在事务中执行，方便测试回滚
func inTx(s *SQL, fn func(exec Executor) error) error {
	return s.WithTx(context.Background(), fn)
}
