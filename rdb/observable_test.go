package rdb

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/hatlonely/crudgw/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestObservableGateway(t *testing.T) {
	Convey("ObservableGateway", t, func() {
		s := newTestSQL(t)
		ctx := context.Background()

		var buf bytes.Buffer
		logger := log.NewLogWithHandler(slog.NewJSONHandler(&buf, nil))
		registry := prometheus.NewRegistry()

		obs, err := NewObservableGatewayWithOptions(NewGateway(s.Dialect()), &ObservableOptions{
			Name:          "test_gateway",
			EnableMetrics: true,
			EnableLogging: true,
			EnableTracing: true,
		}, logger, registry)
		So(err, ShouldBeNil)

		Convey("成功和失败分别计数", func() {
			So(s.WithTx(ctx, func(exec Executor) error {
				_, err := obs.Get(ctx, exec, "actor", 1)
				return err
			}), ShouldBeNil)
			_ = s.WithTx(ctx, func(exec Executor) error {
				_, err := obs.Get(ctx, exec, "actor", 999)
				return err
			})
			_ = s.WithTx(ctx, func(exec Executor) error {
				_, err := obs.List(ctx, exec, "bad name")
				return err
			})

			So(testutil.ToFloat64(obs.metrics.operationCounter.WithLabelValues("get", "actor", "success")), ShouldEqual, 1)
			So(testutil.ToFloat64(obs.metrics.operationCounter.WithLabelValues("get", "actor", "client_error")), ShouldEqual, 1)
			So(testutil.ToFloat64(obs.metrics.operationCounter.WithLabelValues("list", "_invalid", "client_error")), ShouldEqual, 1)
			So(buf.String(), ShouldContainSubstring, "gateway operation completed")
			So(buf.String(), ShouldContainSubstring, "gateway operation rejected")
		})

		Convey("完整性错误记为 warn", func() {
			_ = s.WithTx(ctx, func(exec Executor) error {
				_, err := obs.Insert(ctx, exec, "actor", NewPayload("actor_id", int64(1), "first_name", "A", "last_name", "B"))
				return err
			})
			So(testutil.ToFloat64(obs.metrics.operationCounter.WithLabelValues("insert", "actor", "conflict")), ShouldEqual, 1)
			So(buf.String(), ShouldContainSubstring, `"level":"WARN"`)
			So(buf.String(), ShouldContainSubstring, "integrity constraint violated")
		})

		Convey("其他数据库错误记为 error", func() {
			_ = s.WithTx(ctx, func(exec Executor) error {
				_, err := obs.List(ctx, exec, "missing")
				return err
			})
			So(testutil.ToFloat64(obs.metrics.operationCounter.WithLabelValues("list", "_unknown", "error")), ShouldEqual, 1)
			So(buf.String(), ShouldContainSubstring, `"level":"ERROR"`)
		})

		Convey("不存在的表不用表名做标签", func() {
			for _, table := range []string{"missing_a", "missing_b"} {
				_ = s.WithTx(ctx, func(exec Executor) error {
					_, err := obs.Get(ctx, exec, table, 1)
					return err
				})
				_ = s.WithTx(ctx, func(exec Executor) error {
					_, err := obs.Insert(ctx, exec, table, NewPayload("a", 1))
					return err
				})
			}
			So(testutil.ToFloat64(obs.metrics.operationCounter.WithLabelValues("get", "_unknown", "client_error")), ShouldEqual, 2)
			So(testutil.ToFloat64(obs.metrics.operationCounter.WithLabelValues("insert", "_unknown", "client_error")), ShouldEqual, 2)
			So(testutil.CollectAndCount(obs.metrics.operationCounter), ShouldEqual, 2)
		})

		Convey("同名指标可以重复创建", func() {
			again, err := NewObservableGatewayWithOptions(NewGateway(s.Dialect()), &ObservableOptions{
				Name:          "test_gateway",
				EnableMetrics: true,
			}, nil, registry)
			So(err, ShouldBeNil)
			So(again.metrics.operationCounter, ShouldEqual, obs.metrics.operationCounter)
		})

		Convey("其余操作透传", func() {
			So(s.WithTx(ctx, func(exec Executor) error {
				tables, err := obs.ListTables(ctx, exec)
				So(tables, ShouldContain, "actor")
				if err != nil {
					return err
				}
				if err := obs.CreateTable(ctx, exec, "film", []ColumnDef{{Name: "film_id", Type: "INTEGER", PrimaryKey: true}}); err != nil {
					return err
				}
				if _, err := obs.Insert(ctx, exec, "film", NewPayload("film_id", int64(1))); err != nil {
					return err
				}
				if _, err := obs.Update(ctx, exec, "film", 1, NewPayload("film_id", int64(2))); err != nil {
					return err
				}
				return obs.Delete(ctx, exec, "film", 2)
			}), ShouldBeNil)
		})
	})
}

func TestTableLabel(t *testing.T) {
	Convey("指标中的表名标签", t, func() {
		So(tableLabel("", nil), ShouldEqual, "")
		So(tableLabel("actor", nil), ShouldEqual, "actor")
		So(tableLabel("bad name", nil), ShouldEqual, "_invalid")
		So(tableLabel("actor", ErrNotFound), ShouldEqual, "actor")
		So(tableLabel("actor", ErrEmptyPayload), ShouldEqual, "actor")
		So(tableLabel("actor", &DatabaseError{Code: "23505", IntegrityViolation: true}), ShouldEqual, "actor")
		So(tableLabel("whatever", ErrNoPrimaryKey), ShouldEqual, "_unknown")
		So(tableLabel("whatever", ErrNoValidColumns), ShouldEqual, "_unknown")
		So(tableLabel("whatever", &DatabaseError{Code: "42P01"}), ShouldEqual, "_unknown")
	})
}
