package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hatlonely/crudgw/log"
	"github.com/hatlonely/crudgw/rdb"
	"github.com/hatlonely/crudgw/ref"
	"github.com/hatlonely/crudgw/uid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Actor struct {
	ActorID    int64     `gorm:"column:actor_id;primaryKey;autoIncrement"`
	FirstName  string    `gorm:"column:first_name;size:45;not null"`
	LastName   string    `gorm:"column:last_name;size:45;not null"`
	LastUpdate time.Time `gorm:"column:last_update;not null;default:CURRENT_TIMESTAMP"`
}

func (Actor) TableName() string {
	return "actor"
}

type testEnv struct {
	server  *Server
	handler http.Handler
	logs    *bytes.Buffer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := rdb.NewSQLWithOptions(&rdb.SQLOptions{Driver: "sqlite3", Name: ":memory:"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	gdb, err := gorm.Open(sqlite.New(sqlite.Config{Conn: db.DB().DB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := gdb.AutoMigrate(&Actor{}); err != nil {
		t.Fatal(err)
	}
	if err := gdb.Create(&[]Actor{
		{FirstName: "PENELOPE", LastName: "GUINESS"},
		{FirstName: "NICK", LastName: "WAHLBERG"},
	}).Error; err != nil {
		t.Fatal(err)
	}

	logs := &bytes.Buffer{}
	l := log.NewLogWithHandler(slog.NewJSONHandler(logs, nil))
	registry := prometheus.NewRegistry()
	gateway, err := rdb.NewObservableGatewayWithOptions(rdb.NewGateway(db.Dialect()), &rdb.ObservableOptions{
		Name:          "crudgw_test",
		EnableMetrics: true,
	}, l, registry)
	if err != nil {
		t.Fatal(err)
	}

	s, err := New(&Options{MaxBodyBytes: 1 << 20, IgnoreLogPaths: []string{"/healthz"}}, db, gateway, l, registry)
	if err != nil {
		t.Fatal(err)
	}
	return &testEnv{server: s, handler: s.Handler(), logs: logs}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode(rec *httptest.ResponseRecorder) any {
	var v any
	So(json.Unmarshal(rec.Body.Bytes(), &v), ShouldBeNil)
	return v
}

func detail(rec *httptest.ResponseRecorder) string {
	m, _ := decode(rec).(map[string]any)
	s, _ := m["detail"].(string)
	return s
}

func TestServer(t *testing.T) {
	Convey("HTTP 接口", t, func() {
		env := newTestEnv(t)

		Convey("GET /tables", func() {
			rec := env.do(http.MethodGet, "/tables", "")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(decode(rec), ShouldResemble, []any{"actor"})
		})

		Convey("GET /table/{table}", func() {
			rec := env.do(http.MethodGet, "/table/actor", "")
			So(rec.Code, ShouldEqual, http.StatusOK)
			rows := decode(rec).([]any)
			So(len(rows), ShouldEqual, 2)
			So(rows[0].(map[string]any)["first_name"], ShouldEqual, "PENELOPE")
			So(rec.Body.String(), ShouldStartWith, `[{"actor_id":1,"first_name":"PENELOPE"`)
		})

		Convey("GET /table/{table}/{id}", func() {
			rec := env.do(http.MethodGet, "/table/actor/2", "")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(decode(rec).(map[string]any)["last_name"], ShouldEqual, "WAHLBERG")

			So(env.do(http.MethodGet, "/table/actor/999", "").Code, ShouldEqual, http.StatusNotFound)
			So(env.do(http.MethodGet, "/table/actor/abc", "").Code, ShouldEqual, http.StatusUnprocessableEntity)
			So(env.do(http.MethodGet, "/table/missing/1", "").Code, ShouldEqual, http.StatusBadRequest)
			So(env.do(http.MethodGet, "/table/pg_class/1", "").Code, ShouldEqual, http.StatusForbidden)
			So(env.do(http.MethodGet, "/table/actor;drop/1", "").Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("POST /table/{table}", func() {
			rec := env.do(http.MethodPost, "/table/actor", `{"first_name": "ED", "last_name": "CHASE", "unknown": 1}`)
			So(rec.Code, ShouldEqual, http.StatusOK)
			row := decode(rec).(map[string]any)
			So(row["actor_id"], ShouldEqual, float64(3))
			So(row["first_name"], ShouldEqual, "ED")
			So(row, ShouldNotContainKey, "unknown")

			rec = env.do(http.MethodGet, "/table/actor/3", "")
			So(rec.Code, ShouldEqual, http.StatusOK)

			rec = env.do(http.MethodPost, "/table/actor", `{"unknown": 1}`)
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
			So(detail(rec), ShouldContainSubstring, "no valid insertable columns")

			So(env.do(http.MethodPost, "/table/actor", `[1, 2]`).Code, ShouldEqual, http.StatusBadRequest)
			So(env.do(http.MethodPost, "/table/actor", `not json`).Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("数据库错误透传消息和错误码", func() {
			rec := env.do(http.MethodPost, "/table/actor", `{"actor_id": 1, "first_name": "A", "last_name": "B"}`)
			So(rec.Code, ShouldEqual, http.StatusInternalServerError)
			body := decode(rec).(map[string]any)
			So(body["detail"], ShouldContainSubstring, "UNIQUE constraint failed")
			So(body["code"], ShouldNotBeEmpty)
		})

		Convey("PUT /table/{table}/{id}", func() {
			rec := env.do(http.MethodPut, "/table/actor/1", `{"last_name": "CRUZ"}`)
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(decode(rec).(map[string]any)["last_name"], ShouldEqual, "CRUZ")

			So(env.do(http.MethodPut, "/table/actor/999", `{"last_name": "X"}`).Code, ShouldEqual, http.StatusNotFound)
			So(env.do(http.MethodPut, "/table/actor/1", `{}`).Code, ShouldEqual, http.StatusBadRequest)
			So(env.do(http.MethodPut, "/table/actor/x", `{"last_name": "X"}`).Code, ShouldEqual, http.StatusUnprocessableEntity)
			So(env.do(http.MethodPut, "/table/actor/1", `{"bad key": "X"}`).Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("DELETE 端到端", func() {
			rec := env.do(http.MethodDelete, "/table/actor/999", "")
			So(rec.Code, ShouldEqual, http.StatusNotFound)

			rec = env.do(http.MethodDelete, "/table/actor/1", "")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(decode(rec), ShouldResemble, map[string]any{"status": "deleted"})

			So(env.do(http.MethodGet, "/table/actor/1", "").Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("POST /tables", func() {
			rec := env.do(http.MethodPost, "/tables", `{"name": "film", "columns": [
				{"name": "film_id", "type": "INTEGER", "primary_key": true},
				{"name": "title", "type": "VARCHAR(255)"}
			]}`)
			So(rec.Code, ShouldEqual, http.StatusCreated)
			So(decode(rec), ShouldResemble, map[string]any{"status": "created", "table": "film"})

			rec = env.do(http.MethodGet, "/tables", "")
			So(decode(rec), ShouldResemble, []any{"actor", "film"})

			rec = env.do(http.MethodPost, "/tables", `{"name": "pg_film", "columns": [{"name": "a", "type": "TEXT"}]}`)
			So(rec.Code, ShouldEqual, http.StatusForbidden)

			rec = env.do(http.MethodPost, "/tables", `{"name": "x", "columns": [{"name": "a", "type": "TEXT; DROP TABLE actor"}]}`)
			So(rec.Code, ShouldEqual, http.StatusBadRequest)

			So(env.do(http.MethodPost, "/tables", `{`).Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("健康检查和指标", func() {
			rec := env.do(http.MethodGet, "/healthz", "")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(decode(rec), ShouldResemble, map[string]any{"status": "ok"})

			env.do(http.MethodGet, "/table/actor/1", "")
			rec = env.do(http.MethodGet, "/metrics", "")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldContainSubstring, `crudgw_test_operations_total{operation="get",status="success",table="actor"} 1`)
		})

		Convey("请求日志带 request id", func() {
			req := httptest.NewRequest(http.MethodGet, "/tables", nil)
			req.Header.Set(RequestIDHeader, "req-1")
			rec := httptest.NewRecorder()
			env.handler.ServeHTTP(rec, req)

			So(rec.Header().Get(RequestIDHeader), ShouldEqual, "req-1")
			So(env.logs.String(), ShouldContainSubstring, `"request_id":"req-1"`)
			So(env.logs.String(), ShouldContainSubstring, `"status":200`)

			rec = env.do(http.MethodGet, "/healthz", "")
			So(rec.Header().Get(RequestIDHeader), ShouldNotBeEmpty)
			So(env.logs.String(), ShouldNotContainSubstring, `"path":"/healthz"`)
		})
	})
}

type fakeDB struct {
	pingErr error
}

func (f *fakeDB) WithTx(ctx context.Context, fn func(exec rdb.Executor) error) error {
	return fn(nil)
}

func (f *fakeDB) Ping(ctx context.Context) error {
	return f.pingErr
}

type panicGateway struct {
	rdb.Gateway
}

func (panicGateway) ListTables(ctx context.Context, exec rdb.Executor) ([]string, error) {
	panic("boom")
}

func TestServerFailures(t *testing.T) {
	Convey("异常路径", t, func() {
		Convey("数据库不可用时健康检查返回 503", func() {
			s, err := New(&Options{}, &fakeDB{pingErr: errors.New("connection refused")}, panicGateway{}, nil, prometheus.NewRegistry())
			So(err, ShouldBeNil)
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			So(rec.Code, ShouldEqual, http.StatusServiceUnavailable)
		})

		Convey("panic 转成 500", func() {
			s, err := New(&Options{}, &fakeDB{}, panicGateway{}, nil, prometheus.NewRegistry())
			So(err, ShouldBeNil)
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tables", nil))
			So(rec.Code, ShouldEqual, http.StatusInternalServerError)
		})

		Convey("请求体超过上限返回 413", func() {
			s, err := New(&Options{MaxBodyBytes: 16}, &fakeDB{}, panicGateway{}, nil, prometheus.NewRegistry())
			So(err, ShouldBeNil)
			big := `{"first_name": "` + strings.Repeat("x", 64) + `"}`

			for _, c := range []struct{ method, path string }{
				{http.MethodPost, "/table/actor"},
				{http.MethodPut, "/table/actor/1"},
				{http.MethodPost, "/tables"},
			} {
				rec := httptest.NewRecorder()
				s.Handler().ServeHTTP(rec, httptest.NewRequest(c.method, c.path, strings.NewReader(big)))
				So(rec.Code, ShouldEqual, http.StatusRequestEntityTooLarge)
				So(rec.Body.String(), ShouldContainSubstring, "exceeds 16 bytes")
			}
		})

		Convey("可配置请求 ID 生成器", func() {
			s, err := New(&Options{RequestID: &ref.TypeOptions{Type: "UUID", Options: &uid.UUIDOptions{Version: "v7"}}}, &fakeDB{}, panicGateway{}, nil, prometheus.NewRegistry())
			So(err, ShouldBeNil)
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			So(rec.Header().Get(RequestIDHeader), ShouldHaveLength, 32)

			_, err = New(&Options{RequestID: &ref.TypeOptions{Type: "Unknown"}}, &fakeDB{}, panicGateway{}, nil, nil)
			So(err, ShouldNotBeNil)
		})

		Convey("参数校验", func() {
			_, err := New(nil, &fakeDB{}, panicGateway{}, nil, nil)
			So(err, ShouldNotBeNil)
			_, err = New(&Options{}, nil, panicGateway{}, nil, nil)
			So(err, ShouldNotBeNil)
		})

		Convey("Run 在 ctx 结束后退出", func() {
			s, err := New(&Options{Addr: "127.0.0.1:0", ShutdownTimeout: time.Second}, &fakeDB{}, panicGateway{}, nil, nil)
			So(err, ShouldBeNil)
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- s.Run(ctx) }()
			time.Sleep(50 * time.Millisecond)
			cancel()
			So(<-done, ShouldBeNil)
		})
	})
}

func TestFromError(t *testing.T) {
	Convey("错误映射", t, func() {
		cases := []struct {
			err  error
			code int
		}{
			{errors.Wrap(rdb.ErrInvalidIdentifier, "x"), http.StatusBadRequest},
			{rdb.ErrAccessDenied, http.StatusForbidden},
			{rdb.ErrNoValidColumns, http.StatusBadRequest},
			{rdb.ErrEmptyPayload, http.StatusBadRequest},
			{rdb.ErrNoPrimaryKey, http.StatusBadRequest},
			{rdb.ErrNotFound, http.StatusNotFound},
			{rdb.NewDatabaseError(errors.New("syntax error")), http.StatusInternalServerError},
			{errors.New("other"), http.StatusInternalServerError},
			{UnprocessableEntity("id"), http.StatusUnprocessableEntity},
		}
		for _, c := range cases {
			So(FromError(c.err).Code(), ShouldEqual, c.code)
		}

		e := FromError(errors.WithMessage(rdb.NewDatabaseError(errors.New("relation \"x\" does not exist")), "list"))
		So(e.Message(), ShouldEqual, `relation "x" does not exist`)
	})
}
