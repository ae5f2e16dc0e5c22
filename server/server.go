package server

import (
	"context"
	"net/http"
	"time"

	"github.com/hatlonely/crudgw/log"
	"github.com/hatlonely/crudgw/rdb"
	"github.com/hatlonely/crudgw/ref"
	"github.com/hatlonely/crudgw/uid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Options struct {
	Addr            string        `cfg:"addr" def:":8000"`
	ReadTimeout     time.Duration `cfg:"readTimeout" def:"30s"`
	WriteTimeout    time.Duration `cfg:"writeTimeout" def:"30s"`
	ShutdownTimeout time.Duration `cfg:"shutdownTimeout" def:"10s"`
	// 请求体大小上限
	MaxBodyBytes int64 `cfg:"maxBodyBytes" def:"1048576" validate:"min=1"`
	// 不打访问日志的路径
	IgnoreLogPaths []string `cfg:"ignoreLogPaths" def:"/healthz,/metrics"`
	// 请求 ID 生成器，为空时使用 UUID v4
	RequestID *ref.TypeOptions `cfg:"requestId"`
}

// Database 每个请求一个事务，*rdb.SQL 满足该接口
type Database interface {
	WithTx(ctx context.Context, fn func(exec rdb.Executor) error) error
	Ping(ctx context.Context) error
}

type Server struct {
	options    *Options
	db         Database
	gateway    rdb.Gateway
	logger     log.Logger
	gatherer   prometheus.Gatherer
	handler    http.Handler
	httpServer *http.Server
}

// New gatherer 为空时使用 prometheus 默认的 registry
func New(options *Options, db Database, gateway rdb.Gateway, logger log.Logger, gatherer prometheus.Gatherer) (*Server, error) {
	if options == nil {
		return nil, errors.New("options cannot be nil")
	}
	if db == nil || gateway == nil {
		return nil, errors.New("database and gateway are required")
	}
	if logger == nil {
		logger = log.Discard()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		options:  options,
		db:       db,
		gateway:  gateway,
		logger:   logger,
		gatherer: gatherer,
	}
	ids, err := uid.New(options.RequestID)
	if err != nil {
		return nil, errors.WithMessage(err, "create request id generator failed")
	}

	s.handler = Decorate(options.IgnoreLogPaths, logger.WithGroup("http"), ids, s.routes())
	s.httpServer = &http.Server{
		Addr:         options.Addr,
		Handler:      s.handler,
		ReadTimeout:  options.ReadTimeout,
		WriteTimeout: options.WriteTimeout,
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /tables", s.handle(s.listTables))
	mux.Handle("POST /tables", s.handle(s.createTable))
	mux.Handle("GET /table/{table}", s.handle(s.listRows))
	mux.Handle("POST /table/{table}", s.handle(s.insertRow))
	mux.Handle("GET /table/{table}/{id}", s.handle(s.getRow))
	mux.Handle("PUT /table/{table}/{id}", s.handle(s.updateRow))
	mux.Handle("DELETE /table/{table}/{id}", s.handle(s.deleteRow))

	mux.Handle("GET /healthz", s.handle(s.healthz))
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	return mux
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run 阻塞直到 ctx 结束或监听失败，ctx 结束后在 ShutdownTimeout 内优雅退出
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.options.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- errors.Wrap(err, "ListenAndServe failed")
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.options.ShutdownTimeout)
	defer cancel()

	s.logger.Info("http server shutting down")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "Shutdown failed")
	}
	return nil
}
