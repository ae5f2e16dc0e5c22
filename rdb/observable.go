package rdb

import (
	"context"
	"time"

	"github.com/hatlonely/crudgw/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type ObservableOptions struct {
	// Name 指标名前缀，同时作为日志的 component 字段和 tracer 名
	Name string `cfg:"name" def:"crudgw_gateway"`

	EnableMetrics bool `cfg:"enableMetrics" def:"true"`
	EnableLogging bool `cfg:"enableLogging" def:"true"`
	EnableTracing bool `cfg:"enableTracing" def:"false"`
}

type gatewayMetrics struct {
	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	activeOperations  *prometheus.GaugeVec
}

func newGatewayMetrics(name string, registerer prometheus.Registerer) (*gatewayMetrics, error) {
	m := &gatewayMetrics{
		operationCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: name + "_operations_total",
				Help: "Total number of gateway operations",
			},
			[]string{"operation", "table", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    name + "_operation_duration_seconds",
				Help:    "Duration of gateway operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"operation"},
		),
		activeOperations: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: name + "_active_operations",
				Help: "Number of in-flight gateway operations",
			},
			[]string{"operation"},
		),
	}

	var err error
	if m.operationCounter, err = register(registerer, m.operationCounter); err != nil {
		return nil, err
	}
	if m.operationDuration, err = register(registerer, m.operationDuration); err != nil {
		return nil, err
	}
	if m.activeOperations, err = register(registerer, m.activeOperations); err != nil {
		return nil, err
	}
	return m, nil
}

// register 同名指标已经注册过时复用已有的
func register[C prometheus.Collector](registerer prometheus.Registerer, c C) (C, error) {
	if err := registerer.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, errors.Wrap(err, "prometheus register failed")
	}
	return c, nil
}

// ObservableGateway 为 Gateway 加上指标、日志和链路追踪
type ObservableGateway struct {
	gateway Gateway

	logger        log.Logger
	metrics       *gatewayMetrics
	tracer        trace.Tracer
	name          string
	enableMetrics bool
	enableLogging bool
	enableTracing bool
}

// NewObservableGatewayWithOptions registerer 为空时使用 prometheus 默认的 registry
func NewObservableGatewayWithOptions(gateway Gateway, options *ObservableOptions, logger log.Logger, registerer prometheus.Registerer) (*ObservableGateway, error) {
	if gateway == nil {
		return nil, errors.New("gateway is nil")
	}
	if options == nil {
		options = &ObservableOptions{Name: "crudgw_gateway", EnableMetrics: true, EnableLogging: true}
	}
	if logger == nil {
		logger = log.Discard()
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	obs := &ObservableGateway{
		gateway:       gateway,
		logger:        logger.WithGroup("gateway"),
		name:          options.Name,
		enableMetrics: options.EnableMetrics,
		enableLogging: options.EnableLogging,
		enableTracing: options.EnableTracing,
	}

	if options.EnableMetrics {
		metrics, err := newGatewayMetrics(options.Name, registerer)
		if err != nil {
			return nil, errors.WithMessage(err, "failed to create metrics")
		}
		obs.metrics = metrics
	}
	if options.EnableTracing {
		obs.tracer = otel.Tracer("rdb." + options.Name)
	}

	return obs, nil
}

func (obs *ObservableGateway) observe(ctx context.Context, operation string, table string, fn func(context.Context) error) error {
	start := time.Now()

	var span trace.Span
	if obs.enableTracing && obs.tracer != nil {
		ctx, span = obs.tracer.Start(ctx, "gateway."+operation,
			trace.WithAttributes(
				attribute.String("component", obs.name),
				attribute.String("operation", operation),
				attribute.String("db.sql.table", table),
			),
		)
		defer span.End()
	}

	if obs.enableMetrics && obs.metrics != nil {
		obs.metrics.activeOperations.WithLabelValues(operation).Inc()
		defer obs.metrics.activeOperations.WithLabelValues(operation).Dec()
	}

	err := fn(ctx)
	duration := time.Since(start)
	status := operationStatus(err)

	if span != nil {
		span.SetAttributes(attribute.Int64("duration_ms", duration.Milliseconds()))
		if status == "error" {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}

	if obs.enableMetrics && obs.metrics != nil {
		obs.metrics.operationCounter.WithLabelValues(operation, tableLabel(table, err), status).Inc()
		obs.metrics.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	}

	if obs.enableLogging {
		args := []any{
			"component", obs.name,
			"operation", operation,
			"table", table,
			"duration_ms", duration.Milliseconds(),
		}
		var dbErr *DatabaseError
		switch {
		case err == nil:
			obs.logger.InfoContext(ctx, "gateway operation completed", args...)
		case errors.As(err, &dbErr) && dbErr.IntegrityViolation:
			obs.logger.WarnContext(ctx, "integrity constraint violated", append(args, "code", dbErr.Code, "error", err.Error())...)
		case status == "client_error":
			obs.logger.InfoContext(ctx, "gateway operation rejected", append(args, "error", err.Error())...)
		default:
			obs.logger.ErrorContext(ctx, "gateway operation failed", append(args, "error", err.Error())...)
		}
	}

	return err
}

// tableLabel 只有能确认表存在时才用表名做标签，避免任意表名撑爆指标
func tableLabel(table string, err error) string {
	if table == "" {
		return ""
	}
	if _, verr := ValidateTable(table); verr != nil {
		return "_invalid"
	}

	var dbErr *DatabaseError
	switch {
	case err == nil,
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrEmptyPayload),
		errors.As(err, &dbErr) && dbErr.IntegrityViolation:
		return table
	}
	return "_unknown"
}

func operationStatus(err error) string {
	var dbErr *DatabaseError
	switch {
	case err == nil:
		return "success"
	case IsClientError(err):
		return "client_error"
	case errors.As(err, &dbErr) && dbErr.IntegrityViolation:
		return "conflict"
	}
	return "error"
}

func (obs *ObservableGateway) ListTables(ctx context.Context, exec Executor) ([]string, error) {
	var tables []string
	err := obs.observe(ctx, "list_tables", "", func(ctx context.Context) error {
		var err error
		tables, err = obs.gateway.ListTables(ctx, exec)
		return err
	})
	return tables, err
}

func (obs *ObservableGateway) List(ctx context.Context, exec Executor, table string) ([]Row, error) {
	var rows []Row
	err := obs.observe(ctx, "list", table, func(ctx context.Context) error {
		var err error
		rows, err = obs.gateway.List(ctx, exec, table)
		return err
	})
	return rows, err
}

func (obs *ObservableGateway) Get(ctx context.Context, exec Executor, table string, id int64) (Row, error) {
	var row Row
	err := obs.observe(ctx, "get", table, func(ctx context.Context) error {
		var err error
		row, err = obs.gateway.Get(ctx, exec, table, id)
		return err
	})
	return row, err
}

func (obs *ObservableGateway) Insert(ctx context.Context, exec Executor, table string, payload Payload) (Row, error) {
	var row Row
	err := obs.observe(ctx, "insert", table, func(ctx context.Context) error {
		var err error
		row, err = obs.gateway.Insert(ctx, exec, table, payload)
		return err
	})
	return row, err
}

func (obs *ObservableGateway) Update(ctx context.Context, exec Executor, table string, id int64, payload Payload) (Row, error) {
	var row Row
	err := obs.observe(ctx, "update", table, func(ctx context.Context) error {
		var err error
		row, err = obs.gateway.Update(ctx, exec, table, id, payload)
		return err
	})
	return row, err
}

func (obs *ObservableGateway) Delete(ctx context.Context, exec Executor, table string, id int64) error {
	return obs.observe(ctx, "delete", table, func(ctx context.Context) error {
		return obs.gateway.Delete(ctx, exec, table, id)
	})
}

func (obs *ObservableGateway) CreateTable(ctx context.Context, exec Executor, table string, columns []ColumnDef) error {
	return obs.observe(ctx, "create_table", table, func(ctx context.Context) error {
		return obs.gateway.CreateTable(ctx, exec, table, columns)
	})
}
