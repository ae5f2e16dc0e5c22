package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hatlonely/crudgw/cfg"
	"github.com/hatlonely/crudgw/log"
	"github.com/hatlonely/crudgw/rdb"
	"github.com/hatlonely/crudgw/server"
	"github.com/pkg/errors"
)

type Config struct {
	Log     log.Options           `cfg:"log"`
	DB      rdb.SQLOptions        `cfg:"db"`
	Server  server.Options        `cfg:"server"`
	Gateway rdb.ObservableOptions `cfg:"gateway"`
}

func main() {
	configFile := flag.String("c", "", "config file (json, yaml, toml or ini)")
	envPrefix := flag.String("env-prefix", "", "prefix of environment variables overriding the config, e.g. DB_USER without a prefix")
	flag.Parse()

	if err := run(*configFile, *envPrefix); err != nil {
		fmt.Fprintf(os.Stderr, "crudgw: %+v\n", err)
		os.Exit(1)
	}
}

// loadConfig 默认值 < 配置文件 < 环境变量，前缀为空时直接读 DB_USER、DB_HOST 等
func loadConfig(configFile string, envPrefix string, extra ...cfg.Option) (*Config, error) {
	opts := []cfg.Option{cfg.WithEnvPrefix(envPrefix)}
	if configFile != "" {
		opts = append(opts, cfg.WithFile(configFile))
	}

	var config Config
	if err := cfg.Load(&config, append(opts, extra...)...); err != nil {
		return nil, errors.WithMessage(err, "load config failed")
	}
	return &config, nil
}

func run(configFile string, envPrefix string) error {
	config, err := loadConfig(configFile, envPrefix)
	if err != nil {
		return err
	}

	logger, err := log.NewLogWithOptions(&config.Log)
	if err != nil {
		return errors.WithMessage(err, "create logger failed")
	}
	defer logger.Close()

	db, err := rdb.NewSQLWithOptions(&config.DB)
	if err != nil {
		return errors.WithMessage(err, "open database failed")
	}
	defer db.Close()
	db.SetLogger(logger.WithGroup("sql"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := db.Ping(ctx); err != nil {
		// 数据库暂时不可用时照常启动，/healthz 会返回 503
		logger.Warn("database ping failed", "driver", config.DB.Driver, "error", err.Error())
	}

	gateway, err := rdb.NewObservableGatewayWithOptions(rdb.NewGateway(db.Dialect()), &config.Gateway, logger, nil)
	if err != nil {
		return errors.WithMessage(err, "create gateway failed")
	}

	srv, err := server.New(&config.Server, db, gateway, logger, nil)
	if err != nil {
		return errors.WithMessage(err, "create server failed")
	}

	logger.Info("crudgw starting", "driver", config.DB.Driver, "addr", config.Server.Addr)
	if err := srv.Run(ctx); err != nil {
		return err
	}
	logger.Info("crudgw stopped")
	return nil
}
