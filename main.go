package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/quotewing/quotewing/api"
	"github.com/quotewing/quotewing/config"
	"github.com/quotewing/quotewing/models"
	"github.com/quotewing/quotewing/pkg/logger"
	"github.com/quotewing/quotewing/services/channel"
	"github.com/quotewing/quotewing/services/daily"
	"github.com/quotewing/quotewing/services/driver"
	"github.com/quotewing/quotewing/services/engine"
	"github.com/quotewing/quotewing/storage"
)

// 构建信息变量，通过Makefile的LDFLAGS注入
var (
	Version   = "v0.1.0"
	BuildTime = ""
	GoVersion = ""
)

func main() {
	// 命令行参数
	configPath := flag.String("config", "config.toml", "Path to config file")
	once := flag.Bool("once", false, "Run one delivery and exit (default when -serve is not set)")
	serve := flag.Bool("serve", false, "Start the HTTP API and the daily scheduler")
	channelName := flag.String("channel", "", "Delivery channel: voice | sms | email (default: content.channel)")
	force := flag.Bool("force", false, "Send even if today's message was already sent")
	dryRun := flag.Bool("dry-run", false, "Pick and format the message without sending it")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	// 显示版本信息
	if *version {
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Go Version: %s\n", GoVersion)
		os.Exit(0)
	}

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.InitLogger(cfg.Log)

	if *channelName != "" {
		cfg.Content.Channel = *channelName
	}
	logger.Debug(context.Background(), "Effective config:\n%s", cfg.Masked())

	// SIGINT / SIGTERM 取消进行中的投递
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 确保数据库目录存在
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}
	db, err := storage.NewBoltDB(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()
	logger.Info(ctx, "Database opened at %s", cfg.Database.Path)

	svc, err := newDailyService(cfg, db)
	if err != nil {
		db.Close()
		log.Fatalf("Failed to initialize delivery service: %v", err)
	}

	opts := daily.RunOptions{Force: *force, DryRun: *dryRun}

	if !*serve || *once {
		code := runOnce(ctx, svc, opts)
		db.Close()
		stop()
		os.Exit(code)
	}

	if err := runServer(ctx, cfg, db, svc, opts); err != nil {
		logger.Error(ctx, "Server stopped with error: %v", err)
		db.Close()
		os.Exit(1)
	}
}

// newDailyService 组装浏览器引擎、渠道和每日投递服务
func newDailyService(cfg *config.Config, db *storage.BoltDB) (*daily.Service, error) {
	engineOpts, err := engine.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	collector := engine.NewCollector(engine.CollectorConfig{
		Dir:      cfg.Artifacts.Dir,
		Markdown: cfg.Artifacts.Markdown,
		Index:    db,
	})
	eng := engine.New(engineOpts, driver.NewOpener(driver.OptionsFromConfig(cfg, db)), collector)

	return daily.NewService(cfg, db, func(name string) (channel.Channel, error) {
		return channel.New(name, cfg, eng)
	}), nil
}

// runOnce 执行一次投递并打印结果，返回进程退出码
func runOnce(ctx context.Context, svc *daily.Service, opts daily.RunOptions) int {
	run, err := svc.RunOnce(ctx, opts)
	if run != nil {
		summary, _ := json.MarshalIndent(run, "", "  ")
		fmt.Println(string(summary))
	}
	if err != nil {
		return 1
	}
	switch run.Status {
	case models.RunFailed, models.RunChallengeBlocked:
		return 1
	}
	return 0
}

// runServer 启动 HTTP API 和定时任务，直到收到退出信号
func runServer(ctx context.Context, cfg *config.Config, db *storage.BoltDB, svc *daily.Service, opts daily.RunOptions) error {
	router := api.SetupRouter(api.NewHandler(db, svc, cfg), cfg.Debug)
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	if cfg.Schedule.Enabled {
		go func() {
			if err := svc.Schedule(ctx, opts); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error(ctx, "Scheduler stopped: %v", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "QuoteWing server started at http://%s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info(context.Background(), "Received exit signal, shutting down")
	// 最多等待 10 秒
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info(context.Background(), "Server stopped")
	return nil
}
