package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"asplatform-backend/pkg/config"
	"asplatform-backend/pkg/logger"
	"asplatform-backend/pkg/server"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// 命令行参数
	configPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	version := flag.Bool("version", false, "显示版本信息")
	flag.Parse()

	// 显示版本信息
	if *version {
		fmt.Printf("asplatform-server version %s (built at %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	// 获取工作区根目录
	workspaceRoot, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error getting current directory: %v\n", err)
		os.Exit(1)
	}

	// 加载配置
	cfg, err := config.LoadServerConfig(*configPath, workspaceRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	log := logger.NewLogger(cfg.Log.Debug)
	if cfg.Log.File != "" {
		log.SetLogOutput(cfg.Log.File)
	}

	// 创建服务器实例
	srv, err := server.New(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating server: %v\n", err)
		os.Exit(1)
	}

	// 启动服务器
	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting server: %v\n", err)
		os.Exit(1)
	}

	mainLogger := log.GetLogger("main")
	mainLogger.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Msg("Server started successfully")

	// 等待信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	// 优雅关闭
	if err := srv.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "Error stopping server: %v\n", err)
		os.Exit(1)
	}
}
