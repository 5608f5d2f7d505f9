package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/motorcart-next/internal/app"
	"github.com/motorcart-next/internal/config"
	"github.com/motorcart-next/internal/logger"

	"github.com/gin-gonic/gin"
)

const (
	ansiReset     = "\033[0m"
	ansiBold      = "\033[1m"
	ansiDim       = "\033[2m"
	ansiGreen     = "\033[32m"
	ansiCyan      = "\033[36m"
	ansiBrightMag = "\033[95m"
)

func main() {
	// 解析命令行参数
	var mode string
	flag.StringVar(&mode, "mode", app.ModeAll, "启动模式: all (默认), api, worker")
	flag.Parse()

	printStartupBanner()

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "配置加载失败: %v\n", err)
		os.Exit(1)
	}
	base := logger.New(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	defer func() { _ = base.Sync() }()
	stdLog := logger.StdLogger(base)

	if cfg.ConfigFile != "" {
		base.Sugar().Infow("config_loaded", "file", cfg.ConfigFile)
	}

	if cfg.Server.Mode == "release" {
		if isWeakSecret(cfg.JWT.SecretKey) {
			stdLog.Fatalf("JWT secret 过弱或仍为默认值，请在生产环境中配置强随机密钥")
		}
	} else if isWeakSecret(cfg.JWT.SecretKey) {
		stdLog.Printf("警告: JWT secret 过弱或仍为默认值，建议在生产环境中更换")
	}

	// 设置 Gin 模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := app.Run(app.Options{
		Config:  cfg,
		Logger:  base.Sugar(),
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
		Mode:    mode,
	}); err != nil {
		stdLog.Fatalf("服务运行失败: %v", err)
	}
}

func printStartupBanner() {
	fmt.Println(ansiBrightMag + "╔══════════════════════════════════════════════════════════╗" + ansiReset)
	fmt.Println(ansiBrightMag + "║                 🚗 MotorCart-Next API 启动中               ║" + ansiReset)
	fmt.Println(ansiBrightMag + "╚══════════════════════════════════════════════════════════╝" + ansiReset)
	fmt.Println(ansiCyan + " __  __       _             ____           _   " + ansiReset)
	fmt.Println(ansiCyan + "|  \\/  | ___ | |_ ___  _ __/ ___|__ _ _ __| |_ " + ansiReset)
	fmt.Println(ansiCyan + "| |\\/| |/ _ \\| __/ _ \\| '__| |   / _` | '__| __|" + ansiReset)
	fmt.Println(ansiCyan + "| |  | | (_) | || (_) | |  | |__| (_| | |  | |_ " + ansiReset)
	fmt.Println(ansiCyan + "|_|  |_|\\___/ \\__\\___/|_|   \\____\\__,_|_|   \\__|" + ansiReset)
	fmt.Println(ansiGreen + ansiBold + "Inventory · Cart · Pricing · Orders" + ansiReset)
	fmt.Println(ansiDim + "--------------------------------------------------------------" + ansiReset)
}

func isWeakSecret(secret string) bool {
	if len(secret) < 32 {
		return true
	}
	normalized := strings.ToLower(secret)
	if strings.Contains(normalized, "change-me") ||
		strings.Contains(normalized, "change-in-production") ||
		strings.Contains(normalized, "your-secret-key") {
		return true
	}
	return false
}
