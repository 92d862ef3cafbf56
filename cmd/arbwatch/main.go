package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"arb-watch-go/internal/container"
)

var configPath string

// rootCmd arbwatch 命令入口
var rootCmd = &cobra.Command{
	Use:   "arbwatch",
	Short: "Cross-exchange crypto spread watcher",
	Long: `arbwatch 定时从多个交易所拉取公开报价，计算跨所价差（可扣除手续费），
通过 HTTP API 提供给看板，并按计划推送到邮件或 Notion。`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler and HTTP API until SIGINT/SIGTERM",
	RunE:  runService,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "配置文件路径")
	rootCmd.AddCommand(runCmd, onceCmd, feesCmd, venuesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runService(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	c, err := container.New(configPath)
	if err != nil {
		return err
	}
	if err := c.Build(ctx); err != nil {
		return err
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return err
	}
	log := c.Logger()
	// 非 systemd 环境下 SdNotify 返回 (false, nil)
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn("sd_notify ready failed", zap.Error(err))
	} else if ok {
		log.Info("notified systemd: ready")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	cancel()
	return c.Stop()
}
