package cli

import (
	"os"

	"rumcapture/internal/config"
	"rumcapture/internal/logger"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "rumcapture",
	Short:         "Real user monitoring session capture for a browser tab",
	Long:          "Attaches to a Chromium tab over the DevTools protocol, records a privacy-masked session timeline with rage/dead click detection and web vitals, and delivers sampled sessions to an ingestion endpoint.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (env RUM_* overrides)")
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig 引导阶段先用控制台日志，配置加载完成后再按配置创建正式日志
func loadConfig() (*config.Config, logger.Logger, error) {
	boot := logger.New(logger.Options{Level: "warn", Writer: []string{"console"}})
	cfg, err := config.Load(configPath, boot)
	if err != nil {
		return nil, nil, err
	}
	l := logger.New(logger.Options{
		Level:  cfg.Log.Level,
		Writer: cfg.Log.Writer,
		File:   cfg.Log.File,
	})
	return cfg, l, nil
}
