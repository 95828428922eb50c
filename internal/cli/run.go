package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"rumcapture/pkg/api"
	"rumcapture/pkg/model"

	"github.com/spf13/cobra"
)

var (
	runDevTools string
	runEndpoint string
	runArchive  string
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runDevTools, "devtools", "", "DevTools HTTP endpoint (overrides devtools.url)")
	runCmd.Flags().StringVar(&runEndpoint, "endpoint", "", "session ingestion URL (overrides transport.endpoint)")
	runCmd.Flags().StringVar(&runArchive, "archive", "", "SQLite archive path (overrides sqlite.dsn)")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Attach to a tab and capture sessions until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runCapture,
}

func runCapture(cmd *cobra.Command, _ []string) error {
	cfg, l, err := loadConfig()
	if err != nil {
		return err
	}
	if runDevTools != "" {
		cfg.DevTools.URL = runDevTools
	}
	if runEndpoint != "" {
		cfg.Transport.Endpoint = runEndpoint
	}
	if runArchive != "" {
		cfg.Sqlite.Dsn = runArchive
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	svc, err := api.NewService(connectCtx, cfg, api.Options{
		Logger: l,
		OnEnd: func(s model.Session) {
			l.Info("会话摘要", "sessionID", string(s.SessionID), "events", len(s.Events),
				"pagesViewed", s.Metadata.PagesViewed, "errors", s.Metadata.Errors)
		},
	})
	if err != nil {
		return fmt.Errorf("attach browser: %w", err)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			l.Err(err, "关闭服务失败")
		}
	}()

	id, err := svc.StartSession()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "capturing session %s (Ctrl+C to stop)\n", id)

	// 会话因超时或页面卸载结束后自动开始下一个
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, ok := svc.ActiveSession(); ok {
				continue
			}
			if next, err := svc.StartSession(); err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "capturing session %s\n", next)
			} else {
				l.Debug("未能开始新会话", "error", err)
			}
		}
	}
}
