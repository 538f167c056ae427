package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fablab/autonomy-core/internal/api"
	"github.com/fablab/autonomy-core/internal/taskhandlers"
	"github.com/fablab/autonomy-core/internal/workflowrt"
)

var (
	temporalHostPort string
	temporalNS       string
	devLogging       bool
)

func init() {
	serveCmd.Flags().StringVar(&temporalHostPort, "temporal-host-port", "", "Temporal server address (defaults to 127.0.0.1:7233)")
	serveCmd.Flags().StringVar(&temporalNS, "temporal-namespace", "", "Temporal namespace")
	serveCmd.Flags().BoolVar(&devLogging, "dev-log", false, "use a human-readable text log handler instead of JSON")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler, task executor, durable workflow worker, and HTTP control surface",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		d, err := buildDeps(devLogging)
		if err != nil {
			return err
		}
		defer d.close()

		if err := d.scheduler.Reconcile(time.Now().UTC()); err != nil {
			return err
		}

		idleStop := make(chan struct{})
		go d.idleSensor.Run(idleStop)
		go func() {
			<-ctx.Done()
			close(idleStop)
		}()

		go d.scheduler.Run(ctx)

		go func() {
			wfCfg := workflowrt.Config{HostPort: temporalHostPort, Namespace: temporalNS}
			handlers := taskhandlers.Build(taskhandlers.Deps{
				Research:    d.collab,
				KB:          d.collab,
				Fabrication: d.fabrication,
				KBStore:     d.st,
				PrintStore:  d.st,
				Log:         d.log,
			})
			if err := workflowrt.StartWorker(wfCfg, d.st, handlers, d.log); err != nil {
				d.log.Error("autonomy-core.workflow_worker_stopped", "error", err)
			}
		}()

		apiCfg := api.Config{
			Bind: d.cfg.API.Bind,
			Security: api.SecurityConfig{
				Enabled:          d.cfg.API.Security.Enabled,
				AllowedTokens:    d.cfg.API.Security.AllowedTokens,
				RequireLocalOnly: d.cfg.API.Security.RequireLocalOnly,
				AuditLog:         d.cfg.API.Security.AuditLog,
			},
		}
		srv, err := api.NewServer(apiCfg, d.st, d.workflow, d.gate, d.log)
		if err != nil {
			return err
		}
		defer srv.Close()

		d.log.Info("autonomy-core.serving", "bind", apiCfg.Bind)
		if err := srv.Start(ctx); err != nil {
			return err
		}

		d.log.Info("autonomy-core.shutdown")
		return nil
	},
}
