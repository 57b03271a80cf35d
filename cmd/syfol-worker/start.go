package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/syfol/syfol-worker/internal/config"
	"github.com/syfol/syfol-worker/internal/quota"
	"github.com/syfol/syfol-worker/internal/search"
	"github.com/syfol/syfol-worker/internal/stats"
	"github.com/syfol/syfol-worker/internal/store"
	"github.com/syfol/syfol-worker/internal/twitter"
	"github.com/syfol/syfol-worker/internal/worker"
	"github.com/syfol/syfol-worker/pkg/client"
)

func newStartCmd() *cobra.Command {
	var envPath string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the follow worker until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader()
			if envPath != "" {
				if err := loader.SetPath(envPath); err != nil {
					return err
				}
			}
			cfg, err := loader.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration from %s: %w", loader.Path(), err)
			}
			cfg.SetupLogging()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&envPath, "env", "", "path of the env file (default $ENV_PATH or $HOME/.syfol)")
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	db, err := store.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logrus.WithError(err).Error("Failed to close the follow store")
		}
	}()

	tc, err := client.NewTwitterClient(client.Credentials{
		ConsumerKey:    cfg.Twitter.ConsumerKey,
		ConsumerSecret: cfg.Twitter.ConsumerSecret,
		AccessToken:    cfg.Twitter.AccessToken,
		AccessSecret:   cfg.Twitter.AccessSecret,
	},
		client.BaseURL(cfg.APIBaseURL),
		client.Timeout(cfg.HTTPTimeout),
		client.MaxRetries(cfg.HTTPMaxRetries),
	)
	if err != nil {
		return err
	}
	api := twitter.NewAPI(tc)

	if user, err := api.VerifyCredentials(ctx); err != nil {
		logrus.WithError(err).Warn("Could not verify the Twitter credentials")
	} else {
		logrus.Infof("Acting as @%s (%s)", user.ScreenName, user.IDStr)
	}

	collectorCtx, cancelCollector := context.WithCancel(context.Background())
	defer cancelCollector()
	collector := stats.StartCollector(collectorCtx, cfg.StatsBufSize)

	quotas := quota.NewRegistry()
	paginator := search.NewPaginator(api,
		quotas.Limiter(quota.TwitterSearch, cfg.SearchQuota.Limit, cfg.SearchQuota.Window),
		search.WithStats(collector),
	)

	scheduler := worker.New(cfg, worker.Deps{
		Store:  db,
		API:    api,
		Search: paginator,
		Quotas: quotas,
		Stats:  collector,
	})
	if err := scheduler.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logrus.Info("Shutting down, waiting for the running cycle to finish")
	scheduler.Stop()
	<-scheduler.Done()

	if data, err := collector.Json(); err == nil {
		logrus.Infof("Final stats: %s", data)
	}
	return nil
}
