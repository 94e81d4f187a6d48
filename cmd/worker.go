/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/servicehub/apiserver/config"
	"github.com/servicehub/apiserver/internal/events"
	"github.com/servicehub/apiserver/internal/logging"
	"github.com/spf13/cobra"
)

// workerCmd represents the worker command
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consumes marketplace events from the broker",
	Long: `Consumes moderation and review events from the configured broker
and logs them. Usage:

	servicehub worker
`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.LoadConfig()
		logging.Init(cfg.Env)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		bus, err := events.NewBusFromConfig(ctx, cfg.MQ)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to connect to broker: %v\n", err)
			os.Exit(1)
		}
		if bus == nil {
			fmt.Fprintln(os.Stderr, "no broker configured, set MQ_DRIVER")
			os.Exit(1)
		}
		defer func() {
			_ = bus.Close()
		}()

		go func() {
			err := bus.Subscribe(ctx, events.ChannelServiceModerated, handleServiceModerated)
			if err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("moderation subscription stopped")
			}
		}()

		err = bus.Subscribe(ctx, events.ChannelReviewCreated, handleReviewCreated)
		if err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("review subscription stopped")
		}
	},
}

func handleServiceModerated(ctx context.Context, msg events.Message) error {
	var event events.ServiceModerated
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return fmt.Errorf("decode moderation event: %w", err)
	}
	log.Info().
		Int("service_id", event.ServiceID).
		Int("provider_id", event.ProviderID).
		Str("status", string(event.Status)).
		Time("occurred_at", event.OccurredAt).
		Msg("service moderated")
	return nil
}

func handleReviewCreated(ctx context.Context, msg events.Message) error {
	var event events.ReviewCreated
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return fmt.Errorf("decode review event: %w", err)
	}
	log.Info().
		Int("review_id", event.ReviewID).
		Int("service_id", event.ServiceID).
		Int("author_id", event.AuthorID).
		Int("rating", event.Rating).
		Time("occurred_at", event.OccurredAt).
		Msg("review created")
	return nil
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
