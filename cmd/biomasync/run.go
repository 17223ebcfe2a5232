package main

import (
	"context"
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Matheusvlz/Sistema-Bioma-sub004/pkg/backend"
	"github.com/Matheusvlz/Sistema-Bioma-sub004/pkg/chatstore"
	"github.com/Matheusvlz/Sistema-Bioma-sub004/pkg/realtime"
)

func newRunCmd() *cobra.Command {
	var configPath string
	var room string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the backend feeds and stream realtime events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runEngine(cmd.Context(), cfg, room)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
	cmd.Flags().StringVar(&room, "room", "", "room to join on startup")
	return cmd
}

func runEngine(parent context.Context, cfg Config, room string) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store chatstore.MessageStore
	if cfg.CacheFile != "" {
		dsn, err := chatstore.DSNForFile(cfg.CacheFile)
		if err != nil {
			return errors.Wrap(err, "resolve message cache path")
		}
		s, err := chatstore.NewSQLiteStore(dsn)
		if err != nil {
			return errors.Wrap(err, "open message cache")
		}
		store = s
		log.Info().Str("file", cfg.CacheFile).Msg("using on-disk message cache")
	}

	client, err := backend.NewClient(cfg.BackendURL)
	if err != nil {
		return errors.Wrap(err, "build backend client")
	}

	engine, err := realtime.NewEngine(realtime.Config{
		ChatFeedURL:       cfg.ChatFeedURL,
		CallFeedURL:       cfg.CallFeedURL,
		LocalUserID:       cfg.UserID,
		LocalUserName:     cfg.UserName,
		Backend:           client,
		ReconnectDelay:    cfg.ReconnectDelay,
		HeartbeatInterval: cfg.HeartbeatInterval,
		CallAnswerTimeout: cfg.CallAnswerTimeout,
		Store:             store,
	})
	if err != nil {
		return errors.Wrap(err, "build engine")
	}
	defer func() {
		if err := engine.Close(); err != nil {
			log.Warn().Err(err).Msg("engine close")
		}
	}()
	if store != nil {
		defer func() { _ = store.Close() }()
	}

	if err := engine.Start(ctx); err != nil {
		// A failed first dial is degraded, not fatal: the feeds keep their
		// reconnect schedule armed.
		log.Warn().Err(err).Msg("initial connect failed, retrying in background")
	}
	if room != "" {
		engine.SetActiveRoom(room)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return logTopic(gctx, engine, realtime.TopicToasts) })
	g.Go(func() error { return logTopic(gctx, engine, realtime.TopicCalls) })
	g.Go(func() error { return logTopic(gctx, engine, realtime.TopicRooms) })

	log.Info().Int64("user_id", cfg.UserID).Msg("realtime engine running")
	<-ctx.Done()
	log.Info().Msg("shutting down")
	stop()
	return g.Wait()
}

// logTopic drains one notifier topic to the log until the context ends.
func logTopic(ctx context.Context, engine *realtime.Engine, topic string) error {
	ch, err := engine.Notifications(ctx, topic)
	if err != nil {
		return errors.Wrapf(err, "subscribe %s", topic)
	}
	for msg := range ch {
		logNotice(topic, msg)
		msg.Ack()
	}
	return nil
}

func logNotice(topic string, msg *message.Message) {
	var fields map[string]any
	if err := json.Unmarshal(msg.Payload, &fields); err != nil {
		log.Warn().Str("topic", topic).Msg("undecodable notification")
		return
	}
	log.Info().Str("topic", topic).Fields(fields).Msg("notification")
}
