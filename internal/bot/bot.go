// Package bot wires the Twitch IRC connection to the raid game.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/twitch-raid-bot/internal/bot/commands"
	"github.com/jensholdgaard/twitch-raid-bot/internal/clock"
	"github.com/jensholdgaard/twitch-raid-bot/internal/config"
	"github.com/jensholdgaard/twitch-raid-bot/internal/dispatch"
	"github.com/jensholdgaard/twitch-raid-bot/internal/game"
	"github.com/jensholdgaard/twitch-raid-bot/internal/rng"
	"github.com/jensholdgaard/twitch-raid-bot/internal/store"
)

// Reconnect policy for dropped chat connections.
const (
	reconnectMaxAttempts = 10
	reconnectBaseDelay   = 30 * time.Second
	reconnectMaxDelay    = 5 * time.Minute
)

// Bot wraps the IRC client, the dispatcher, and the game managers.
type Bot struct {
	client    *twitch.Client
	cfg       config.TwitchConfig
	queue     *dispatch.Queue
	scheduler *game.Scheduler
	handlers  *commands.Handlers
	rng       rng.Source
	logger    *slog.Logger
	clock     clock.Clock
}

// New builds the full chat-facing stack: IRC client, rate-limited
// dispatcher, raid scheduler, and command handlers.
func New(cfg *config.Config, repos *store.Repositories, logger *slog.Logger, tp trace.TracerProvider, clk clock.Clock, src rng.Source) *Bot {
	client := twitch.NewClient(cfg.Twitch.Username, cfg.Twitch.OAuthToken)

	channel := cfg.Twitch.Channel
	queue := dispatch.New(cfg.RateLimits, func(msg string) error {
		client.Say(channel, msg)
		return nil
	}, logger, clk)

	engine := game.NewEngine(cfg.Game, src)
	scheduler := game.NewScheduler(repos, engine, queue, cfg.Game, src, logger, tp, clk)

	economy := game.NewEconomy(repos.Users, repos.Inventory, logger, tp)
	cashin := game.NewCashin(repos.Users, repos.Redemptions, economy, cfg.Cashin,
		cfg.Game.StreamerApprovalRequired, logger, tp, clk)
	titles := game.NewTitles(repos.Users, repos.Titles, economy, logger, tp)
	vendetta := game.NewVendetta(repos.Users, repos.Kills, logger, tp)

	handlers := commands.NewHandlers(repos, scheduler, economy, cashin, titles, vendetta,
		queue, channel, logger, tp)

	return &Bot{
		client:    client,
		cfg:       cfg.Twitch,
		queue:     queue,
		scheduler: scheduler,
		handlers:  handlers,
		rng:       src,
		logger:    logger,
		clock:     clk,
	}
}

// Scheduler exposes the raid scheduler, for health reporting.
func (b *Bot) Scheduler() *game.Scheduler {
	return b.scheduler
}

// Start connects to chat and begins the raid cycle once the connection
// is up. It returns after the connection attempt is underway; dropped
// connections are retried with backoff in the background.
func (b *Bot) Start(ctx context.Context) error {
	b.client.OnConnect(func() {
		b.logger.InfoContext(ctx, "connected to chat", slog.String("channel", b.cfg.Channel))
		if err := b.scheduler.Start(ctx); err != nil && !errors.Is(err, game.ErrAlreadyStarted) {
			b.logger.ErrorContext(ctx, "failed to start raid scheduler", slog.Any("error", err))
		}
	})

	b.client.OnPrivateMessage(func(m twitch.PrivateMessage) {
		if !strings.HasPrefix(m.Message, "!") {
			return
		}
		b.handlers.Handle(ctx, m.User.Name, m.Message)
	})

	b.client.Join(b.cfg.Channel)

	go b.connectLoop(ctx)
	return nil
}

// connectLoop keeps the IRC connection alive. Each attempt that drops
// early counts toward the attempt cap; a connection that held for a
// while resets it. Delays double from the base up to the max, with up
// to 50% jitter.
func (b *Bot) connectLoop(ctx context.Context) {
	attempts := 0
	for {
		started := b.clock.Now()
		err := b.client.Connect()
		if err == nil || errors.Is(err, twitch.ErrClientDisconnected) || ctx.Err() != nil {
			return
		}
		if errors.Is(err, twitch.ErrLoginAuthenticationFailed) {
			b.logger.ErrorContext(ctx, "chat login rejected, not retrying", slog.Any("error", err))
			return
		}

		if b.clock.Now().Sub(started) > reconnectMaxDelay {
			attempts = 0
		}
		attempts++
		if attempts > reconnectMaxAttempts {
			b.logger.ErrorContext(ctx, "giving up on chat reconnection",
				slog.Int("attempts", attempts-1), slog.Any("error", err))
			return
		}

		delay := reconnectBaseDelay << (attempts - 1)
		if delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
		delay += time.Duration(b.rng.Float64() * float64(delay) / 2)

		b.logger.ErrorContext(ctx, "chat connection lost, reconnecting",
			slog.Int("attempt", attempts),
			slog.Duration("delay", delay),
			slog.Any("error", err),
		)
		b.clock.Sleep(delay)
	}
}

// Stop halts the raid cycle, drops pending announcements, and closes
// the chat connection.
func (b *Bot) Stop() error {
	b.scheduler.Stop()
	b.queue.Clear()
	return b.client.Disconnect()
}
