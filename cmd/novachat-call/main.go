// novachat-call is a headless call endpoint for testing and kiosk setups: it
// joins the shared call store as a user, dials another user or waits for an
// incoming call, and runs the full offer/answer/candidate exchange with real
// capture devices (or synthetic tracks with --synthetic).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/redis/go-redis/v9"

	"github.com/aryan25798/NovaChat-sub003/internal/call"
	"github.com/aryan25798/NovaChat-sub003/internal/ice"
	"github.com/aryan25798/NovaChat-sub003/internal/media"
	"github.com/aryan25798/NovaChat-sub003/internal/peer"
	signalstore "github.com/aryan25798/NovaChat-sub003/internal/signal"
)

type options struct {
	user      string
	dial      string
	callType  string
	chatID    string
	redisAddr string
	redisPass string
	redisDB   int
	iceURL    string
	duration  time.Duration
	synthetic bool
	logLevel  string
}

func main() {
	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := newLogger(opts.logLevel)
	slog.SetDefault(logger)

	if err := run(opts, logger); err != nil {
		logger.Error("call endpoint failed", "err", err)
		os.Exit(1)
	}
}

func parseOptions(args []string) (options, error) {
	var opts options

	fs := flag.NewFlagSet("novachat-call", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.StringVar(&opts.user, "user", "", "user ID this endpoint signs in as (required)")
	fs.StringVar(&opts.dial, "dial", "", "user ID to call; empty waits for an incoming call instead")
	fs.StringVar(&opts.callType, "type", "voice", "call type: voice or video")
	fs.StringVar(&opts.chatID, "chat", "", "conversation the call outcome line is appended to")
	fs.StringVar(&opts.redisAddr, "redis-addr", "localhost:6379", "redis address of the shared call store")
	fs.StringVar(&opts.redisPass, "redis-password", "", "redis password")
	fs.IntVar(&opts.redisDB, "redis-db", 0, "redis database")
	fs.StringVar(&opts.iceURL, "ice-url", "", "ICE handout endpoint (e.g. https://calls.example.com/webrtc/ice); empty uses public STUN")
	fs.DurationVar(&opts.duration, "duration", 0, "hang up this long after connecting; 0 runs until the call ends")
	fs.BoolVar(&opts.synthetic, "synthetic", false, "send silence/black frames instead of capturing devices")
	fs.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if opts.user == "" {
		return options{}, fmt.Errorf("--user is required")
	}
	if _, err := signalstore.ParseCallType(opts.callType); err != nil {
		return options{}, err
	}
	return opts, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func run(opts options, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		source media.Source
		api    *webrtc.API
		err    error
	)
	if opts.synthetic {
		source = media.SyntheticSource{}
		api, err = peer.NewAPI(logger, nil)
	} else {
		var devices *media.DeviceSource
		devices, err = media.NewDeviceSource()
		if err != nil {
			return fmt.Errorf("open capture devices: %w", err)
		}
		source = devices
		api, err = peer.NewAPI(logger, func(engine *webrtc.MediaEngine) error {
			devices.RegisterCodecs(engine)
			return nil
		})
	}
	if err != nil {
		return fmt.Errorf("configure webrtc: %w", err)
	}

	iceServers := ice.NewProvider(opts.iceURL, 0, logger).Servers(ctx)

	client := redis.NewClient(&redis.Options{
		Addr:     opts.redisAddr,
		Password: opts.redisPass,
		DB:       opts.redisDB,
	})
	defer client.Close()
	store := signalstore.NewRedisStore(client, logger)
	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("call store unreachable: %w", err)
	}

	mgr, err := call.NewManager(ctx, opts.user, store, api, source, call.NopAlerter{}, call.Config{ICEServers: iceServers}, logger)
	if err != nil {
		return fmt.Errorf("start call manager: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		mgr.Shutdown(shutdownCtx)
	}()

	if opts.dial != "" {
		callType, _ := signalstore.ParseCallType(opts.callType)
		logger.Info("dialing", "to", opts.dial, "call_type", callType)
		if err := mgr.StartCall(ctx, opts.dial, callType, opts.chatID); err != nil {
			return fmt.Errorf("start call: %w", err)
		}
		return supervise(ctx, mgr, opts.duration, logger, false)
	}

	logger.Info("waiting for incoming calls", "user", opts.user)
	return supervise(ctx, mgr, opts.duration, logger, true)
}

// supervise polls the manager until the endpoint is done: a dialer exits when
// its call ends, a waiting endpoint answers rings and keeps serving until
// interrupted.
func supervise(ctx context.Context, mgr *call.Manager, duration time.Duration, logger *slog.Logger, answerIncoming bool) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	var (
		sawCall     bool
		hangupTimer <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hangupTimer:
			logger.Info("duration elapsed, hanging up")
			if err := mgr.EndCall(context.Background(), true); err != nil && !errors.Is(err, call.ErrNoActiveSession) {
				logger.Warn("hangup failed", "err", err)
			}
			if !answerIncoming {
				return nil
			}
			hangupTimer = nil
		case <-ticker.C:
			snap := mgr.Snapshot()
			switch {
			case answerIncoming && snap.Incoming && snap.Status == call.StatusRinging:
				logger.Info("answering incoming call", "from", snap.OtherUser, "call_type", snap.Type)
				if err := mgr.AnswerCall(ctx); err != nil && !errors.Is(err, call.ErrNoIncomingCall) {
					logger.Warn("answer failed", "err", err)
				}
			case snap.Status == call.StatusConnected:
				if !sawCall {
					sawCall = true
					logger.Info("call connected", "with", snap.OtherUser)
					if duration > 0 {
						hangupTimer = time.After(duration)
					}
				}
			case snap.Status == call.StatusIdle && sawCall:
				if !answerIncoming {
					logger.Info("call finished")
					return nil
				}
				sawCall = false
				hangupTimer = nil
			case snap.Status == call.StatusIdle && !sawCall && !answerIncoming:
				// The dialed call never connected (missed, rejected or failed).
				logger.Info("call over without connecting")
				return nil
			}
		}
	}
}
