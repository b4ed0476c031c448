package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ruteri/keybox-sentinel/cmd/flags"
	"github.com/ruteri/keybox-sentinel/cryptoutils"
	"github.com/ruteri/keybox-sentinel/httpserver"
	"github.com/ruteri/keybox-sentinel/interfaces"
	"github.com/ruteri/keybox-sentinel/monitor"
	"github.com/ruteri/keybox-sentinel/notify"
	"github.com/ruteri/keybox-sentinel/revocation"
	"github.com/ruteri/keybox-sentinel/settings"
	"github.com/ruteri/keybox-sentinel/storage"
	"github.com/urfave/cli/v2"
)

var daemonFlags = []cli.Flag{
	&cli.StringSliceFlag{
		Name:    "storage",
		Value:   cli.NewStringSlice("file:///var/lib/keybox-sentinel"),
		Usage:   "storage location URIs for settings and the revocation cache (file://, s3://, vault://); reads use the first that has the document, writes go to all",
		EnvVars: []string{"KEYBOX_STORAGE"},
	},
	&cli.StringFlag{
		Name:    "settings-seed",
		Usage:   "YAML file with initial settings, applied only when no settings were stored yet",
		EnvVars: []string{"KEYBOX_SETTINGS_SEED"},
	},
	&cli.StringFlag{
		Name:    "revocation-url",
		Value:   revocation.DefaultURL,
		Usage:   "revocation status document URL",
		EnvVars: []string{"KEYBOX_REVOCATION_URL"},
	},
	&cli.DurationFlag{
		Name:    "freshness-window",
		Value:   revocation.DefaultFreshnessWindow,
		Usage:   "use the cached revocation document without a request while younger than this",
		EnvVars: []string{"KEYBOX_FRESHNESS_WINDOW"},
	},
	&cli.DurationFlag{
		Name:    "connect-timeout",
		Value:   revocation.DefaultConnectTimeout,
		Usage:   "revocation download connect timeout",
		EnvVars: []string{"KEYBOX_CONNECT_TIMEOUT"},
	},
	&cli.DurationFlag{
		Name:    "read-timeout",
		Value:   revocation.DefaultReadTimeout,
		Usage:   "revocation download read timeout",
		EnvVars: []string{"KEYBOX_READ_TIMEOUT"},
	},
	&cli.StringFlag{
		Name:    "anchor",
		Value:   "tdx",
		Usage:   "trust anchor provider: 'tdx', 'tdx-remote', 'remote', 'pem' or 'self-signed'",
		EnvVars: []string{"KEYBOX_ANCHOR"},
	},
	&cli.StringFlag{
		Name:    "anchor-fallback",
		Usage:   "provider retried once when the anchor fails (same values as --anchor)",
		EnvVars: []string{"KEYBOX_ANCHOR_FALLBACK"},
	},
	&cli.StringFlag{
		Name:    "anchor-pem",
		Usage:   "PEM chain file for the 'pem' provider, leaf first",
		EnvVars: []string{"KEYBOX_ANCHOR_PEM"},
	},
	&cli.StringFlag{
		Name:    "anchor-addr",
		Value:   "http://127.0.0.1:8850",
		Usage:   "attestation agent address for the 'remote' and 'tdx-remote' providers",
		EnvVars: []string{"KEYBOX_ANCHOR_ADDR"},
	},
	&cli.StringFlag{
		Name:    "device-id",
		Usage:   "device identifier attached to remote notifications (defaults to the hostname)",
		EnvVars: []string{"KEYBOX_DEVICE_ID"},
	},
	&cli.StringFlag{
		Name:    "notify-webhook",
		Usage:   "URL to POST status and alert notifications to",
		EnvVars: []string{"KEYBOX_NOTIFY_WEBHOOK"},
	},
	&cli.StringSliceFlag{
		Name:    "notify-kafka-brokers",
		Usage:   "Kafka brokers to publish notifications to",
		EnvVars: []string{"KEYBOX_NOTIFY_KAFKA_BROKERS"},
	},
	&cli.StringFlag{
		Name:    "notify-kafka-topic",
		Value:   "keybox-status",
		Usage:   "Kafka topic for notifications",
		EnvVars: []string{"KEYBOX_NOTIFY_KAFKA_TOPIC"},
	},
	&cli.DurationFlag{
		Name:    "initial-delay",
		Value:   monitor.BootDelay,
		Usage:   "delay before the first automatic check after start",
		EnvVars: []string{"KEYBOX_INITIAL_DELAY"},
	},
	&cli.StringFlag{
		Name:    "probe",
		Value:   "host",
		Usage:   "constraint probe: 'host' observes this machine, 'none' treats every constraint as met",
		EnvVars: []string{"KEYBOX_PROBE"},
	},
	&cli.StringFlag{
		Name:    "probe-host",
		Value:   "android.googleapis.com",
		Usage:   "host resolved to decide whether the network is up",
		EnvVars: []string{"KEYBOX_PROBE_HOST"},
	},
	&cli.DurationFlag{
		Name:    "recheck-interval",
		Value:   monitor.DefaultRecheckInterval,
		Usage:   "how often a due check re-evaluates unmet constraints",
		EnvVars: []string{"KEYBOX_RECHECK_INTERVAL"},
	},
}

func main() {
	app := &cli.App{
		Name:  "keyboxd",
		Usage: "Monitor the device attestation chain against the published revocation list",
		Flags: append(daemonFlags, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)
			ctx := context.Background()

			storageFactory := storage.NewStorageBackendFactory(logger)
			var locations []interfaces.StorageBackendLocation
			for _, uri := range cCtx.StringSlice("storage") {
				location, err := interfaces.NewStorageBackendLocation(uri)
				if err != nil {
					logger.Error("Invalid storage location", "err", err, "uri", uri)
					return err
				}
				locations = append(locations, location)
			}
			backend, err := storageFactory.CreateMultiBackend(locations)
			if err != nil {
				logger.Error("Failed to create storage backend", "err", err)
				return err
			}
			logger.Info("Storage ready", "backend", backend.Name())

			settingsStore := settings.NewStore(backend, logger)
			if seedPath := cCtx.String("settings-seed"); seedPath != "" {
				if err := seedSettings(ctx, settingsStore, seedPath); err != nil {
					logger.Error("Failed to seed settings", "err", err, "path", seedPath)
					return err
				}
			}

			cache := revocation.NewCache(backend, logger)
			fetcher := revocation.NewFetcher(revocation.FetcherConfig{
				URL:             cCtx.String("revocation-url"),
				FreshnessWindow: cCtx.Duration("freshness-window"),
				ConnectTimeout:  cCtx.Duration("connect-timeout"),
				ReadTimeout:     cCtx.Duration("read-timeout"),
			}, cache, logger)
			evaluator := revocation.NewEvaluator(fetcher, logger)

			anchor, err := trustAnchorFor(cCtx, cCtx.String("anchor"))
			if err != nil {
				logger.Error("Invalid trust anchor", "err", err)
				return err
			}
			if fallbackKind := cCtx.String("anchor-fallback"); fallbackKind != "" {
				fallback, err := trustAnchorFor(cCtx, fallbackKind)
				if err != nil {
					logger.Error("Invalid fallback trust anchor", "err", err)
					return err
				}
				anchor = &cryptoutils.FallbackChainProvider{Preferred: anchor, Fallback: fallback, Log: logger}
			}

			sink, closeSinks := notificationSinks(cCtx, logger)
			defer closeSinks()

			var probe monitor.ConditionProbe = monitor.AlwaysConnected
			switch cCtx.String("probe") {
			case "host":
				probe = monitor.NewHostProbe(cCtx.String("probe-host"))
			case "none":
			default:
				return fmt.Errorf("invalid probe: %s", cCtx.String("probe"))
			}
			jobs := monitor.NewTimerScheduler(probe, cCtx.Duration("recheck-interval"), logger)

			coordinator := monitor.NewCoordinator(settingsStore, anchor, evaluator, jobs, sink, logger)

			handler := httpserver.NewHandler(coordinator, settingsStore, jobs, logger)
			server, err := httpserver.New(flags.ConfigureServer(cCtx, logger), handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}
			server.RunInBackground()

			if err := coordinator.Start(ctx, cCtx.Duration("initial-delay")); err != nil {
				logger.Error("Failed to start monitoring", "err", err)
				server.Shutdown()
				return err
			}

			// Wait for termination signal
			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Monitor is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			server.Drain()
			server.Shutdown()
			jobs.Stop()
			logger.Info("Shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func seedSettings(ctx context.Context, store *settings.Store, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	seed, err := settings.LoadSeed(f)
	if err != nil {
		return err
	}
	_, err = store.Seed(ctx, seed)
	return err
}

func trustAnchorFor(cCtx *cli.Context, kind string) (interfaces.TrustAnchorProvider, error) {
	agentClient := &http.Client{Timeout: 30 * time.Second}

	switch kind {
	case "tdx":
		return &cryptoutils.TDXChainProvider{Quotes: cryptoutils.DCAPQuoteProvider{}}, nil
	case "tdx-remote":
		return &cryptoutils.TDXChainProvider{Quotes: &cryptoutils.RemoteQuoteProvider{Address: cCtx.String("anchor-addr"), Client: agentClient}}, nil
	case "remote":
		return &cryptoutils.RemoteChainProvider{Address: cCtx.String("anchor-addr"), Client: agentClient}, nil
	case "pem":
		path := cCtx.String("anchor-pem")
		if path == "" {
			return nil, errors.New("anchor-pem is required for the 'pem' provider")
		}
		return &cryptoutils.PEMChainProvider{Path: path}, nil
	case "self-signed":
		return &cryptoutils.SelfSignedChainProvider{}, nil
	default:
		return nil, fmt.Errorf("unknown trust anchor provider: %s", kind)
	}
}

func notificationSinks(cCtx *cli.Context, logger *slog.Logger) (interfaces.NotificationSink, func()) {
	deviceID := cCtx.String("device-id")
	if deviceID == "" {
		deviceID, _ = os.Hostname()
	}

	sinks := []interfaces.NotificationSink{notify.NewLogSink(logger)}
	closers := []func() error{}

	if url := cCtx.String("notify-webhook"); url != "" {
		sinks = append(sinks, notify.NewWebhookSink(url, deviceID, notify.DefaultWebhookTimeout))
		logger.Info("Webhook notifications enabled", "url", url)
	}
	if brokers := cCtx.StringSlice("notify-kafka-brokers"); len(brokers) > 0 {
		kafkaSink := notify.NewKafkaSink(brokers, cCtx.String("notify-kafka-topic"), deviceID, logger)
		sinks = append(sinks, kafkaSink)
		closers = append(closers, kafkaSink.Close)
		logger.Info("Kafka notifications enabled", "brokers", brokers, "topic", cCtx.String("notify-kafka-topic"))
	}

	return notify.NewMultiSink(sinks...), func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				logger.Error("Failed to close notification sink", "err", err)
			}
		}
	}
}
