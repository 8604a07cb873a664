package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"stock-scanner/config"
	"stock-scanner/internal/logger"
	"stock-scanner/internal/model"
	"stock-scanner/internal/notify"
	"stock-scanner/internal/provider"
	"stock-scanner/internal/recorder"
	"stock-scanner/internal/scanner"
	redisstore "stock-scanner/internal/store/redis"
	"stock-scanner/internal/universe"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	// .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err == nil {
		log.Println("[scanner] loaded .env")
	}

	cfg := config.Load()
	slogger := logger.Init("scanner", logger.ParseLevel(cfg.LogLevel))

	os.MkdirAll(cfg.DataDir, 0o755)

	providers := []model.HistoryProvider{
		provider.NewAngel(provider.AngelConfig{
			APIKey:     cfg.AngelAPIKey,
			ClientCode: cfg.AngelClientCode,
			Password:   cfg.AngelPassword,
			TOTPSecret: cfg.AngelTOTPSecret,
		}, slogger),
	}
	if cfg.UpstoxToken != "" {
		providers = append(providers, provider.NewUpstox(cfg.UpstoxToken, slogger))
	} else {
		slogger.Warn("no upstox token, running without failover provider")
	}

	deps := scanner.Deps{
		Providers: providers,
		Universe:  universe.New(cfg.DataDir, slogger),
		Logger:    slogger,
	}

	if cfg.SQLitePath != "" {
		rec, err := recorder.New(recorder.Config{DBPath: cfg.SQLitePath})
		if err != nil {
			log.Fatalf("[scanner] recorder init failed: %v", err)
		}
		defer rec.Close()
		deps.Recorder = rec
	}

	if cfg.RedisAddr != "" {
		pub, err := redisstore.New(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			log.Fatalf("[scanner] redis init failed: %v", err)
		}
		defer pub.Close()
		deps.Publisher = pub
	}

	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		deps.Notifiers = append(deps.Notifiers, notify.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	if cfg.WebhookURL != "" {
		deps.Notifiers = append(deps.Notifiers, notify.NewWebhookNotifier(cfg.WebhookURL))
	}

	svc, err := scanner.New(scanner.Config{
		ScanInterval:  cfg.ScanInterval,
		Workers:       cfg.Workers,
		RatePerSecond: cfg.RatePerSecond,
		HTTPAddr:      cfg.HTTPAddr,
		MetricsAddr:   cfg.MetricsAddr,
		DataDir:       cfg.DataDir,
	}, deps)
	if err != nil {
		log.Fatalf("[scanner] init failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("[scanner] fatal: %v", err)
	}
}
