package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "net/http/pprof"

	"github.com/caarlos0/env/v11"
	"github.com/glotchimo/ark/internal/bot"
	"github.com/glotchimo/ark/internal/handlers"
	"github.com/glotchimo/ark/internal/metrics"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var VERSION = "dev"

type Conf struct {
	Debug       bool   `env:"DEBUG"`
	Token       string `env:"BOT_TOKEN,required"`
	Intents     int    `env:"BOT_INTENTS" envDefault:"32509"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	CacheURL    string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	ShardID     int    `env:"SHARD_ID" envDefault:"0"`
	ShardCount  int    `env:"SHARD_COUNT" envDefault:"1"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`

	MemberLimit int           `env:"BACKUP_MEMBER_LIMIT" envDefault:"1000"`
	CacheTTL    time.Duration `env:"BACKUP_CACHE_TTL" envDefault:"1h"`
	BackupLimit int           `env:"BACKUP_LIMIT" envDefault:"25"`
	LockTTL     time.Duration `env:"RESTORE_LOCK_TTL" envDefault:"30m"`
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		panic(err)
	}

	var conf Conf
	if err := env.Parse(&conf); err != nil {
		panic(err)
	}

	l := bot.NewLogger(conf.Debug)
	l.Info("starting", "version", VERSION)

	collector := metrics.NewCollector()
	prometheus.MustRegister(collector)

	http.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: conf.MetricsAddr, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("metrics listener stopped", "error", err)
		}
	}()

	b, err := bot.NewBot(bot.Config{
		Token:       conf.Token,
		Intents:     conf.Intents,
		DatabaseURL: conf.DatabaseURL,
		CacheURL:    conf.CacheURL,
		ShardID:     conf.ShardID,
		ShardCount:  conf.ShardCount,
		Limits: handlers.Limits{
			Backups:     conf.BackupLimit,
			MemberLimit: conf.MemberLimit,
			CacheTTL:    conf.CacheTTL,
			LockTTL:     conf.LockTTL,
		},
	}, l, collector)
	if err != nil {
		panic(err)
	}
	defer b.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdown); err != nil {
		l.Warn("error stopping metrics listener", "error", err)
	}
}
