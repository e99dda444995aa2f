package main

import (
	"context"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	v1 "ballotd/api/v1"
	"ballotd/api/v1/handlers"
	"ballotd/internal/anonymizer"
	"ballotd/internal/ballot"
	"ballotd/internal/config"
	"ballotd/internal/guard"
	"ballotd/internal/notify"
	"ballotd/internal/otp"
	"ballotd/internal/store"
	"ballotd/internal/store/postgres"
	"ballotd/internal/store/sqlite"
	"ballotd/internal/tally"
	"ballotd/pkg/logger"
	"ballotd/pkg/server"
	"ballotd/pkg/third/geetest"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp/reuseport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("加载配置失败，请检查 .env 与环境变量")
	}
	logCloser := logger.Configure(cfg.LogLevel, cfg.LogFile)
	defer logCloser.Close()

	db, err := openStore(cfg)
	if err != nil {
		log.Fatal().Stack().Err(err).Str("store", cfg.Store).Msg("无法连接数据库")
	}

	dispatcher := newDispatcher(cfg)
	engine, err := anonymizer.New(cfg.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Send()
	}

	auth := otp.New(db, dispatcher,
		otp.WithDevMode(cfg.Dev()),
		otp.WithTimeout(cfg.StoreTimeout, cfg.NotifyTimeout),
	)
	caster := ballot.NewCaster(db, auth, engine, dispatcher,
		ballot.WithTimeout(cfg.StoreTimeout, cfg.NotifyTimeout),
	)

	app := server.NewFiber()
	if cfg.RateLimit > 0 {
		app.Use(limiter.New(limiter.Config{
			Max:        cfg.RateLimit,
			Expiration: time.Second * 60,
		}))
	}

	v1.SetupRoutes(app, &handlers.Services{
		Auth:      auth,
		Caster:    caster,
		Guard:     guard.New(db, cfg.StoreTimeout),
		Tally:     tally.New(db, engine, time.Now, cfg.StoreTimeout),
		Captcha:   geetest.New(cfg.GeetestId, cfg.GeetestKey),
		AdminKey:  cfg.AdminKey,
		SystemKey: cfg.SystemKey,
	})

	run(app, cfg, func() {
		log.Info().Msg("关闭数据库连接中...")
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("close store")
		}
		_ = dispatcher.Close()
	})
}

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.Store == config.StorePostgres {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return postgres.Open(ctx, cfg.DB)
	}
	return sqlite.NewSqliteStorage(cfg.DB)
}

func newDispatcher(cfg *config.Config) notify.Dispatcher {
	if cfg.SMTP.Enabled() {
		return &notify.SMTPDispatcher{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}
	}
	log.Warn().Msg("APP_SMTP_HOST 未配置，邮件只写入日志")
	return &notify.LogDispatcher{Reveal: cfg.Dev()}
}

func run(app *fiber.App, cfg *config.Config, cleanup func()) {
	defer cleanup()

	if cfg.Dev() {
		log.Info().Msg("开发模式已启用，验证码 " + otp.DevBypassCode + " 可直接通过")
		go func() {
			if err := app.Listen(cfg.Port); err != nil {
				log.Error().Err(err).Msg("无法监听")
			}
		}()
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c
		_ = app.Shutdown()
		return
	}

	go func() {
		ln, err := reuseport.Listen("tcp4", cfg.Port)
		if err != nil {
			log.Panic().Err(err).Msg("无法监听")
		}

		if err = app.Listener(ln); err != nil {
			log.Panic().Err(err).Msg("无法监听")
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	if sig := <-c; sig == syscall.SIGHUP {
		log.Info().Msg("正在热更新服务端...")
		exe, _ := os.Executable()
		cmd := exec.Command(exe)
		cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
		if err := cmd.Start(); err != nil {
			log.Error().Err(err).Msg("启动新端失败>_<")
			return
		}
	}
	_ = app.ShutdownWithTimeout(10 * time.Second)
}
