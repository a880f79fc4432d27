package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"

	"scrimbot/internal/bot"
	"scrimbot/internal/chat/wsclient"
	"scrimbot/internal/command"
	"scrimbot/internal/gameapi"
	"scrimbot/internal/metrics"
	"scrimbot/internal/party"
	"scrimbot/internal/plugin"
	"scrimbot/internal/plugins/admin"
	"scrimbot/internal/plugins/info"
	"scrimbot/internal/plugins/scrim"
	"scrimbot/internal/roster"
	"scrimbot/internal/storage"
	"scrimbot/pkg/config"
	"scrimbot/pkg/logger"
	"scrimbot/pkg/scheduler"
	"scrimbot/pkg/services"
)

func main() {
	_ = godotenv.Load()

	env := config.Env{}
	if err := config.ReadEnvConfig(&env); err != nil {
		panic(err)
	}

	log := logger.NewLogger(&logger.Config{Level: env.LogLevel})

	cfg := config.NewStore()
	if err := cfg.Load(env.ConfigPath); err != nil {
		log.Error("failed to load config: %s", err.Error())
		os.Exit(1)
	}
	cache := storage.NewCache(log.With("cache"))
	if err := cache.Load(env.CachePath); err != nil {
		log.Error("failed to load cache: %s", err.Error())
		os.Exit(1)
	}
	perms := storage.NewPermissions(cfg)

	metrics.InitMetrics()

	api := gameapi.NewClient(env.APIHost, env.APIUsername, env.APIPassword, log.With("gameapi"))
	transport := wsclient.New(env.ChatHost, env.ChatUserID, env.ChatPassword, log.With("chat"))
	sched := scheduler.New(log.With("scheduler"))
	core := command.NewCore(cfg, perms, log.With("command"))
	parties := party.NewRegistry(cache, log.With("party"))
	reconciler := roster.New(cfg, perms, cache, transport, log.With("roster"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pluginCtx := &plugin.Context{
		Log:       log.With("plugin"),
		Config:    cfg,
		Cache:     cache,
		Perms:     perms,
		API:       api,
		Chat:      transport,
		Scheduler: sched,
		Commands:  core,
		Parties:   parties,
		Roster:    reconciler,
		BotID:     env.ChatUserID,
		BotNick:   "ScrimBot",
		Shutdown:  cancel,
	}
	host := plugin.NewHost(pluginCtx, log.With("plugin"))
	host.Add(scrim.New())
	host.Add(admin.New())
	host.Add(info.New())

	supervisor := bot.New(bot.Deps{
		Log:        log.With("bot"),
		Config:     cfg,
		ConfigPath: env.ConfigPath,
		Cache:      cache,
		CachePath:  env.CachePath,
		API:        api,
		Transport:  transport,
		Commands:   core,
		Scheduler:  sched,
		Roster:     reconciler,
		Host:       host,
		Shutdown:   cancel,
	})

	manager := services.NewManager(log.With("services"))
	manager.AddService(metrics.NewServer(env.MetricsAddr), supervisor)

	if err := manager.Run(ctx); err != nil {
		log.Error("failed to start: %s", err.Error())
		os.Exit(1)
	}
}
