package main

import (
	"fmt"
	"os"

	"github.com/debriefhq/debrief/agent"
	"github.com/debriefhq/debrief/config"
	"github.com/debriefhq/debrief/hub"
	"github.com/debriefhq/debrief/llm"
	"github.com/debriefhq/debrief/log"
	"github.com/debriefhq/debrief/missions"
	"github.com/debriefhq/debrief/model"
	"github.com/debriefhq/debrief/server"
	"github.com/debriefhq/debrief/spies"
	"github.com/debriefhq/debrief/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	st, err := openStore(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()
	log.Log.Infof("conversation store: %s", cfg.Store.Backend)

	repo, err := spies.NewRepository(cfg.SpiesPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "spy repository: %v\n", err)
		os.Exit(1)
	}
	repo.Seed(spies.DefaultRoster())
	log.Log.Infof("spy roster: %d profiles from %s", len(repo.List()), cfg.SpiesPath)

	registry := model.NewToolRegistry()
	missions.NewBackend(cfg.MissionsPath).Register(registry)

	provider := llm.NewOpenAIProvider(llm.Config{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
	})

	loop := agent.NewLoop(provider, registry, missions.NewContextCache())
	loop.SetMaxToolCalls(cfg.Agent.MaxToolCalls)

	connections := hub.NewRegistry()
	session := agent.NewSession(repo, st, connections, loop)
	session.SetTurnTimeout(cfg.Agent.TurnTimeout)

	srv := server.NewServer(cfg, session, repo, st, connections)
	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

// openStore selects the conversation backend from configuration
func openStore(cfg *config.Config) (store.ConversationStore, error) {
	switch cfg.Store.Backend {
	case "memory":
		return store.NewMemoryStore(), nil
	case "sqlite":
		return store.NewSQLiteStore(cfg.Store.SQLitePath)
	case "mongo":
		return store.NewMongoStore(store.MongoStoreConfig{URI: cfg.Store.MongoURI})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
