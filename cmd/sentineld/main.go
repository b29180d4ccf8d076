// Command sentineld runs the governance monitor's HTTP API server.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/sentinel-governance/sentinel/pkg/agentstore"
	"github.com/sentinel-governance/sentinel/pkg/api"
	"github.com/sentinel-governance/sentinel/pkg/audit"
	"github.com/sentinel-governance/sentinel/pkg/collaborator"
	"github.com/sentinel-governance/sentinel/pkg/config"
	"github.com/sentinel-governance/sentinel/pkg/database"
	"github.com/sentinel-governance/sentinel/pkg/dialectic"
	"github.com/sentinel-governance/sentinel/pkg/governance"
	"github.com/sentinel-governance/sentinel/pkg/identity"
	"github.com/sentinel-governance/sentinel/pkg/knowledge"
	"github.com/sentinel-governance/sentinel/pkg/lifecycle"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("could not load .env file, continuing with existing environment", "path", envPath, "error", err)
	} else {
		slog.Info("loaded environment", "path", envPath)
	}

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatalf("sentineld: load config: %v", err)
	}

	ctx := context.Background()

	dbClient, err := database.NewClient(ctx, database.Config{
		Host: cfg.Database.Host, Port: cfg.Database.Port, User: cfg.Database.User,
		Password: cfg.DatabasePassword(), Database: cfg.Database.Database, SSLMode: cfg.Database.SSLMode,
		MaxConns: cfg.Database.MaxConns, MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		log.Fatalf("sentineld: connect to database: %v", err)
	}
	defer dbClient.Close()
	slog.Info("connected to database", "host", cfg.Database.Host, "database", cfg.Database.Database)

	tokenIssuer, err := identity.NewTokenIssuer(cfg.TokenSecret())
	if err != nil {
		log.Fatalf("sentineld: construct token issuer: %v", err)
	}

	var collab collaborator.ModelCollaborator = collaborator.HashEmbedder{}
	if cfg.Collaborator.BaseURL != "" {
		httpClient := collaborator.NewHTTPClient(cfg.Collaborator.BaseURL)
		httpClient.HTTP.Timeout = cfg.Collaborator.Timeout
		collab = httpClient
		slog.Info("using external model collaborator", "base_url", cfg.Collaborator.BaseURL)
	} else {
		slog.Info("no collaborator base_url configured, using built-in deterministic fallback")
	}

	store := agentstore.New(dbClient, agentstore.Config{
		ProcessID: hostProcessID(), StaleAfter: cfg.Lock.StaleAfter,
		BackoffBase: cfg.Lock.BackoffBase, MaxRetries: cfg.Lock.MaxRetries,
	})
	sessions := identity.NewSessionBinder(cfg.Session.TTL)
	knowledgeStore := knowledge.NewPostgresStore(dbClient)
	auditLog := audit.NewLog(dbClient)
	dialecticProtocol := dialectic.New(dbClient, cfg.Dialectic, os.Getenv(cfg.Dialectic.HMACSecretEnv), collab)

	svc := &governance.Service{
		Cfg:       cfg.Governance,
		Profile:   &cfg.Profile,
		Governor:  cfg.Governor,
		Risk:      cfg.RiskWeights,
		Store:     store,
		Sessions:  sessions,
		Tokens:    tokenIssuer,
		Knowledge: knowledgeStore,
		Audit:     auditLog,
		Dialectic: dialecticProtocol,
		Embedder:  collab,
		Collab:    collab,
	}

	sweeper, err := lifecycle.New(store, cfg.Lifecycle.ArchiveAfter, cfg.Lifecycle.CronSchedule)
	if err != nil {
		log.Fatalf("sentineld: construct lifecycle sweeper: %v", err)
	}
	sweeper.Start(ctx)
	defer sweeper.Stop()

	server := api.NewServer(svc, dbClient, tokenIssuer, cfg.Server.RequestTimeout)

	addr := cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port)
	slog.Info("sentineld starting", "addr", addr)
	if err := server.Engine().Run(addr); err != nil {
		log.Fatalf("sentineld: server exited: %v", err)
	}
}

// hostProcessID identifies this process as a lock owner (spec.md §4.6),
// distinct across concurrent sentineld instances sharing one database.
func hostProcessID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return host + "-" + strconv.Itoa(os.Getpid())
}
