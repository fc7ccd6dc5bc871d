package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/google/go-github/v57/github"
	"github.com/rohankatakam/coderisk/internal/review/expert"
	"github.com/rohankatakam/coderisk/internal/review/pipeline"
	"github.com/rohankatakam/coderisk/internal/review/prompt"
	"github.com/rohankatakam/coderisk/internal/review/toolsurface"
	"github.com/rohankatakam/coderisk/internal/webhook"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the GitHub webhook service that reviews PRs on a trigger comment",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "listen address")
	serveCmd.Flags().String("templates", "templates", "prompt template directory")
	serveCmd.Flags().String("work-dir", "/tmp/crisk-review", "scratch directory for per-job checkouts")
	serveCmd.Flags().String("job-store", "/tmp/crisk-review/jobs.db", "bbolt job store path")
	serveCmd.Flags().String("bot-trigger", "/crisk review", "comment substring that triggers a review")
	serveCmd.Flags().Int("cooldown-seconds", 60, "minimum seconds between reviews of the same PR")
	serveCmd.Flags().Bool("allow-unsigned", false, "accept webhooks without a valid X-Hub-Signature-256 (testing only)")
	serveCmd.Flags().StringSlice("allowed-repos", nil, "owner/repo allow-list; empty means allow all")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	addr, _ := cmd.Flags().GetString("addr")
	templatesDir, _ := cmd.Flags().GetString("templates")
	workDir, _ := cmd.Flags().GetString("work-dir")
	jobStorePath, _ := cmd.Flags().GetString("job-store")
	botTrigger, _ := cmd.Flags().GetString("bot-trigger")
	cooldownSeconds, _ := cmd.Flags().GetInt("cooldown-seconds")
	allowUnsigned, _ := cmd.Flags().GetBool("allow-unsigned")
	allowedRepoList, _ := cmd.Flags().GetStringSlice("allowed-repos")

	if err := os.MkdirAll(workDir, 0755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}

	gw, err := buildGateway(ctx, cfg.Review)
	if err != nil {
		return fmt.Errorf("build gateway: %w", err)
	}
	surface := toolsurface.New(workDir, nil)
	renderer := prompt.New(templatesDir)

	driver := pipeline.New(gw, surface, renderer, expert.ContentReader(nil), buildPipelineConfig(cfg.Review))

	store, err := webhook.OpenStore(jobStorePath)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer store.Close()

	allowedRepos := map[string]bool{}
	for _, r := range allowedRepoList {
		if r = strings.TrimSpace(r); r != "" {
			allowedRepos[r] = true
		}
	}

	webhookSecret := os.Getenv("REVIEW_WEBHOOK_SECRET")
	if v := os.Getenv("REVIEW_COOLDOWN_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cooldownSeconds = n
		}
	}

	settings := webhook.Settings{
		GitHubToken:           cfg.GitHub.Token,
		GitHubWebhookSecret:   webhookSecret,
		AllowUnsignedWebhooks: allowUnsigned,
		AllowedRepos:          allowedRepos,
		BotTrigger:            botTrigger,
		CooldownSeconds:       cooldownSeconds,
		DBPath:                jobStorePath,
	}

	gh := github.NewClient(nil).WithAuthToken(settings.GitHubToken)
	runner := webhook.NewRunner(driver, gh, workDir)
	server := webhook.NewServer(settings, store, driver, runner)

	logger.WithField("addr", addr).Info("starting review webhook server")
	return http.ListenAndServe(addr, server.Router())
}
