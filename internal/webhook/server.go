package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/go-github/v57/github"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/coderisk/internal/review/pipeline"
)

// Settings holds the webhook entrypoint's own configuration, separate from
// the review pipeline's Config. Grounded on
// original_source/github_pat/settings.py's env-driven Settings.
type Settings struct {
	GitHubToken           string
	GitHubWebhookSecret   string
	AllowUnsignedWebhooks bool
	AllowedRepos          map[string]bool
	BotTrigger            string
	CooldownSeconds       int
	DBPath                string
}

// Server wires the gin HTTP entrypoint, the job store, the GitHub client,
// and the Pipeline Driver together. Grounded on
// original_source/github_pat/app.py's FastAPI lifespan/routes.
type Server struct {
	settings Settings
	store    *Store
	gh       *github.Client
	driver   *pipeline.Driver
	log      *logrus.Entry
	runner   JobRunner
}

// JobRunner executes a queued Job end to end (checkout, diff, pipeline run,
// comment posting). The concrete implementation lives in runner.go; it is
// an interface here so Server stays testable without a real git checkout.
type JobRunner interface {
	Run(ctx context.Context, job Job) error
}

// NewServer builds a Server. token-authenticated GitHub client construction
// follows internal/github/client.go's NewClient convention.
func NewServer(settings Settings, store *Store, driver *pipeline.Driver, runner JobRunner) *Server {
	gh := github.NewClient(nil).WithAuthToken(settings.GitHubToken)
	return &Server{
		settings: settings,
		store:    store,
		gh:       gh,
		driver:   driver,
		log:      logrus.WithField("component", "webhook"),
		runner:   runner,
	}
}

// Router builds the gin engine with /healthz and /github/webhook registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", s.handleHealthz)
	r.POST("/github/webhook", s.handleWebhook)
	return r
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type issueCommentPayload struct {
	Action string `json:"action"`
	Issue  struct {
		Number      int `json:"number"`
		PullRequest *struct {
			URL string `json:"url"`
		} `json:"pull_request"`
	} `json:"issue"`
	Comment struct {
		ID   int64  `json:"id"`
		Body string `json:"body"`
	} `json:"comment"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Sender struct {
		Login string `json:"login"`
	} `json:"sender"`
}

// handleWebhook implements app.py's github_webhook route: signature check,
// event/action/trigger-phrase filtering, repo allow-list, dedup + cooldown
// enqueue, then asynchronous dispatch.
func (s *Server) handleWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.String(http.StatusBadRequest, "cannot read body")
		return
	}

	if !s.settings.AllowUnsignedWebhooks {
		sig := c.GetHeader("X-Hub-Signature-256")
		if !VerifySignature(s.settings.GitHubWebhookSecret, body, sig) {
			c.String(http.StatusUnauthorized, "invalid signature")
			return
		}
	}

	if c.GetHeader("X-GitHub-Event") != "issue_comment" {
		c.String(http.StatusOK, "ignored")
		return
	}

	var payload issueCommentPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		c.String(http.StatusBadRequest, "invalid json")
		return
	}

	if payload.Action != "created" {
		c.String(http.StatusOK, "ignored")
		return
	}
	if payload.Issue.PullRequest == nil {
		c.String(http.StatusOK, "ignored")
		return
	}

	trigger := strings.TrimSpace(s.settings.BotTrigger)
	if trigger == "" || !strings.Contains(strings.ToLower(payload.Comment.Body), strings.ToLower(trigger)) {
		c.String(http.StatusOK, "ignored")
		return
	}

	repoFullName := strings.TrimSpace(payload.Repository.FullName)
	if repoFullName == "" {
		c.String(http.StatusBadRequest, "missing repository.full_name")
		return
	}
	if len(s.settings.AllowedRepos) > 0 && !s.settings.AllowedRepos[repoFullName] {
		c.String(http.StatusOK, "repo not allowed")
		return
	}
	if payload.Issue.PullRequest.URL == "" {
		c.String(http.StatusBadRequest, "missing issue.pull_request.url")
		return
	}

	job := Job{
		ID:           uuid.New().String(),
		RepoFullName: repoFullName,
		PRNumber:     payload.Issue.Number,
		PRURL:        payload.Issue.PullRequest.URL,
		CommentID:    payload.Comment.ID,
		Sender:       payload.Sender.Login,
	}

	deliveryID := c.GetHeader("X-GitHub-Delivery")
	if deliveryID == "" {
		deliveryID = job.ID
	}

	ok, err := s.store.EnqueueJob(deliveryID, job, time.Duration(s.settings.CooldownSeconds)*time.Second)
	if err != nil {
		s.log.WithError(err).Error("enqueue job failed")
		c.String(http.StatusInternalServerError, "enqueue failed")
		return
	}
	if !ok {
		c.String(http.StatusOK, "deduped")
		return
	}

	go s.dispatch(job)
	c.String(http.StatusOK, "queued")
}

func (s *Server) dispatch(job Job) {
	ctx := context.Background()
	if err := s.runner.Run(ctx, job); err != nil {
		s.log.WithError(err).WithField("job_id", job.ID).Error("job run failed")
	}
}
