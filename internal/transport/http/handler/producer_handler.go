// Package handler implements the REST surface over the core (spec §4.G):
// producer (repository) CRUD, environment (branch) CRUD, file read/write,
// access-key management, and the change-stream. Structured after the
// teacher's internal/transport/http/handler/repo_handler.go (handler struct
// holding a service + logger, gin.H JSON error bodies, ShouldBindJSON request
// decoding), but driven by this module's own core packages
// (repomanager/gitrepo/configvalidator/eventbus) instead of the teacher's
// Postgres-backed RepoService.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-git/go-git/v5"

	"github.com/LunchBadger/configstore/internal/configvalidator"
	"github.com/LunchBadger/configstore/internal/eventbus"
	"github.com/LunchBadger/configstore/internal/gitrepo"
	"github.com/LunchBadger/configstore/internal/repomanager"
	"github.com/LunchBadger/configstore/pkg/coreerr"
	"github.com/LunchBadger/configstore/pkg/logger"
)

const envBranchPrefix = "env/"

// ProducerHandler serves every REST path under /producers.
type ProducerHandler struct {
	repos     *repomanager.Manager
	bus       *eventbus.Bus
	validator *configvalidator.Validator
	log       *logger.Logger
}

// NewProducerHandler builds a ProducerHandler. validator may be nil, in which
// case every write is accepted unconditionally.
func NewProducerHandler(repos *repomanager.Manager, bus *eventbus.Bus, validator *configvalidator.Validator) *ProducerHandler {
	return &ProducerHandler{
		repos:     repos,
		bus:       bus,
		validator: validator,
		log:       logger.Get().WithFields(logger.Component("producer-handler")),
	}
}

type createProducerRequest struct {
	ID string `json:"id" binding:"required"`
}

// Create handles POST /producers.
func (h *ProducerHandler) Create(c *gin.Context) {
	var req createProducerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "missing or invalid producer id")
		return
	}

	repo, accessKey, err := h.repos.Create(c.Request.Context(), req.ID)
	if err != nil {
		h.log.Error("create producer failed", logger.Producer(req.ID), logger.Error(err))
		writeError(c, http.StatusInternalServerError, "could not create producer")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": repo.Name, "accesskey": accessKey})
}

// Exists handles GET /producers/:producerId/exists.
func (h *ProducerHandler) Exists(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"exists": h.repos.Exists(c.Param("producerId"))})
}

// Get handles GET /producers/:producerId.
func (h *ProducerHandler) Get(c *gin.Context) {
	repo, err := h.repos.Get(c.Param("producerId"))
	if err != nil {
		writeCoreError(c, err)
		return
	}

	envs, err := h.envsMap(repo)
	if err != nil {
		writeCoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": repo.Name, "envs": envs})
}

// List handles GET /producers.
func (h *ProducerHandler) List(c *gin.Context) {
	repos, err := h.repos.List()
	if err != nil {
		writeError(c, http.StatusInternalServerError, "could not list producers")
		return
	}

	out := make([]gin.H, 0, len(repos))
	for _, repo := range repos {
		envs, err := h.envsMap(repo)
		if err != nil {
			writeCoreError(c, err)
			return
		}
		out = append(out, gin.H{"id": repo.Name, "envs": envs})
	}
	c.JSON(http.StatusOK, out)
}

// Delete handles DELETE /producers/:producerId.
func (h *ProducerHandler) Delete(c *gin.Context) {
	removed, err := h.repos.Remove(c.Param("producerId"))
	if err != nil {
		writeError(c, http.StatusInternalServerError, "could not delete producer")
		return
	}
	count := 0
	if removed {
		count = 1
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

// UpdateFiles handles PATCH /producers/:producerId/envs/:envId/files.
func (h *ProducerHandler) UpdateFiles(c *gin.Context) {
	repo, err := h.repos.Get(c.Param("producerId"))
	if err != nil {
		writeCoreError(c, err)
		return
	}

	var body map[string]string
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, http.StatusBadRequest, "request body must be a map of path to content")
		return
	}

	files := make(map[string][]byte, len(body))
	for path, content := range body {
		raw := []byte(content)
		if h.validator != nil {
			if err := h.validator.Validate(path, raw); err != nil {
				writeCoreError(c, err)
				return
			}
		}
		files[path] = raw
	}

	branch := envBranch(c.Param("envId"))
	parentRevision := c.GetHeader("If-Match")

	facade := gitrepo.New(repo.Path)
	revision, err := facade.UpdateBranchFiles(branch, parentRevision, files)
	if err != nil {
		writeCoreError(c, err)
		return
	}

	// The event bus is only updated from the Git HTTP path (spec §5): this
	// commit didn't go through git-receive-pack, so no push event fires here.

	c.Header("ETag", revision)
	c.Status(http.StatusNoContent)
}

// GetFile handles GET /producers/:producerId/envs/:envId/files/*path.
func (h *ProducerHandler) GetFile(c *gin.Context) {
	repo, err := h.repos.Get(c.Param("producerId"))
	if err != nil {
		writeCoreError(c, err)
		return
	}

	path := strings.TrimPrefix(c.Param("path"), "/")
	branch := envBranch(c.Param("envId"))

	facade := gitrepo.New(repo.Path)
	content, revision, err := facade.GetFile(branch, path)
	if err != nil {
		writeCoreError(c, err)
		return
	}

	c.Header("ETag", revision)
	c.Data(http.StatusOK, "application/octet-stream", content)
}

type putEnvRequest struct {
	Revision string `json:"revision" binding:"required"`
}

// PutEnv handles PUT /producers/:producerId/envs/:envId.
func (h *ProducerHandler) PutEnv(c *gin.Context) {
	repo, err := h.repos.Get(c.Param("producerId"))
	if err != nil {
		writeCoreError(c, err)
		return
	}

	var req putEnvRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "missing revision")
		return
	}

	facade := gitrepo.New(repo.Path)
	envID := c.Param("envId")
	revision, err := facade.UpsertBranch(envBranch(envID), req.Revision)
	if err != nil {
		writeCoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": envID, "revision": revision})
}

// GetEnv handles GET /producers/:producerId/envs/:envId.
func (h *ProducerHandler) GetEnv(c *gin.Context) {
	repo, err := h.repos.Get(c.Param("producerId"))
	if err != nil {
		writeCoreError(c, err)
		return
	}

	facade := gitrepo.New(repo.Path)
	envID := c.Param("envId")
	revision, err := facade.BranchRevision(envBranch(envID))
	if err != nil {
		writeCoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": envID, "revision": revision})
}

// DeleteEnv handles DELETE /producers/:producerId/envs/:envId.
func (h *ProducerHandler) DeleteEnv(c *gin.Context) {
	repo, err := h.repos.Get(c.Param("producerId"))
	if err != nil {
		writeCoreError(c, err)
		return
	}

	facade := gitrepo.New(repo.Path)
	count, err := facade.DeleteBranch(envBranch(c.Param("envId")))
	if err != nil {
		writeCoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": count})
}

// GetAccessKey handles GET /producers/:producerId/accesskey.
func (h *ProducerHandler) GetAccessKey(c *gin.Context) {
	repo, err := h.repos.Get(c.Param("producerId"))
	if err != nil {
		writeCoreError(c, err)
		return
	}

	gitRepo, err := git.PlainOpen(repo.Path)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "could not open repository")
		return
	}
	key, err := repomanager.AccessKey(gitRepo)
	if err != nil {
		writeCoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accesskey": key})
}

// RegenerateAccessKey handles POST /producers/:producerId/accesskey.
func (h *ProducerHandler) RegenerateAccessKey(c *gin.Context) {
	repo, err := h.repos.Get(c.Param("producerId"))
	if err != nil {
		writeCoreError(c, err)
		return
	}

	gitRepo, err := git.PlainOpen(repo.Path)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "could not open repository")
		return
	}
	key, err := repomanager.RegenerateAccessKey(gitRepo)
	if err != nil {
		writeCoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accesskey": key})
}

// ChangeStream handles GET /producers/:producerId/change-stream: a
// chunked, newline-delimited JSON stream of {initial}, {push}, and
// {keepalive} events (spec §4.F).
func (h *ProducerHandler) ChangeStream(c *gin.Context) {
	repo, err := h.repos.Get(c.Param("producerId"))
	if err != nil {
		writeCoreError(c, err)
		return
	}

	branches, err := h.envsMap(repo)
	if err != nil {
		writeCoreError(c, err)
		return
	}

	events, unsubscribe := h.bus.Subscribe(repo.Name, branches)
	defer unsubscribe()

	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Cache-Control", "no-cache")
	c.Writer.WriteHeader(http.StatusOK)

	flusher, _ := c.Writer.(http.Flusher)
	enc := json.NewEncoder(c.Writer)

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := enc.Encode(event); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

// envsMap builds the {name -> hex} map for repo's environments, including
// the dev migration shim for a bare master branch (spec §9 decision #1).
func (h *ProducerHandler) envsMap(repo repomanager.Repository) (map[string]string, error) {
	facade := gitrepo.New(repo.Path)
	branches, err := facade.Branches()
	if err != nil {
		return nil, err
	}

	envs := make(map[string]string)
	for _, branch := range branches {
		rev, err := facade.BranchRevision(branch)
		if err != nil {
			continue
		}
		if strings.HasPrefix(branch, envBranchPrefix) {
			envs[strings.TrimPrefix(branch, envBranchPrefix)] = rev
		}
		if branch == "master" {
			envs["dev"] = rev
		}
	}
	return envs, nil
}

func envBranch(envID string) string {
	return envBranchPrefix + envID
}

func writeError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"message": message, "statusCode": status}})
}

// writeCoreError maps a coreerr.CoreError to the HTTP status table in spec
// §4.G, surfacing schema violations line-by-line for ValidationFailed.
func writeCoreError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case coreerr.IsRepoDoesNotExist(err), coreerr.IsInvalidBranch(err), coreerr.IsFileNotFound(err):
		status = http.StatusNotFound
	case coreerr.IsRevisionNotFound(err):
		status = http.StatusBadRequest
	case coreerr.IsOptimisticConcurrency(err):
		status = http.StatusPreconditionFailed
	case coreerr.IsValidationFailed(err):
		status = http.StatusBadRequest
		var ce *coreerr.CoreError
		if errors.As(err, &ce) && len(ce.Violations) > 0 {
			c.AbortWithStatusJSON(status, gin.H{"error": gin.H{
				"message":    err.Error(),
				"statusCode": status,
				"violations": ce.Violations,
			}})
			return
		}
	}
	writeError(c, status, err.Error())
}
