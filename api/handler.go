package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"videoflow/artifact"
	"videoflow/config"
	"videoflow/dispatch"
	"videoflow/pipeline"
	"videoflow/task"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type Handler struct {
	dispatcher *dispatch.Dispatcher
	artifacts  *artifact.Store
	cfg        *config.Config
}

func NewHandler(d *dispatch.Dispatcher, artifacts *artifact.Store, cfg *config.Config) *Handler {
	return &Handler{
		dispatcher: d,
		artifacts:  artifacts,
		cfg:        cfg,
	}
}

// SubmitRequest is the JSON submission body. Uploads use multipart form
// with a "file" part and a "pipeline" JSON field instead.
type SubmitRequest struct {
	InputPath string          `json:"inputPath" binding:"required"`
	Pipeline  pipeline.Config `json:"pipeline" binding:"required"`
}

// handleSubmit accepts a new pipeline task and returns its handle.
func (h *Handler) handleSubmit(c *gin.Context) {
	var (
		inputPath   string
		pcfg        pipeline.Config
		removeInput bool
	)

	if file, err := c.FormFile("file"); err == nil {
		if file.Size > h.cfg.MaxInputSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": fmt.Sprintf("input file size %d exceeds limit of %d bytes", file.Size, h.cfg.MaxInputSize),
			})
			return
		}
		if err := json.Unmarshal([]byte(c.PostForm("pipeline")), &pcfg); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pipeline field: " + err.Error()})
			return
		}

		// Stage the upload under an unguessable name; the worker removes
		// it after a successful run.
		dir := filepath.Join(h.artifacts.Root(), "incoming")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not stage upload"})
			return
		}
		inputPath = filepath.Join(dir, uuid.NewString()+"_"+filepath.Base(file.Filename))
		if err := c.SaveUploadedFile(file, inputPath); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not save upload: " + err.Error()})
			return
		}
		removeInput = true
	} else {
		var req SubmitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if info, err := os.Stat(req.InputPath); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "input file not found: " + req.InputPath})
			return
		} else if info.Size() > h.cfg.MaxInputSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": fmt.Sprintf("input file size %d exceeds limit of %d bytes", info.Size(), h.cfg.MaxInputSize),
			})
			return
		}
		inputPath = req.InputPath
		pcfg = req.Pipeline
	}

	rec, err := h.dispatcher.Submit(c.Request.Context(), inputPath, pcfg, removeInput)
	if err != nil {
		var cfgErr *pipeline.ConfigError
		if errors.As(err, &cfgErr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": cfgErr.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create task", "details": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"taskId": rec.ID})
}

// handleStatus reports state, progress and the current step message.
func (h *Handler) handleStatus(c *gin.Context) {
	rec, err := h.dispatcher.Status(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":       rec.ID,
		"state":    rec.State,
		"progress": rec.Progress,
		"message":  rec.Message,
	})
}

// handleResult returns the terminal record: result payload on SUCCESS,
// error payload on FAILURE.
func (h *Handler) handleResult(c *gin.Context) {
	rec, err := h.dispatcher.Result(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		switch {
		case errors.Is(err, task.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		case errors.Is(err, task.ErrNotReady):
			c.JSON(http.StatusConflict, gin.H{"error": "task not ready"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	resp := gin.H{"id": rec.ID, "state": rec.State}
	if rec.Result != nil {
		resp["result"] = h.withDownloadURLs(c, rec)
	}
	if rec.Error != nil {
		resp["error"] = rec.Error
	}
	c.JSON(http.StatusOK, resp)
}

// withDownloadURLs rewrites output references into download URLs.
func (h *Handler) withDownloadURLs(c *gin.Context, rec *task.Record) gin.H {
	baseURL := h.cfg.BaseURL
	if baseURL == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s", scheme, c.Request.Host)
	}

	outputs := make([]gin.H, 0, len(rec.Result.Outputs))
	for _, o := range rec.Result.Outputs {
		entry := gin.H{"name": o.Name, "kind": o.Kind}
		if o.RemoteID != "" {
			entry["remoteId"] = o.RemoteID
			entry["remoteUrl"] = "https://www.youtube.com/watch?v=" + o.RemoteID
		}
		if h.artifacts.Owns(o.Path) {
			entry["downloadUrl"] = fmt.Sprintf("%s/api/v1/files/%s/%s", baseURL, rec.ID, o.Name)
		}
		outputs = append(outputs, entry)
	}
	return gin.H{"outputs": outputs}
}

// handleCancel requests best-effort cancellation.
func (h *Handler) handleCancel(c *gin.Context) {
	err := h.dispatcher.Cancel(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "task cancellation requested"})
}

// handleCleanup releases the task's working directory.
func (h *Handler) handleCleanup(c *gin.Context) {
	err := h.dispatcher.Cleanup(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "artifacts released"})
}

// handleGetFile serves an output file from a task's working directory.
func (h *Handler) handleGetFile(c *gin.Context) {
	taskID := c.Param("taskId")
	filename := c.Param("filename")

	// Prevent path traversal.
	if filepath.Base(filename) != filename || filepath.Base(taskID) != taskID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file reference"})
		return
	}

	path := filepath.Join(h.artifacts.Dir(taskID), filename)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}
	log.Printf("Serving file %s for task %s", filename, taskID)
	c.File(path)
}
