package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"videoflow/artifact"
	"videoflow/broker"
	"videoflow/config"
	"videoflow/dispatch"
	"videoflow/task"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	router *gin.Engine
	mem    *broker.Memory
	store  *artifact.Store
	cfg    *config.Config
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := artifact.NewStore(t.TempDir())
	require.NoError(t, err)
	mem := broker.NewMemory(time.Hour)
	cfg := &config.Config{
		MaxInputSize: 1 << 30,
	}
	d := dispatch.New(mem, mem, store)
	return &testEnv{
		router: SetupRouter(d, store, cfg),
		mem:    mem,
		store:  store,
		cfg:    cfg,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func stageInput(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.mp4")
	require.NoError(t, os.WriteFile(path, []byte("video bytes"), 0o644))
	return path
}

func submitBody(t *testing.T, inputPath string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"inputPath": inputPath,
		"pipeline":  map[string]interface{}{"steps": map[string]bool{"trim_silence": true}},
	})
	require.NoError(t, err)
	return body
}

func TestHandleSubmit(t *testing.T) {
	t.Run("json submission is accepted", func(t *testing.T) {
		env := setupTestEnv(t)
		w := env.do(t, http.MethodPost, "/api/v1/tasks", submitBody(t, stageInput(t)))

		require.Equal(t, http.StatusAccepted, w.Code)
		resp := decode(t, w)
		assert.NotEmpty(t, resp["taskId"])
	})

	t.Run("unknown step is rejected", func(t *testing.T) {
		env := setupTestEnv(t)
		body, _ := json.Marshal(map[string]interface{}{
			"inputPath": stageInput(t),
			"pipeline":  map[string]interface{}{"steps": map[string]bool{"explode": true}},
		})
		w := env.do(t, http.MethodPost, "/api/v1/tasks", body)

		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decode(t, w)["error"], "unknown step")
	})

	t.Run("missing input file is rejected", func(t *testing.T) {
		env := setupTestEnv(t)
		w := env.do(t, http.MethodPost, "/api/v1/tasks", submitBody(t, "/nonexistent/video.mp4"))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("oversized input is rejected", func(t *testing.T) {
		env := setupTestEnv(t)
		env.cfg.MaxInputSize = 4
		w := env.do(t, http.MethodPost, "/api/v1/tasks", submitBody(t, stageInput(t)))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})

	t.Run("multipart upload is staged and accepted", func(t *testing.T) {
		env := setupTestEnv(t)

		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		part, err := mw.CreateFormFile("file", "clip.mp4")
		require.NoError(t, err)
		_, err = part.Write([]byte("video bytes"))
		require.NoError(t, err)
		require.NoError(t, mw.WriteField("pipeline", `{"steps":{"trim_silence":true}}`))
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)

		require.Equal(t, http.StatusAccepted, w.Code)

		work, err := env.mem.Dequeue(context.Background())
		require.NoError(t, err)
		assert.True(t, work.RemoveInput)
		assert.Contains(t, work.InputPath, filepath.Join(env.store.Root(), "incoming"))
		assert.FileExists(t, work.InputPath)
	})
}

func TestHandleStatus(t *testing.T) {
	env := setupTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/v1/tasks", submitBody(t, stageInput(t)))
	require.Equal(t, http.StatusAccepted, w.Code)
	taskID := decode(t, w)["taskId"].(string)

	t.Run("pending task", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/tasks/"+taskID, nil)
		require.Equal(t, http.StatusOK, w.Code)
		resp := decode(t, w)
		assert.Equal(t, string(task.StatePending), resp["state"])
		assert.Equal(t, float64(0), resp["progress"])
	})

	t.Run("unknown task", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/tasks/unknown", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHandleResult(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	w := env.do(t, http.MethodPost, "/api/v1/tasks", submitBody(t, stageInput(t)))
	require.Equal(t, http.StatusAccepted, w.Code)
	taskID := decode(t, w)["taskId"].(string)

	t.Run("not ready yet", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/tasks/"+taskID+"/result", nil)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("unknown task", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/tasks/unknown/result", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("successful result carries download urls", func(t *testing.T) {
		path, err := env.store.Write(taskID, "short_01.mp4", strings.NewReader("clip"))
		require.NoError(t, err)

		rec, err := env.mem.Load(ctx, taskID)
		require.NoError(t, err)
		rec.State = task.StateProgress
		require.NoError(t, env.mem.Save(ctx, rec))
		rec.State = task.StateSuccess
		rec.Progress = 100
		rec.Result = &task.Result{Outputs: []task.Output{
			{Name: "short_01.mp4", Path: path, Kind: "short", RemoteID: "abc123"},
		}}
		require.NoError(t, env.mem.Save(ctx, rec))

		w := env.do(t, http.MethodGet, "/api/v1/tasks/"+taskID+"/result", nil)
		require.Equal(t, http.StatusOK, w.Code)
		resp := decode(t, w)
		assert.Equal(t, string(task.StateSuccess), resp["state"])

		outputs := resp["result"].(map[string]interface{})["outputs"].([]interface{})
		require.Len(t, outputs, 1)
		entry := outputs[0].(map[string]interface{})
		assert.Equal(t, fmt.Sprintf("http://example.com/api/v1/files/%s/short_01.mp4", taskID), entry["downloadUrl"])
		assert.Equal(t, "https://www.youtube.com/watch?v=abc123", entry["remoteUrl"])
	})

	t.Run("failed result carries the error payload", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/tasks", submitBody(t, stageInput(t)))
		require.Equal(t, http.StatusAccepted, w.Code)
		failedID := decode(t, w)["taskId"].(string)

		rec, err := env.mem.Load(ctx, failedID)
		require.NoError(t, err)
		rec.State = task.StateProgress
		require.NoError(t, env.mem.Save(ctx, rec))
		rec.State = task.StateFailure
		rec.Error = &task.ErrorInfo{Kind: task.KindTimeout, Message: "hard time limit exceeded", Step: "upload_shorts"}
		require.NoError(t, env.mem.Save(ctx, rec))

		w = env.do(t, http.MethodGet, "/api/v1/tasks/"+failedID+"/result", nil)
		require.Equal(t, http.StatusOK, w.Code)
		resp := decode(t, w)
		errPayload := resp["error"].(map[string]interface{})
		assert.Equal(t, task.KindTimeout, errPayload["kind"])
	})
}

func TestHandleCancel(t *testing.T) {
	env := setupTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/v1/tasks", submitBody(t, stageInput(t)))
	require.Equal(t, http.StatusAccepted, w.Code)
	taskID := decode(t, w)["taskId"].(string)

	w = env.do(t, http.MethodPatch, "/api/v1/tasks/"+taskID+"/cancel", nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	rec, err := env.mem.Load(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, task.StateRevoked, rec.State)

	// Already terminal now.
	w = env.do(t, http.MethodPatch, "/api/v1/tasks/"+taskID+"/cancel", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleCleanupAndGetFile(t *testing.T) {
	env := setupTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/v1/tasks", submitBody(t, stageInput(t)))
	require.Equal(t, http.StatusAccepted, w.Code)
	taskID := decode(t, w)["taskId"].(string)

	_, err := env.store.Write(taskID, "short_01.mp4", strings.NewReader("clip"))
	require.NoError(t, err)

	t.Run("serves an owned file", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/files/"+taskID+"/short_01.mp4", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "clip", w.Body.String())
	})

	t.Run("missing file", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/files/"+taskID+"/nope.mp4", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("cleanup releases artifacts", func(t *testing.T) {
		w := env.do(t, http.MethodDelete, "/api/v1/tasks/"+taskID+"/artifacts", nil)
		require.Equal(t, http.StatusOK, w.Code)

		w = env.do(t, http.MethodGet, "/api/v1/files/"+taskID+"/short_01.mp4", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestAuthMiddleware(t *testing.T) {
	env := setupTestEnv(t)
	env.cfg.AuthEnable = true
	env.cfg.AuthKey = "secret-key"

	request := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/whatever", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)
		return w
	}

	t.Run("missing header", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, request("").Code)
	})

	t.Run("malformed header", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, request("secret-key").Code)
	})

	t.Run("wrong token", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, request("Bearer wrong").Code)
	})

	t.Run("valid token reaches the handler", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, request("Bearer secret-key").Code)
	})

	t.Run("health endpoint is open", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
