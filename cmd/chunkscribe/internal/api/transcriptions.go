package api

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/orchestrator"
	"github.com/houzhh15/chunkscribe/pkg/logger"
)

// SubmitRequest 提交转写任务的请求体
// source 相对 input_dir，output_dir 相对服务输出根目录
type SubmitRequest struct {
	Source    string `json:"source" binding:"required"`
	OutputDir string `json:"output_dir"`
	Model     string `json:"model"`
}

// allowedUploadExts 允许上传的媒体格式
var allowedUploadExts = map[string]bool{
	".mp4":  true,
	".mkv":  true,
	".mov":  true,
	".avi":  true,
	".webm": true,
	".wav":  true,
	".mp3":  true,
	".m4a":  true,
	".flac": true,
	".ogg":  true,
}

// HandleSubmitTranscription 按服务端路径提交后台转写任务
// POST /api/v1/transcriptions
func HandleSubmitTranscription(runner *Runner, paths Paths) gin.HandlerFunc {
	return func(c *gin.Context) {
		if runner == nil {
			errorResponse(c, http.StatusServiceUnavailable, "transcription runner unavailable")
			return
		}
		var body SubmitRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequestResponse(c, "invalid request: "+err.Error())
			return
		}
		if strings.TrimSpace(body.Source) == "" {
			badRequestResponse(c, "source is required")
			return
		}

		source, err := paths.ResolveSource(body.Source)
		if err != nil {
			badRequestResponse(c, "invalid source: "+err.Error())
			return
		}
		id := NewJobID()
		outDir, err := paths.ResolveOutput(body.OutputDir, id)
		if err != nil {
			badRequestResponse(c, "invalid output_dir: "+err.Error())
			return
		}

		job := runner.Submit(Submission{
			ID: id,
			Request: orchestrator.Request{
				Source:    source,
				OutputDir: outDir,
				Model:     body.Model,
			},
			User: currentUser(c),
		})
		accepted(c, job)
	}
}

// HandleUploadTranscription 上传媒体文件并提交转写任务
// POST /api/v1/uploads (multipart: file, model)
func HandleUploadTranscription(runner *Runner, paths Paths, maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if runner == nil {
			errorResponse(c, http.StatusServiceUnavailable, "transcription runner unavailable")
			return
		}
		if maxBytes > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}

		file, err := c.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				errorResponse(c, http.StatusRequestEntityTooLarge,
					fmt.Sprintf("upload exceeds %d bytes", maxBytes))
				return
			}
			badRequestResponse(c, "missing file: "+err.Error())
			return
		}
		ext := strings.ToLower(filepath.Ext(file.Filename))
		if !allowedUploadExts[ext] {
			badRequestResponse(c, fmt.Sprintf("unsupported file format: %q", ext))
			return
		}

		id := NewJobID()
		savePath, err := paths.UploadPath(id, file.Filename)
		if err != nil {
			badRequestResponse(c, "invalid file name: "+err.Error())
			return
		}
		outDir, err := paths.ResolveOutput("", id)
		if err != nil {
			errorResponse(c, http.StatusInternalServerError, err.Error())
			return
		}
		if err := os.MkdirAll(filepath.Dir(savePath), 0o755); err != nil {
			errorResponse(c, http.StatusInternalServerError, "create upload dir: "+err.Error())
			return
		}
		if err := c.SaveUploadedFile(file, savePath); err != nil {
			_ = os.RemoveAll(filepath.Dir(savePath))
			errorResponse(c, http.StatusInternalServerError, "save upload: "+err.Error())
			return
		}

		job := runner.Submit(Submission{
			ID: id,
			Request: orchestrator.Request{
				Source:    savePath,
				OutputDir: outDir,
				Model:     c.PostForm("model"),
			},
			User:      currentUser(c),
			UploadDir: filepath.Dir(savePath),
		})
		accepted(c, job)
	}
}

func accepted(c *gin.Context, job Job) {
	c.JSON(http.StatusAccepted, gin.H{
		"job_id": job.ID,
		"status": job.Status,
	})
}

// HandleGetTranscription 查询任务状态
// GET /api/v1/transcriptions/:id
func HandleGetTranscription(store *JobStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, ok := store.Get(c.Param("id"))
		if !ok {
			notFoundResponse(c, "job")
			return
		}
		c.JSON(http.StatusOK, job)
	}
}

// HandleListTranscriptions 列出全部任务
// GET /api/v1/transcriptions
func HandleListTranscriptions(store *JobStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobs := store.List()
		c.JSON(http.StatusOK, gin.H{
			"jobs":  jobs,
			"total": len(jobs),
		})
	}
}

// artifactFunc 从成功任务的 manifest 中取出要下载的文件
type artifactFunc func(c *gin.Context, job Job) (path, name string)

// HandleGetFullTranscript 下载完整转写文本
// GET /api/v1/transcriptions/:id/full
func HandleGetFullTranscript(store *JobStore) gin.HandlerFunc {
	return serveArtifact(store, func(_ *gin.Context, job Job) (string, string) {
		return job.Manifest.FullTranscriptPath, "full transcript"
	})
}

// HandleGetWindowTranscript 下载单个时间窗口文本，key 形如 00_05
// GET /api/v1/transcriptions/:id/windows/:key
func HandleGetWindowTranscript(store *JobStore) gin.HandlerFunc {
	return serveArtifact(store, func(c *gin.Context, job Job) (string, string) {
		return job.Manifest.WindowFilePaths[c.Param("key")], "window"
	})
}

// HandleGetMetadata 下载运行元数据 JSON
// GET /api/v1/transcriptions/:id/metadata
func HandleGetMetadata(store *JobStore) gin.HandlerFunc {
	return serveArtifact(store, func(_ *gin.Context, job Job) (string, string) {
		return job.Manifest.ManifestPath, "metadata"
	})
}

// serveArtifact 只提供 manifest 中登记过的文件，不接受客户端给出的路径
func serveArtifact(store *JobStore, pick artifactFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, ok := store.Get(c.Param("id"))
		if !ok {
			notFoundResponse(c, "job")
			return
		}
		if job.Status != JobSucceeded || job.Manifest == nil {
			errorResponse(c, http.StatusConflict, fmt.Sprintf("job is %s, no transcript available", job.Status))
			return
		}
		path, what := pick(c, job)
		if path == "" {
			notFoundResponse(c, what)
			return
		}
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			notFoundResponse(c, what)
			return
		}
		if strings.HasSuffix(path, ".json") {
			c.Header("Content-Type", "application/json")
		} else {
			c.Header("Content-Type", "text/plain; charset=utf-8")
		}
		c.File(path)
	}
}

// HandleDeleteTranscription 删除已结束的任务及其输出文件和上传文件
// DELETE /api/v1/transcriptions/:id
func HandleDeleteTranscription(store *JobStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		job, ok, err := store.Delete(id)
		if !ok {
			notFoundResponse(c, "job")
			return
		}
		if errors.Is(err, ErrJobActive) {
			errorResponse(c, http.StatusConflict, err.Error())
			return
		}

		removed := removeJobFiles(job)
		logger.L().Info("job deleted", "job_id", id, "user", currentUser(c), "files_removed", removed)
		c.JSON(http.StatusOK, gin.H{
			"job_id":        id,
			"files_removed": removed,
		})
	}
}

// removeJobFiles 删除 manifest 登记的文件，输出目录为空时一并删除
func removeJobFiles(job Job) int {
	removed := 0
	if m := job.Manifest; m != nil {
		files := []string{m.FullTranscriptPath, m.ManifestPath}
		for _, p := range m.WindowFilePaths {
			files = append(files, p)
		}
		for _, p := range files {
			if p == "" {
				continue
			}
			if err := os.Remove(p); err == nil {
				removed++
			} else if !os.IsNotExist(err) {
				logger.L().Warn("remove transcript file failed", "job_id", job.ID, "path", p, "error", err)
			}
		}
	}
	if job.Request.OutputDir != "" {
		// 非空目录删除失败，说明里面还有别的文件
		_ = os.Remove(job.Request.OutputDir)
	}
	if job.UploadDir != "" {
		if err := os.RemoveAll(job.UploadDir); err != nil {
			logger.L().Warn("remove upload failed", "job_id", job.ID, "path", job.UploadDir, "error", err)
		}
	}
	return removed
}
