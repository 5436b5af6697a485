package api

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/orchestrator"
	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/timeline"
	"github.com/houzhh15/chunkscribe/pkg/logger"
)

// JobStatus 转写任务状态
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Job 一次后台转写任务
type Job struct {
	ID          string               `json:"id"`
	Status      JobStatus            `json:"status"`
	Request     orchestrator.Request `json:"request"`
	SubmittedBy string               `json:"submitted_by"`
	CreatedAt   time.Time            `json:"created_at"`
	StartedAt   *time.Time           `json:"started_at,omitempty"`
	FinishedAt  *time.Time           `json:"finished_at,omitempty"`

	Manifest  *timeline.Manifest `json:"manifest,omitempty"`
	Partial   bool               `json:"partial"`
	ErrorCode string             `json:"error_code,omitempty"`
	Error     string             `json:"error,omitempty"`

	// 上传任务的文件目录，删除任务时一并清理
	UploadDir string `json:"-"`
}

// Finished 任务已结束（成功或失败）
func (j Job) Finished() bool {
	return j.Status == JobSucceeded || j.Status == JobFailed
}

// Submission 一次任务提交；ID 为空时自动生成
type Submission struct {
	ID        string
	Request   orchestrator.Request
	User      string
	UploadDir string
}

// NewJobID 生成任务 ID
func NewJobID() string {
	return uuid.NewString()
}

// ErrJobActive 任务仍在排队或运行
var ErrJobActive = errors.New("job is still queued or running")

// Transcriber 执行一次完整转写，*orchestrator.Orchestrator 实现该接口
type Transcriber interface {
	Transcribe(ctx context.Context, req orchestrator.Request) (*orchestrator.Report, error)
}

// JobStore 内存任务表，进程退出即丢失
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewJobStore 创建空任务表
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*Job)}
}

// Create 登记一个排队中的任务并返回其快照
func (s *JobStore) Create(sub Submission) Job {
	if sub.ID == "" {
		sub.ID = NewJobID()
	}
	job := &Job{
		ID:          sub.ID,
		Status:      JobQueued,
		Request:     sub.Request,
		SubmittedBy: sub.User,
		CreatedAt:   time.Now(),
		UploadDir:   sub.UploadDir,
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	return *job
}

// Get 返回任务快照
func (s *JobStore) Get(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// List 按创建时间倒序返回所有任务
func (s *JobStore) List() []Job {
	s.mu.RLock()
	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Delete 移除已结束的任务；任务不存在返回 false，未结束返回 ErrJobActive
func (s *JobStore) Delete(id string) (Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, false, nil
	}
	if !job.Finished() {
		return *job, true, ErrJobActive
	}
	delete(s.jobs, id)
	return *job, true, nil
}

func (s *JobStore) update(id string, fn func(*Job)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok {
		fn(job)
	}
}

// Runner 在后台执行任务，maxJobs 限制同时运行的任务数
type Runner struct {
	ctx         context.Context
	store       *JobStore
	transcriber Transcriber
	sem         *semaphore.Weighted
	wg          sync.WaitGroup
}

// NewRunner 创建 Runner；ctx 取消后排队任务直接失败，运行中任务收到取消信号
func NewRunner(ctx context.Context, store *JobStore, t Transcriber, maxJobs int) *Runner {
	if maxJobs < 1 {
		maxJobs = 1
	}
	return &Runner{
		ctx:         ctx,
		store:       store,
		transcriber: t,
		sem:         semaphore.NewWeighted(int64(maxJobs)),
	}
}

// Submit 登记任务并异步执行
func (r *Runner) Submit(sub Submission) Job {
	job := r.store.Create(sub)
	r.wg.Add(1)
	go r.run(job.ID, job.Request)
	return job
}

// Wait 阻塞直到所有已提交任务结束
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) run(id string, req orchestrator.Request) {
	defer r.wg.Done()
	log := logger.L().With("job_id", id, "source", req.Source)

	if err := r.sem.Acquire(r.ctx, 1); err != nil {
		r.finish(id, nil, err)
		log.Warn("job cancelled before start", "error", err)
		return
	}
	defer r.sem.Release(1)

	now := time.Now()
	r.store.update(id, func(j *Job) {
		j.Status = JobRunning
		j.StartedAt = &now
	})
	log.Info("job started")

	report, err := r.transcriber.Transcribe(r.ctx, req)
	r.finish(id, report, err)
	if err != nil {
		log.Error("job failed", "error", err, "code", string(orchestrator.CodeOf(err)))
		return
	}
	log.Info("job finished", "partial", report.Partial(), "duration_ms", report.Duration.Milliseconds())
}

func (r *Runner) finish(id string, report *orchestrator.Report, err error) {
	now := time.Now()
	r.store.update(id, func(j *Job) {
		j.FinishedAt = &now
		if err != nil {
			j.Status = JobFailed
			j.Error = err.Error()
			j.ErrorCode = string(orchestrator.CodeOf(err))
			return
		}
		j.Status = JobSucceeded
		j.Manifest = report.Manifest
		j.Partial = report.Partial()
	})
}
