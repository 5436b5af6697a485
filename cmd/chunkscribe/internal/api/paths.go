package api

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/orchestrator/dependency"
)

// ErrPathSubmissionDisabled 未配置 input_dir 时只能通过上传提交
var ErrPathSubmissionDisabled = errors.New("path submissions are disabled, upload the file instead")

// Paths 限定 serve 模式可读写的目录
type Paths struct {
	InputDir  string // source 相对此目录解析，为空时禁止按路径提交
	UploadDir string // 上传文件按任务 ID 分目录保存
	OutputDir string // 每个任务的输出目录都在此目录之下
}

// ResolveSource 将请求中的相对 source 解析到 InputDir 之下
func (p Paths) ResolveSource(source string) (string, error) {
	if p.InputDir == "" {
		return "", ErrPathSubmissionDisabled
	}
	resolved, err := within(p.InputDir, source)
	if err != nil {
		return "", err
	}
	// 目录中的符号链接可能指向 InputDir 之外，按真实路径再校验一次
	realPath, err := filepath.EvalSymlinks(resolved)
	if err != nil {
		return "", fmt.Errorf("source %q: %w", source, err)
	}
	realRoot, err := filepath.EvalSymlinks(p.InputDir)
	if err != nil {
		return "", fmt.Errorf("input dir: %w", err)
	}
	if err := dependency.NewPathManager(realRoot).ValidatePath(realPath); err != nil {
		return "", err
	}
	return resolved, nil
}

// ResolveOutput 返回任务输出目录；sub 为空时使用任务 ID
func (p Paths) ResolveOutput(sub, jobID string) (string, error) {
	if strings.TrimSpace(sub) == "" {
		sub = jobID
	}
	return within(p.OutputDir, sub)
}

// UploadPath 返回上传文件的保存位置 <UploadDir>/<jobID>/<安全文件名>
func (p Paths) UploadPath(jobID, filename string) (string, error) {
	return within(p.UploadDir, filepath.Join(jobID, safeFilename(filename)))
}

// within 拒绝绝对路径和逃逸 root 的相对路径
func within(root, rel string) (string, error) {
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") || strings.HasPrefix(rel, `\`) {
		return "", fmt.Errorf("path %q must be relative", rel)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	joined := filepath.Join(absRoot, rel)
	if joined == absRoot {
		return "", fmt.Errorf("path %q names the root itself", rel)
	}
	if err := dependency.NewPathManager(absRoot).ValidatePath(joined); err != nil {
		return "", err
	}
	return joined, nil
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func safeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	name = strings.TrimLeft(name, ".")
	if name == "" || name == "_" {
		return "upload"
	}
	return name
}
