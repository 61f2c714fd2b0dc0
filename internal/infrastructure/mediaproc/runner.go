// Package mediaproc 以子进程方式运行 ffprobe/ffmpeg 等媒体工具。
//
// 输入流经 stdin 送入进程，stdout 以流的形式暴露给调用方。每次执行被封装为一个 Handle，
// 进程与输入/输出流视为同一个可释放单元：无论成功、非零退出、超时、读流失败还是外部取消，
// Close 都只会真正执行一次清理（结束进程、关闭输入与输出）。
package mediaproc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/go-kratos/kratos/v2/log"
)

const (
	defaultTimeout   = 60 * time.Second
	defaultWaitDelay = 2 * time.Second
	stderrCapture    = 4 << 10
	maxCollected     = 4 << 20
)

// Command 描述一次外部进程调用。
type Command struct {
	// Name 是用于日志与错误消息的逻辑名称，例如 "ffprobe"。
	Name    string
	Path    string
	Args    []string
	Env     []string
	Timeout time.Duration
}

// Runner 负责启动外部进程并返回可释放的 Handle。
type Runner struct {
	log *log.Helper
}

// NewRunner 创建 Runner。
func NewRunner(logger log.Logger) *Runner {
	return &Runner{log: log.NewHelper(logger)}
}

// Start 启动进程，将 input 写入其 stdin。
//
// 返回的 Handle 必须由调用方 Close；启动失败时 input 会被立即关闭。
// 超时从 Start 开始计算，ctx 取消同样会结束进程。
func (r *Runner) Start(ctx context.Context, spec Command, input io.ReadCloser) (*Handle, error) {
	name := spec.Name
	if name == "" {
		name = spec.Path
	}
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	cmd.WaitDelay = defaultWaitDelay

	spawnFailed := func(err error) (*Handle, error) {
		if input != nil {
			_ = input.Close()
		}
		r.log.WithContext(ctx).Warnf("mediaproc: start %s failed: %v", name, err)
		return nil, &Error{Command: name, Kind: KindSpawn, ExitCode: -1, Err: err}
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return spawnFailed(err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return spawnFailed(err)
	}
	stderr := newHeadBuffer(stderrCapture)
	cmd.Stdout = stdoutW
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		return spawnFailed(err)
	}
	// 子进程持有写端副本，父进程关闭自身副本后读端才能在进程退出时读到 EOF。
	_ = stdoutW.Close()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	h := newHandle(name, cmd, input, stdoutR, stderr, cancel, r.log)
	go h.wait()
	go h.pump(stdin)
	go h.watch(ctx, runCtx)
	return h, nil
}

// Run 运行进程直至结束并收集全部 stdout，适用于输出较小的探测类命令。
func (r *Runner) Run(ctx context.Context, spec Command, input io.ReadCloser) ([]byte, error) {
	h, err := r.Start(ctx, spec, input)
	if err != nil {
		return nil, err
	}
	defer h.Close()

	out, readErr := io.ReadAll(io.LimitReader(h.Stdout(), maxCollected))
	if err := h.Wait(); err != nil {
		return nil, err
	}
	if readErr != nil && !errors.Is(readErr, os.ErrClosed) {
		return nil, &Error{Command: h.name, Kind: KindStream, Err: fmt.Errorf("read stdout: %w", readErr)}
	}
	return out, nil
}
