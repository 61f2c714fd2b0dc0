package mediaproc

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/go-kratos/kratos/v2/log"
)

var errReleased = errors.New("handle released before completion")

// Handle 是一次进程执行的可释放句柄。
//
// Wait 返回进程的完成结果（退出码 0 为成功），Stdout 暴露进程输出流，
// Close 幂等地释放全部资源，应在获取 Handle 后立即 defer。
type Handle struct {
	name   string
	cmd    *exec.Cmd
	input  io.ReadCloser
	stdout *os.File
	stderr *headBuffer
	cancel context.CancelFunc
	log    *log.Helper

	done    chan struct{}
	exited  chan struct{}
	result  error
	closing atomic.Bool

	settleOnce sync.Once
	inputOnce  sync.Once
	closeOnce  sync.Once
}

func newHandle(name string, cmd *exec.Cmd, input io.ReadCloser, stdout *os.File, stderr *headBuffer, cancel context.CancelFunc, logger *log.Helper) *Handle {
	return &Handle{
		name:   name,
		cmd:    cmd,
		input:  input,
		stdout: stdout,
		stderr: stderr,
		cancel: cancel,
		log:    logger,
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
}

// Stdout 返回进程标准输出。
func (h *Handle) Stdout() io.Reader {
	return h.stdout
}

// Done 在进程结果确定后关闭。
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait 阻塞直到进程结果确定。
func (h *Handle) Wait() error {
	<-h.done
	return h.result
}

// Exited 报告进程是否已经退出并被回收。
func (h *Handle) Exited() bool {
	select {
	case <-h.exited:
		return true
	default:
		return false
	}
}

// Close 释放句柄：结束仍在运行的进程，关闭输入流与输出流，并等待进程回收。
// 多次调用只有第一次生效。
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		h.closing.Store(true)
		h.settle(&Error{Command: h.name, Kind: KindCanceled, ExitCode: -1, Err: errReleased})
		h.kill()
		h.cancel()
		h.closeInput()
		_ = h.stdout.Close()
		<-h.exited
	})
	return nil
}

func (h *Handle) settle(err error) {
	h.settleOnce.Do(func() {
		h.result = err
		close(h.done)
	})
}

// fail 先确定失败结果，再结束进程，保证结果不会被随后的非零退出覆盖。
func (h *Handle) fail(err error) {
	h.settle(err)
	h.kill()
}

func (h *Handle) kill() {
	if h.Exited() || h.cmd.Process == nil {
		return
	}
	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		h.log.Warnf("mediaproc: kill %s: %v", h.name, err)
	}
}

func (h *Handle) closeInput() {
	if h.input == nil {
		return
	}
	h.inputOnce.Do(func() {
		_ = h.input.Close()
	})
}

func (h *Handle) wait() {
	err := h.cmd.Wait()
	close(h.exited)
	if err == nil {
		h.settle(nil)
		return
	}
	code := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}
	h.settle(&Error{Command: h.name, Kind: KindExit, ExitCode: code, Stderr: h.stderr.String(), Err: err})
}

func (h *Handle) pump(stdin io.WriteCloser) {
	defer stdin.Close()
	if h.input == nil {
		return
	}
	_, err := io.Copy(stdin, h.input)
	if err == nil || h.closing.Load() || isBrokenPipe(err) {
		return
	}
	h.fail(&Error{Command: h.name, Kind: KindStream, ExitCode: -1, Err: err})
}

func (h *Handle) watch(parent, runCtx context.Context) {
	select {
	case <-h.exited:
		return
	case <-runCtx.Done():
	}
	if h.closing.Load() {
		return
	}
	kind := KindCanceled
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
		kind = KindTimeout
	}
	h.fail(&Error{Command: h.name, Kind: kind, ExitCode: -1, Err: runCtx.Err(), Stderr: h.stderr.String()})
}

// isBrokenPipe 判断写入 stdin 的错误是否源于进程已提前结束读取（例如 ffprobe 只读取文件头）。
func isBrokenPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

// headBuffer 保留 stderr 的前若干字节，超出部分丢弃。
type headBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func newHeadBuffer(limit int) *headBuffer {
	return &headBuffer{limit: limit}
}

func (b *headBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - len(b.buf); room > 0 {
		if len(p) < room {
			room = len(p)
		}
		b.buf = append(b.buf, p[:room]...)
	}
	return len(p), nil
}

func (b *headBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
