package mediaproc

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Kind 标识外部进程失败发生在哪个环节。
type Kind string

const (
	KindSpawn    Kind = "spawn"
	KindExit     Kind = "exit"
	KindTimeout  Kind = "timeout"
	KindStream   Kind = "stream"
	KindCanceled Kind = "canceled"
)

// stderrMessageLimit 控制错误消息中保留的 stderr 字符数。
const stderrMessageLimit = 500

// Error 描述一次外部进程执行失败，携带命令名、退出码与 stderr 片段。
type Error struct {
	Command  string
	Kind     Kind
	ExitCode int
	Stderr   string
	Err      error
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s %s", e.Command, e.Kind)
	if e.Kind == KindExit {
		msg = fmt.Sprintf("%s (exit=%d)", msg, e.ExitCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Stderr != "" {
		msg = fmt.Sprintf("%s: %s", msg, truncate(e.Stderr, stderrMessageLimit))
	}
	return msg
}

// Unwrap 暴露底层错误，支持 errors.Is/As。
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// AsError 从错误链中提取 *Error。
func AsError(err error) (*Error, bool) {
	var perr *Error
	if errors.As(err, &perr) {
		return perr, true
	}
	return nil, false
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "..."
}
