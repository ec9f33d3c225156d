package analysis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// errOutputTooLarge は出力上限を超えたときに書き込み側とコンテキストへ伝える原因です。
var errOutputTooLarge = errors.New("captured output exceeds limit")

const defaultWaitDelay = 5 * time.Second

// Command はワーカーの起動内容です。シェルは経由しません。
type Command struct {
	Path string
	Args []string
	Env  []string // 親プロセスの環境に追加する KEY=VALUE
	Dir  string
}

// Limits はワーカー1回分の実行制限です。
type Limits struct {
	Timeout        time.Duration
	MaxOutputBytes int64 // stdout と stderr の合計
}

// Output はワーカーの実行結果です。
type Output struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Started  time.Time
	Stopped  time.Time
}

// ProcessRunner はワーカープロセスを実行します。
// 失敗時は Kind が KindProcess の *Error を返します。
type ProcessRunner interface {
	Run(ctx context.Context, cmd Command, limits Limits) (*Output, error)
}

// ExecRunner は os/exec でワーカーを起動する ProcessRunner です。
type ExecRunner struct {
	log       zerolog.Logger
	waitDelay time.Duration
}

// NewExecRunner は ExecRunner を作成します。
func NewExecRunner(log zerolog.Logger) *ExecRunner {
	return &ExecRunner{log: log, waitDelay: defaultWaitDelay}
}

// Run はワーカーを起動し、終了まで待ちます。
// Timeout を過ぎた場合とキャプチャ量が MaxOutputBytes を超えた場合はプロセスを強制終了します。
func (r *ExecRunner) Run(ctx context.Context, command Command, limits Limits) (*Output, error) {
	var (
		timeoutCtx context.Context
		cancel     context.CancelFunc
	)
	if limits.Timeout > 0 {
		timeoutCtx, cancel = context.WithTimeout(ctx, limits.Timeout)
	} else {
		timeoutCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	runCtx, abort := context.WithCancelCause(timeoutCtx)
	defer abort(nil)

	capture := &outputCap{limit: limits.MaxOutputBytes, abort: abort}
	stdout := &capturedStream{shared: capture}
	stderr := &capturedStream{shared: capture}

	cmd := exec.CommandContext(runCtx, command.Path, command.Args...)
	if len(command.Env) > 0 {
		cmd.Env = append(os.Environ(), command.Env...)
	}
	cmd.Dir = command.Dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = r.waitDelay

	log := r.log.With().Str("worker", command.Path).Logger()
	started := time.Now()
	if err := cmd.Start(); err != nil {
		log.Error().Err(err).Msg("failed to start analysis worker")
		return nil, &Error{
			Kind:     KindProcess,
			Failure:  FailureSpawn,
			ExitCode: -1,
			Message:  "failed to start analysis worker",
			Details:  headExcerpt([]byte(err.Error())),
			Err:      err,
		}
	}
	log.Debug().Int("pid", cmd.Process.Pid).Strs("args", command.Args).Msg("analysis worker started")

	waitErr := cmd.Wait()
	out := &Output{
		Stdout:   stdout.bytes(),
		Stderr:   stderr.bytes(),
		ExitCode: -1,
		Started:  started,
		Stopped:  time.Now(),
	}
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
	}
	elapsed := out.Stopped.Sub(started)

	switch {
	case capture.wasExceeded():
		log.Warn().Int64("limit", limits.MaxOutputBytes).Dur("elapsed", elapsed).Msg("analysis worker output exceeded limit")
		return out, &Error{
			Kind:     KindProcess,
			Failure:  FailureOutputTooLarge,
			ExitCode: out.ExitCode,
			Message:  fmt.Sprintf("analysis worker output exceeded %d bytes", limits.MaxOutputBytes),
			Details:  tailExcerpt(out.Stderr),
			Err:      errOutputTooLarge,
		}
	case waitErr == nil:
		log.Debug().Dur("elapsed", elapsed).Int("stdoutBytes", len(out.Stdout)).Msg("analysis worker finished")
		return out, nil
	case ctx.Err() != nil:
		log.Warn().Err(ctx.Err()).Dur("elapsed", elapsed).Msg("analysis worker canceled")
		return out, &Error{
			Kind:     KindProcess,
			Failure:  FailureCanceled,
			ExitCode: out.ExitCode,
			Message:  "analysis worker was canceled",
			Details:  tailExcerpt(out.Stderr),
			Err:      ctx.Err(),
		}
	case errors.Is(timeoutCtx.Err(), context.DeadlineExceeded):
		log.Warn().Dur("timeout", limits.Timeout).Msg("analysis worker timed out")
		return out, &Error{
			Kind:     KindProcess,
			Failure:  FailureTimeout,
			ExitCode: out.ExitCode,
			Message:  fmt.Sprintf("analysis worker did not finish within %s", limits.Timeout),
			Details:  tailExcerpt(out.Stderr),
			Err:      context.DeadlineExceeded,
		}
	case errors.Is(waitErr, exec.ErrWaitDelay) && out.ExitCode == 0:
		// 子プロセスが出力パイプを保持したまま残っているが、ワーカー本体は正常終了している
		log.Warn().Err(waitErr).Msg("analysis worker left output pipes open")
		return out, nil
	}

	details := tailExcerpt(out.Stderr)
	if details == "" {
		details = headExcerpt([]byte(waitErr.Error()))
	}
	log.Warn().Err(waitErr).Int("exitCode", out.ExitCode).Msg("analysis worker failed")
	return out, &Error{
		Kind:     KindProcess,
		Failure:  FailureNonZeroExit,
		ExitCode: out.ExitCode,
		Message:  fmt.Sprintf("analysis worker exited with code %d", out.ExitCode),
		Details:  details,
		Err:      waitErr,
	}
}

// outputCap は stdout と stderr で共有する書き込み量の上限です。
type outputCap struct {
	mu       sync.Mutex
	limit    int64
	total    int64
	exceeded bool
	abort    context.CancelCauseFunc
}

func (c *outputCap) wasExceeded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exceeded
}

type capturedStream struct {
	shared *outputCap
	buf    bytes.Buffer
}

func (s *capturedStream) Write(p []byte) (int, error) {
	c := s.shared
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exceeded {
		return 0, errOutputTooLarge
	}
	if c.limit > 0 && c.total+int64(len(p)) > c.limit {
		c.exceeded = true
		c.abort(errOutputTooLarge)
		return 0, errOutputTooLarge
	}
	c.total += int64(len(p))
	return s.buf.Write(p)
}

func (s *capturedStream) bytes() []byte {
	s.shared.mu.Lock()
	defer s.shared.mu.Unlock()
	return bytes.Clone(s.buf.Bytes())
}
