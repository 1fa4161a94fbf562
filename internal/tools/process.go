package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/consts"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/logger"
)

const waitDelay = 2 * time.Second

// cappedBuffer collects combined stdout and stderr up to a byte limit.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - b.buf.Len(); room < len(p) {
		b.truncated = true
		if room > 0 {
			b.buf.Write(p[:room])
		}
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return b.buf.String() + "\n... [output truncated]"
	}
	return b.buf.String()
}

// runCommand starts cmd in its own process group and waits for it, killing
// the whole group when timeout elapses or ctx is cancelled.
func runCommand(ctx context.Context, cmd *exec.Cmd, timeout time.Duration) Result {
	out := &cappedBuffer{limit: consts.MaxToolOutputChars}
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = waitDelay
	configureProcessGroup(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		logger.Error("shell: failed to start command: %v", err)
		return failResult(nil, "failed to start command: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var err error
	select {
	case err = <-done:
	case <-timer.C:
		logger.Warn("shell: killing process (pid=%d) due to timeout after %s", cmd.Process.Pid, timeout)
		killProcessTree(cmd)
		<-done
		return Result{
			Output: out.String(),
			Error:  fmt.Sprintf("Command timeout (%ds)", int(timeout.Round(time.Second)/time.Second)),
			Cause:  ErrCommandTimeout,
		}
	case <-ctx.Done():
		logger.Warn("shell: killing process (pid=%d) due to context cancellation: %s", cmd.Process.Pid, ctx.Err())
		killProcessTree(cmd)
		<-done
		return Result{Output: out.String(), Error: ctx.Err().Error(), Cause: ctx.Err()}
	}

	output := out.String()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{Output: output, Error: ctxErr.Error(), Cause: ctxErr}
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			logger.Warn("shell: command exited with code %d after %s", exitErr.ExitCode(), time.Since(start))
			return Result{Output: output, Error: fmt.Sprintf("exit code %d", exitErr.ExitCode())}
		}
		logger.Error("shell: failed to execute command: %v", err)
		return Result{Output: output, Error: fmt.Sprintf("failed to execute command: %v", err)}
	}

	logger.Info("shell: command completed (output_bytes=%d) in %s", len(output), time.Since(start))
	return okResult(output)
}
