// SPDX-License-Identifier: MIT

package encode

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/heliolapse/heliolapse/internal/log"
	"github.com/heliolapse/heliolapse/internal/procgroup"
)

// EncoderError reports a failed encoder invocation with the tail of its
// stderr output.
type EncoderError struct {
	ExitCode int
	Stderr   []string
	Err      error
}

func (e *EncoderError) Error() string {
	if n := len(e.Stderr); n > 0 {
		return fmt.Sprintf("encoder exit %d: %v: %s", e.ExitCode, e.Err, e.Stderr[n-1])
	}
	return fmt.Sprintf("encoder exit %d: %v", e.ExitCode, e.Err)
}

func (e *EncoderError) Unwrap() error { return e.Err }

// runner executes a single encoder invocation to completion, capturing
// stderr into a line ring.
type runner struct {
	binary string
	ring   *LineRing
}

func newRunner(binary string) *runner {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &runner{binary: binary, ring: NewLineRing(256)}
}

// run executes the encoder with the given args and waits for exit. On
// cancellation the process group is reaped (SIGTERM, then SIGKILL).
func (r *runner) run(ctx context.Context, args []string) error {
	logger := log.WithComponentFromContext(ctx, "encoder")

	cmd := exec.CommandContext(ctx, r.binary, args...) // #nosec G204 -- binary from validated config
	procgroup.Set(cmd)
	cmd.Cancel = func() error {
		return procgroup.KillGroup(cmd.Process.Pid, 5*time.Second, 10*time.Second)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &EncoderError{ExitCode: -1, Err: err}
	}

	var ioWg sync.WaitGroup
	ioWg.Add(1)
	go func() {
		defer ioWg.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			_, _ = r.ring.Write(scanner.Bytes())
			_, _ = r.ring.Write([]byte("\n"))
		}
	}()

	logger.Debug().Str("command", r.binary+" "+strings.Join(args, " ")).Msg("starting encoder process")
	start := time.Now()

	if err := cmd.Start(); err != nil {
		return &EncoderError{ExitCode: -1, Err: err}
	}

	waitErr := cmd.Wait()
	ioWg.Wait()

	if waitErr != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code = exitErr.ExitCode()
		}
		tail := r.ring.LastN(40)
		logger.Error().
			Int("exit_code", code).
			Strs("stderr", tail).
			Msg("encoder process failed")
		return &EncoderError{ExitCode: code, Stderr: tail, Err: waitErr}
	}

	logger.Debug().Dur("elapsed", time.Since(start)).Msg("encoder process finished")
	return nil
}
