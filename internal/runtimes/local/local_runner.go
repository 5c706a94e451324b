package local

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/model-forge/model-forge/internal/abstractions"
)

// LocalRunner runs commands as child processes of the pipeline.
type LocalRunner struct {
	logger *slog.Logger
}

func NewLocalRunner(logger *slog.Logger) (abstractions.CommandRunner, error) {
	return &LocalRunner{logger: logger}, nil
}

func (r *LocalRunner) WithLogger(logger *slog.Logger) abstractions.CommandRunner {
	return &LocalRunner{logger: logger}
}

func (r *LocalRunner) Name() string {
	return "local"
}

// Run starts the command and waits for it. Output is captured and also logged
// line by line at debug level while the command runs. A non zero exit code is
// reported in the result, errors are returned only when the command could not run.
func (r *LocalRunner) Run(ctx context.Context, spec abstractions.CommandSpec) (*abstractions.CommandResult, error) {
	cmd := exec.CommandContext(ctx, spec.Name, spec.Args...)
	cmd.Dir = spec.WorkDir
	if len(spec.Env) > 0 {
		cmd.Env = os.Environ()
		for name, value := range spec.Env {
			cmd.Env = append(cmd.Env, name+"="+value)
		}
	}

	var stdout, stderr bytes.Buffer
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	logger := r.logger.With("command", spec.Name)
	logger.Info("Running command", "args", spec.Args, "dir", spec.WorkDir)
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go r.stream(&wg, logger, "stdout", stdoutPipe, &stdout)
	go r.stream(&wg, logger, "stderr", stderrPipe, &stderr)
	wg.Wait()

	err = cmd.Wait()
	result := &abstractions.CommandResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			result.ExitCode = exitErr.ExitCode()
			logger.Info("Command finished", "exit_code", result.ExitCode)
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	logger.Info("Command finished", "exit_code", 0)
	return result, nil
}

func (r *LocalRunner) stream(wg *sync.WaitGroup, logger *slog.Logger, name string, pipe io.Reader, sink *bytes.Buffer) {
	defer wg.Done()
	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		sink.Write(line)
		sink.WriteByte('\n')
		logger.Debug(string(line), "stream", name)
	}
	// drain whatever the scanner could not handle so the child never blocks
	_, _ = io.Copy(sink, pipe)
}
