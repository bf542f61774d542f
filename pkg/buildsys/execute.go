package buildsys

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rotisserie/eris"

	"github.com/ngld/assetsys/pkg/logctx"
	"github.com/ngld/assetsys/pkg/shell"
)

func (s *Scheduler) execute(ctx context.Context, task *Task) *RunResult {
	ctx = logctx.WithFields(ctx, map[string]string{"task": task.Short})
	result := &RunResult{
		Task:      task.Short,
		Reload:    task.Reload,
		StartedAt: time.Now(),
	}

	log(ctx).Info().Msg("started")

	operation := func() error {
		result.Outputs = nil
		result.Failures = nil
		return s.runTaskInternal(ctx, task, result)
	}

	// Without retries, backoff still calls operation exactly once and unwraps permanent errors for us.
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), task.Retries)
	err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		log(ctx).Warn().Err(err).Msgf("failed, retrying in %s", wait.Round(time.Millisecond))
	})

	result.FinishedAt = time.Now()
	if err != nil {
		result.Status = StatusFailed
		result.Err = err
		log(ctx).Error().Err(err).Msg("failed")
	} else {
		result.Status = StatusSucceeded
		log(ctx).Info().Msgf("finished in %s", result.Duration().Round(time.Millisecond))
	}

	return result
}

func (s *Scheduler) runTaskInternal(ctx context.Context, task *Task, result *RunResult) error {
	if ctx.Err() != nil {
		return backoff.Permanent(ctx.Err())
	}

	base := task.Base
	if base == "" {
		base = "."
	}

	for idx, script := range task.Cmds {
		err := s.runCmd(ctx, task, base, idx, script)
		if err != nil {
			return err
		}

		if err = ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
	}

	if task.Pipeline != nil {
		res, err := s.runner.Run(ctx, task.Pipeline)
		if res != nil {
			result.Outputs = res.Outputs
			result.Failures = res.Failures
		}

		if err != nil {
			return eris.Wrap(err, "pipeline aborted")
		}

		if res.Failed() {
			return eris.Wrapf(res.Failures[0], "%d of %d resources failed", len(res.Failures), res.Matched)
		}

		log(ctx).Debug().Int("matched", res.Matched).Msgf("wrote %d files", len(res.Outputs))
	}

	if task.Action != nil && !s.opts.DryRun {
		return task.Action(ctx)
	}

	return nil
}

func (s *Scheduler) runCmd(ctx context.Context, task *Task, base string, idx int, script string) error {
	file, err := shell.Parse(script, fmt.Sprintf("%s:%d", task.Short, idx))
	if err != nil {
		return backoff.Permanent(err)
	}

	runner, err := shell.NewRunner(shell.Options{
		Dir:    base,
		Env:    task.Env,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	})
	if err != nil {
		return err
	}

	for _, stmt := range file.Stmts {
		log(ctx).Info().
			Bool("command", true).
			Msg(shell.Format(stmt))

		if s.opts.DryRun {
			continue
		}

		err = runner.Run(ctx, stmt)
		if err != nil {
			return err
		}

		if runner.Exited() {
			return nil
		}
	}

	return nil
}
