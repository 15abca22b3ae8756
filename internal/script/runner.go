// internal/script/runner.go
package script

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/steady/internal/browser/activity"
	"github.com/xkilldash9x/steady/internal/browser/driver"
	"github.com/xkilldash9x/steady/internal/browser/navigator"
)

// Target is the action surface steps run against.
type Target interface {
	Goto(ctx context.Context, url string, conditions ...navigator.Condition) (*driver.Response, error)
	Click(ctx context.Context, selector string, opts ...navigator.ClickOption) error
	Type(ctx context.Context, selector, text string, opts ...navigator.TypeOption) error
	Select(ctx context.Context, selector string, opt navigator.SelectOption) error
	Wait(ctx context.Context, c navigator.Condition) (driver.Element, error)
	WaitActivity(ctx context.Context, opts ...navigator.ActivityOption) activity.SettleResult
	ScrollPage(ctx context.Context, direction string) error
	ScrollIntoView(ctx context.Context, selector string) error
	Evaluate(ctx context.Context, fn string, out any, args ...any) error
	UpdateOptions(u navigator.PolicyUpdate)
	// FrameTarget descends into the frame hosted by selector.
	FrameTarget(ctx context.Context, selector string) (Target, error)
}

// navigatorTarget adapts a navigator; only frame descent needs translating.
type navigatorTarget struct {
	*navigator.Navigator
}

// NavigatorTarget returns n as a Target.
func NavigatorTarget(n *navigator.Navigator) Target {
	return navigatorTarget{n}
}

func (t navigatorTarget) FrameTarget(ctx context.Context, selector string) (Target, error) {
	child, err := t.FrameNavigator(ctx, selector)
	if err != nil {
		return nil, err
	}
	return navigatorTarget{child}, nil
}

// StepError reports the step a run stopped at.
type StepError struct {
	// Path is the 1-based step index; nested frame steps are dotted ("3.2").
	Path  string
	Kind  string
	Label string
	Err   error
}

func (e *StepError) Error() string {
	if e.Label != "" && e.Label != e.Kind {
		return fmt.Sprintf("step %s (%s %q): %v", e.Path, e.Kind, e.Label, e.Err)
	}
	return fmt.Sprintf("step %s (%s): %v", e.Path, e.Kind, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// StepResult records one executed step.
type StepResult struct {
	Path     string
	Kind     string
	Label    string
	Duration time.Duration
	// Value is the decoded result of an evaluate step.
	Value any
	// Settled is set for wait_activity steps.
	Settled *bool
}

// Report is the outcome of a run, complete up to the failing step.
type Report struct {
	Script string
	Steps  []StepResult
}

// Runner executes scripts step by step.
type Runner struct {
	logger  *zap.Logger
	limiter *rate.Limiter
}

// NewRunner creates a runner. stepsPerSecond paces step starts; zero or less
// disables pacing.
func NewRunner(logger *zap.Logger, stepsPerSecond float64) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{logger: logger.Named("runner")}
	if stepsPerSecond > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(stepsPerSecond), 1)
	}
	return r
}

// Run applies the script's options, then executes its steps in order,
// stopping at the first failure with a *StepError.
func (r *Runner) Run(ctx context.Context, t Target, s *Script) (*Report, error) {
	report := &Report{Script: s.Name}
	logger := r.logger.With(zap.String("script", s.Name))
	logger.Info("Running script.", zap.Int("steps", len(s.Steps)))

	if u := s.Options.Update(); !u.IsZero() {
		t.UpdateOptions(u)
	}

	start := time.Now()
	if err := r.runSteps(ctx, t, s.Steps, "", report, logger); err != nil {
		logger.Warn("Script failed.", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return report, err
	}
	logger.Info("Script finished.", zap.Int("executed", len(report.Steps)), zap.Duration("elapsed", time.Since(start)))
	return report, nil
}

func (r *Runner) runSteps(ctx context.Context, t Target, steps []Step, prefix string, report *Report, logger *zap.Logger) error {
	for i, step := range steps {
		path := stepPath(prefix, i)
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return &StepError{Path: path, Kind: step.Kind(), Label: step.Label(), Err: err}
			}
		}

		logger.Debug("Step started.", zap.String("step", path), zap.String("kind", step.Kind()), zap.String("label", step.Label()))
		res := StepResult{Path: path, Kind: step.Kind(), Label: step.Label()}
		began := time.Now()

		if step.Frame != nil {
			child, err := t.FrameTarget(ctx, step.Frame.Selector)
			if err != nil {
				return &StepError{Path: path, Kind: res.Kind, Label: res.Label, Err: err}
			}
			res.Duration = time.Since(began)
			report.Steps = append(report.Steps, res)
			if err := r.runSteps(ctx, child, step.Frame.Steps, path, report, logger); err != nil {
				return err
			}
			continue
		}

		if err := r.runStep(ctx, t, step, &res); err != nil {
			return &StepError{Path: path, Kind: res.Kind, Label: res.Label, Err: err}
		}
		res.Duration = time.Since(began)
		report.Steps = append(report.Steps, res)
	}
	return nil
}

func (r *Runner) runStep(ctx context.Context, t Target, step Step, res *StepResult) error {
	switch {
	case step.Goto != nil:
		conds := make([]navigator.Condition, 0, len(step.Goto.WaitFor))
		for _, w := range step.Goto.WaitFor {
			conds = append(conds, w.Condition())
		}
		resp, err := t.Goto(ctx, step.Goto.URL, conds...)
		if err != nil {
			return err
		}
		if resp != nil {
			r.logger.Debug("Navigated.", zap.String("url", resp.URL), zap.Int("status", resp.Status))
		}
		return nil

	case step.Click != nil:
		var opts []navigator.ClickOption
		if step.Click.Simulated != nil {
			opts = append(opts, navigator.WithSimulated(*step.Click.Simulated))
		}
		if step.Click.Button != "" {
			opts = append(opts, navigator.WithButton(driver.MouseButton(step.Click.Button)))
		}
		if step.Click.Count > 0 {
			opts = append(opts, navigator.WithClickCount(step.Click.Count))
		}
		if step.Click.Delay > 0 {
			opts = append(opts, navigator.WithClickDelay(time.Duration(step.Click.Delay)))
		}
		return t.Click(ctx, step.Click.Selector, opts...)

	case step.Type != nil:
		var opts []navigator.TypeOption
		if step.Type.Delay > 0 {
			opts = append(opts, navigator.WithKeyDelay(time.Duration(step.Type.Delay)))
		}
		return t.Type(ctx, step.Type.Selector, step.Type.Text, opts...)

	case step.Select != nil:
		return t.Select(ctx, step.Select.Selector, navigator.SelectOption{Value: step.Select.Value, Label: step.Select.Label})

	case step.Wait != nil:
		_, err := t.Wait(ctx, step.Wait.Condition())
		return err

	case step.WaitActivity != nil:
		var opts []navigator.ActivityOption
		if d := step.WaitActivity.Idle.ptr(); d != nil {
			opts = append(opts, navigator.WithIdleTime(*d))
		}
		if d := step.WaitActivity.IdleLoad.ptr(); d != nil {
			opts = append(opts, navigator.WithIdleLoadTime(*d))
		}
		settled := t.WaitActivity(ctx, opts...).Settled
		res.Settled = &settled
		return nil

	case step.Scroll != nil:
		if step.Scroll.Selector != "" {
			return t.ScrollIntoView(ctx, step.Scroll.Selector)
		}
		return t.ScrollPage(ctx, step.Scroll.Direction)

	case step.Evaluate != nil:
		var out any
		if err := t.Evaluate(ctx, step.Evaluate.Function, &out, step.Evaluate.Args...); err != nil {
			return err
		}
		res.Value = out
		r.logger.Debug("Evaluated.", zap.Any("value", out))
		return nil

	case step.Options != nil:
		t.UpdateOptions(step.Options.Update())
		return nil
	}
	return fmt.Errorf("step has no action")
}
