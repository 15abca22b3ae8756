// internal/script/script.go
// Package script loads step files describing browser interactions and runs
// them against a navigator.
package script

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/steady/internal/browser/navigator"
)

// Format is a step file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

var strictJSON = jsoniter.Config{
	EscapeHTML:             true,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
	DisallowUnknownFields:  true,
}.Froze()

// Script is a named list of steps plus the policy to start from.
type Script struct {
	Name    string   `yaml:"name" json:"name"`
	Options *Options `yaml:"options" json:"options"`
	Steps   []Step   `yaml:"steps" json:"steps"`
}

// Options is a partial wait policy. Unset fields keep their current value.
type Options struct {
	WaitUntilVisible   *bool     `yaml:"wait_until_visible" json:"wait_until_visible"`
	WaitOnSelectors    *bool     `yaml:"wait_on_selectors" json:"wait_on_selectors"`
	WaitAfterAction    *Duration `yaml:"wait_after_action" json:"wait_after_action"`
	WaitIdleTime       *Duration `yaml:"wait_idle_time" json:"wait_idle_time"`
	WaitIdleLoadTime   *Duration `yaml:"wait_idle_load_time" json:"wait_idle_load_time"`
	UseSimulatedClicks *bool     `yaml:"use_simulated_clicks" json:"use_simulated_clicks"`
}

// Update converts o into a navigator policy update.
func (o *Options) Update() navigator.PolicyUpdate {
	if o == nil {
		return navigator.PolicyUpdate{}
	}
	return navigator.PolicyUpdate{
		WaitUntilVisible:   o.WaitUntilVisible,
		WaitOnSelectors:    o.WaitOnSelectors,
		WaitAfterAction:    o.WaitAfterAction.ptr(),
		WaitIdleTime:       o.WaitIdleTime.ptr(),
		WaitIdleLoadTime:   o.WaitIdleLoadTime.ptr(),
		UseSimulatedClicks: o.UseSimulatedClicks,
	}
}

// Step holds exactly one action.
type Step struct {
	Name string `yaml:"name" json:"name"`

	Goto         *GotoStep         `yaml:"goto" json:"goto"`
	Click        *ClickStep        `yaml:"click" json:"click"`
	Type         *TypeStep         `yaml:"type" json:"type"`
	Select       *SelectStep       `yaml:"select" json:"select"`
	Wait         *WaitStep         `yaml:"wait" json:"wait"`
	WaitActivity *WaitActivityStep `yaml:"wait_activity" json:"wait_activity"`
	Scroll       *ScrollStep       `yaml:"scroll" json:"scroll"`
	Evaluate     *EvaluateStep     `yaml:"evaluate" json:"evaluate"`
	Options      *Options          `yaml:"options" json:"options"`
	Frame        *FrameStep        `yaml:"frame" json:"frame"`
}

type GotoStep struct {
	URL string `yaml:"url" json:"url"`
	// WaitFor replaces the default post-navigation wait.
	WaitFor []WaitStep `yaml:"wait_for" json:"wait_for"`
}

type ClickStep struct {
	Selector  string   `yaml:"selector" json:"selector"`
	Simulated *bool    `yaml:"simulated" json:"simulated"`
	Button    string   `yaml:"button" json:"button"`
	Count     int      `yaml:"count" json:"count"`
	Delay     Duration `yaml:"delay" json:"delay"`
}

type TypeStep struct {
	Selector string   `yaml:"selector" json:"selector"`
	Text     string   `yaml:"text" json:"text"`
	Delay    Duration `yaml:"delay" json:"delay"`
}

type SelectStep struct {
	Selector string `yaml:"selector" json:"selector"`
	Value    string `yaml:"value" json:"value"`
	Label    string `yaml:"label" json:"label"`
}

// WaitStep waits for exactly one of a selector, a function or a duration.
type WaitStep struct {
	Selector string   `yaml:"selector" json:"selector"`
	Function string   `yaml:"function" json:"function"`
	Args     []any    `yaml:"args" json:"args"`
	Duration Duration `yaml:"duration" json:"duration"`
}

// Condition converts w into a navigator wait condition.
func (w WaitStep) Condition() navigator.Condition {
	switch {
	case w.Selector != "":
		return navigator.ForSelector(w.Selector)
	case w.Function != "":
		return navigator.ForFunction(w.Function, w.Args...)
	default:
		return navigator.ForDuration(time.Duration(w.Duration))
	}
}

func (w WaitStep) validate() error {
	set := 0
	if w.Selector != "" {
		set++
	}
	if w.Function != "" {
		set++
	}
	if w.Duration > 0 {
		set++
	}
	if set != 1 {
		return errors.New("wait needs exactly one of selector, function or duration")
	}
	if len(w.Args) > 0 && w.Function == "" {
		return errors.New("wait args are only valid with a function")
	}
	return nil
}

type WaitActivityStep struct {
	Idle     *Duration `yaml:"idle" json:"idle"`
	IdleLoad *Duration `yaml:"idle_load" json:"idle_load"`
}

// ScrollStep scrolls the page in a direction or an element into view.
type ScrollStep struct {
	Direction string `yaml:"direction" json:"direction"`
	Selector  string `yaml:"selector" json:"selector"`
}

type EvaluateStep struct {
	Function string `yaml:"function" json:"function"`
	Args     []any  `yaml:"args" json:"args"`
}

// FrameStep runs nested steps inside the frame hosted by Selector.
type FrameStep struct {
	Selector string `yaml:"selector" json:"selector"`
	Steps    []Step `yaml:"steps" json:"steps"`
}

// Kind names the step's action, or "" when none is set.
func (s Step) Kind() string {
	kinds := s.kinds()
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

func (s Step) kinds() []string {
	var kinds []string
	add := func(set bool, kind string) {
		if set {
			kinds = append(kinds, kind)
		}
	}
	add(s.Goto != nil, "goto")
	add(s.Click != nil, "click")
	add(s.Type != nil, "type")
	add(s.Select != nil, "select")
	add(s.Wait != nil, "wait")
	add(s.WaitActivity != nil, "wait_activity")
	add(s.Scroll != nil, "scroll")
	add(s.Evaluate != nil, "evaluate")
	add(s.Options != nil, "options")
	add(s.Frame != nil, "frame")
	return kinds
}

// Label is the step name when set, its kind otherwise.
func (s Step) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Kind()
}

// Validate checks that every step, nested ones included, holds exactly one
// action with its required fields.
func (s *Script) Validate() error {
	if len(s.Steps) == 0 {
		return errors.New("script has no steps")
	}
	if err := s.Options.validate(); err != nil {
		return fmt.Errorf("options: %w", err)
	}
	return validateSteps(s.Steps, "")
}

func validateSteps(steps []Step, prefix string) error {
	for i, step := range steps {
		path := stepPath(prefix, i)
		if err := step.validate(path); err != nil {
			return err
		}
	}
	return nil
}

func stepPath(prefix string, i int) string {
	if prefix == "" {
		return fmt.Sprint(i + 1)
	}
	return fmt.Sprintf("%s.%d", prefix, i+1)
}

func (s Step) validate(path string) error {
	kinds := s.kinds()
	switch len(kinds) {
	case 0:
		return fmt.Errorf("step %s: no action", path)
	case 1:
	default:
		return fmt.Errorf("step %s: more than one action (%s)", path, strings.Join(kinds, ", "))
	}

	fail := func(format string, args ...any) error {
		return fmt.Errorf("step %s (%s): %s", path, kinds[0], fmt.Sprintf(format, args...))
	}

	switch {
	case s.Goto != nil:
		if s.Goto.URL == "" {
			return fail("url is required")
		}
		for _, w := range s.Goto.WaitFor {
			if err := w.validate(); err != nil {
				return fail("%v", err)
			}
		}
	case s.Click != nil:
		if s.Click.Selector == "" {
			return fail("selector is required")
		}
		switch s.Click.Button {
		case "", "left", "middle", "right":
		default:
			return fail("unknown button %q", s.Click.Button)
		}
		if s.Click.Count < 0 {
			return fail("count must not be negative")
		}
		if s.Click.Delay < 0 {
			return fail("delay must not be negative")
		}
	case s.Type != nil:
		if s.Type.Selector == "" {
			return fail("selector is required")
		}
		if s.Type.Delay < 0 {
			return fail("delay must not be negative")
		}
	case s.Select != nil:
		if s.Select.Selector == "" {
			return fail("selector is required")
		}
		if s.Select.Value == "" && s.Select.Label == "" {
			return fail("value or label is required")
		}
	case s.Wait != nil:
		if err := s.Wait.validate(); err != nil {
			return fail("%v", err)
		}
	case s.WaitActivity != nil:
		if (s.WaitActivity.Idle != nil && *s.WaitActivity.Idle < 0) ||
			(s.WaitActivity.IdleLoad != nil && *s.WaitActivity.IdleLoad < 0) {
			return fail("idle times must not be negative")
		}
	case s.Scroll != nil:
		if (s.Scroll.Direction == "") == (s.Scroll.Selector == "") {
			return fail("exactly one of direction or selector is required")
		}
		switch s.Scroll.Direction {
		case "", "up", "down", "top", "bottom":
		default:
			return fail("unknown direction %q", s.Scroll.Direction)
		}
	case s.Evaluate != nil:
		if s.Evaluate.Function == "" {
			return fail("function is required")
		}
	case s.Options != nil:
		if err := s.Options.validate(); err != nil {
			return fail("%v", err)
		}
	case s.Frame != nil:
		if s.Frame.Selector == "" {
			return fail("selector is required")
		}
		if len(s.Frame.Steps) == 0 {
			return fail("no nested steps")
		}
		return validateSteps(s.Frame.Steps, path)
	}
	return nil
}

func (o *Options) validate() error {
	if o == nil {
		return nil
	}
	for _, d := range []*Duration{o.WaitAfterAction, o.WaitIdleTime, o.WaitIdleLoadTime} {
		if d != nil && *d < 0 {
			return errors.New("wait durations must not be negative")
		}
	}
	return nil
}

// FormatFromPath picks the format by file extension; anything but .json is
// treated as YAML.
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// Load reads, parses and validates the step file at path. A leading "~" is
// expanded to the home directory.
func Load(path string) (*Script, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("invalid script path %q: %w", path, err)
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}

	s, err := Parse(data, FormatFromPath(expanded))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if s.Name == "" {
		s.Name = strings.TrimSuffix(filepath.Base(expanded), filepath.Ext(expanded))
	}
	return s, nil
}

// Parse decodes and validates a step file. Unknown keys are rejected.
func Parse(data []byte, format Format) (*Script, error) {
	var s Script
	switch format {
	case FormatJSON:
		if err := strictJSON.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("failed to parse JSON script: %w", err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&s); err != nil {
			return nil, fmt.Errorf("failed to parse YAML script: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported script format %q", format)
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid script: %w", err)
	}
	return &s, nil
}
