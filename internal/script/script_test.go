// internal/script/script_test.go
package script

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/steady/internal/browser/navigator"
)

const loginYAML = `
name: login
options:
  wait_idle_time: 500ms
  use_simulated_clicks: false
steps:
  - goto:
      url: https://example.test/login
      wait_for:
        - selector: "#user"
  - type: { selector: "#user", text: alice, delay: 20 }
  - select: { selector: "#role", label: Admin }
  - name: submit
    click: { selector: "button[type=submit]", count: 1 }
  - wait_activity: { idle_load: 2s }
  - frame:
      selector: iframe#widget
      steps:
        - click: { selector: "//button[text()='OK']" }
  - evaluate:
      function: "(a, b) => a + b"
      args: [1, 2]
`

func TestParse_YAML(t *testing.T) {
	s, err := Parse([]byte(loginYAML), FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, "login", s.Name)
	require.Len(t, s.Steps, 7)

	want := []string{"goto", "type", "select", "click", "wait_activity", "frame", "evaluate"}
	got := make([]string, len(s.Steps))
	for i, step := range s.Steps {
		got[i] = step.Kind()
	}
	assert.Equal(t, want, got)

	assert.Equal(t, "https://example.test/login", s.Steps[0].Goto.URL)
	assert.Equal(t, "#user", s.Steps[0].Goto.WaitFor[0].Selector)
	assert.Equal(t, Duration(20*time.Millisecond), s.Steps[1].Type.Delay, "bare numbers are milliseconds")
	assert.Equal(t, "submit", s.Steps[3].Label())
	assert.Equal(t, "click", s.Steps[3].Kind())
	require.NotNil(t, s.Steps[4].WaitActivity.IdleLoad)
	assert.Equal(t, Duration(2*time.Second), *s.Steps[4].WaitActivity.IdleLoad)
	assert.Nil(t, s.Steps[4].WaitActivity.Idle)
	assert.Equal(t, "//button[text()='OK']", s.Steps[5].Frame.Steps[0].Click.Selector)
	assert.Equal(t, []any{1, 2}, s.Steps[6].Evaluate.Args)

	wantUpdate := navigator.PolicyUpdate{
		WaitIdleTime:       navigator.Duration(500 * time.Millisecond),
		UseSimulatedClicks: navigator.Bool(false),
	}
	if diff := cmp.Diff(wantUpdate, s.Options.Update()); diff != "" {
		t.Errorf("Options.Update() mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_JSON(t *testing.T) {
	data := []byte(`{
		"name": "search",
		"steps": [
			{"goto": {"url": "https://example.test/"}},
			{"options": {"wait_after_action": "250ms", "wait_on_selectors": false}},
			{"type": {"selector": "input[name=q]", "text": "steady"}},
			{"wait": {"function": "(n) => document.querySelectorAll('.hit').length >= n", "args": [3]}},
			{"scroll": {"direction": "bottom"}},
			{"wait": {"duration": 1500}}
		]
	}`)

	s, err := Parse(data, FormatJSON)
	require.NoError(t, err)
	require.Len(t, s.Steps, 6)

	opts := s.Steps[1].Options
	require.NotNil(t, opts)
	require.NotNil(t, opts.WaitAfterAction)
	assert.Equal(t, Duration(250*time.Millisecond), *opts.WaitAfterAction)
	require.NotNil(t, opts.WaitOnSelectors)
	assert.False(t, *opts.WaitOnSelectors)

	assert.Equal(t, []any{float64(3)}, s.Steps[3].Wait.Args)
	assert.Equal(t, Duration(1500*time.Millisecond), s.Steps[5].Wait.Duration)
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("steps:\n  - clik: { selector: '#a' }\n"), FormatYAML)
	assert.Error(t, err)

	_, err = Parse([]byte(`{"steps": [{"click": {"selector": "#a", "force": true}}]}`), FormatJSON)
	assert.Error(t, err)

	_, err = Parse([]byte(`steps: []`), Format("toml"))
	assert.ErrorContains(t, err, "unsupported script format")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"no steps", "name: empty\n", "script has no steps"},
		{"no action", "steps:\n  - name: nothing\n", "step 1: no action"},
		{"two actions", "steps:\n  - goto: { url: 'https://a.test' }\n    click: { selector: '#b' }\n", "more than one action (goto, click)"},
		{"goto without url", "steps:\n  - goto: {}\n", "step 1 (goto): url is required"},
		{"click without selector", "steps:\n  - click: {}\n", "selector is required"},
		{"bad button", "steps:\n  - click: { selector: '#a', button: side }\n", `unknown button "side"`},
		{"negative click delay", "steps:\n  - click: { selector: '#a', delay: -5 }\n", "step 1 (click): delay must not be negative"},
		{"negative type delay", "steps:\n  - type: { selector: '#a', text: hi, delay: -1s }\n", "step 1 (type): delay must not be negative"},
		{"infinite click delay", "steps:\n  - click: { selector: '#a', delay: inf }\n", `duration "inf" is out of range`},
		{"select without choice", "steps:\n  - select: { selector: '#a' }\n", "value or label is required"},
		{"empty wait", "steps:\n  - wait: {}\n", "exactly one of selector, function or duration"},
		{"double wait", "steps:\n  - wait: { selector: '#a', duration: 1s }\n", "exactly one of selector, function or duration"},
		{"args without function", "steps:\n  - wait: { selector: '#a', args: [1] }\n", "only valid with a function"},
		{"scroll both", "steps:\n  - scroll: { direction: up, selector: '#a' }\n", "exactly one of direction or selector"},
		{"scroll sideways", "steps:\n  - scroll: { direction: sideways }\n", `unknown direction "sideways"`},
		{"evaluate empty", "steps:\n  - evaluate: {}\n", "function is required"},
		{"negative option", "steps:\n  - options: { wait_idle_time: -1s }\n", "must not be negative"},
		{"negative script option", "options: { wait_after_action: -5ms }\nsteps:\n  - wait: { duration: 1s }\n", "options: wait durations must not be negative"},
		{"empty frame", "steps:\n  - frame: { selector: iframe }\n", "no nested steps"},
		{"nested failure path", "steps:\n  - wait: { duration: 1s }\n  - frame:\n      selector: iframe\n      steps:\n        - wait: { duration: 1s }\n        - click: {}\n", "step 2.2 (click)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml), FormatYAML)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    Duration
		wantErr bool
	}{
		{`"750ms"`, Duration(750 * time.Millisecond), false},
		{`"2s"`, Duration(2 * time.Second), false},
		{`100`, Duration(100 * time.Millisecond), false},
		{`"100"`, Duration(100 * time.Millisecond), false},
		{`0.5`, Duration(500 * time.Microsecond), false},
		{`-5`, Duration(-5 * time.Millisecond), false},
		{`"soon"`, 0, true},
		{`"inf"`, 0, true},
		{`"NaN"`, 0, true},
		{`1e30`, 0, true},
		{`-1e30`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var d Duration
			err := d.UnmarshalJSON([]byte(tt.in))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d)
		})
	}

	out, err := Duration(1500 * time.Millisecond).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1.5s"`, string(out))
}

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, FormatJSON, FormatFromPath("flow.JSON"))
	assert.Equal(t, FormatYAML, FormatFromPath("flow.yml"))
	assert.Equal(t, FormatYAML, FormatFromPath("flow"))
}

func TestLoad(t *testing.T) {
	homedir.DisableCache = true
	t.Cleanup(func() { homedir.DisableCache = false })

	home := t.TempDir()
	t.Setenv("HOME", home)

	path := filepath.Join(home, "checkout.yaml")
	require.NoError(t, os.WriteFile(path, []byte("steps:\n  - goto: { url: 'https://shop.test' }\n"), 0o600))

	s, err := Load("~/checkout.yaml")
	require.NoError(t, err)
	assert.Equal(t, "checkout", s.Name, "name defaults to the file name")
	assert.Len(t, s.Steps, 1)

	_, err = Load(filepath.Join(home, "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read script")

	bad := filepath.Join(home, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"steps": [{}]}`), 0o600))
	_, err = Load(bad)
	assert.ErrorContains(t, err, "step 1: no action")
}
