package dsl

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/BaSui01/flowpilot/testutil/fixtures"
	"github.com/BaSui01/flowpilot/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser_ParseChained(t *testing.T) {
	doc, err := NewParser().Parse([]byte(fixtures.ChainedWorkflowYAML))
	require.NoError(t, err)

	assert.Equal(t, "chained-review", doc.Name)
	assert.Equal(t, []string{"workflow_dispatch"}, doc.On.Events)
	assert.Equal(t, "go", doc.Env["LANGUAGE"])
	require.Contains(t, doc.Inputs, "target")
	assert.True(t, doc.Inputs["target"].Required)
	assert.Equal(t, "src", doc.Inputs["target"].Default)

	job, ok := doc.Jobs.Get("review")
	require.True(t, ok)
	assert.Equal(t, "ubuntu-latest", job.RunsOn)
	require.Len(t, job.Steps, 3)

	s1 := job.Steps[0]
	assert.True(t, s1.IsTask())
	assert.Equal(t, "auto", s1.With.Model)
	assert.True(t, s1.With.OutputSession)
	assert.Equal(t, "step1", job.Steps[1].With.ResumeSession)
	assert.True(t, job.Steps[2].With.BypassPermissions)
}

func TestParser_JobOrderPreserved(t *testing.T) {
	data := `name: order
jobs:
  zeta:
    steps:
      - uses: claude-code
        with: {prompt: z}
  alpha:
    steps:
      - uses: claude-code
        with: {prompt: a}
  mid:
    steps:
      - uses: claude-code
        with: {prompt: m}
`
	doc, err := NewParser().Parse([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, doc.Jobs.Names())

	steps := ExtractTaskSteps(doc)
	require.Len(t, steps, 3)
	assert.Equal(t, "z", steps[0].Step.With.Prompt)
	assert.Equal(t, "a", steps[1].Step.With.Prompt)
	assert.Equal(t, "m", steps[2].Step.With.Prompt)
}

func TestParser_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		code    types.ErrorCode
		message string
	}{
		{
			name:    "syntax",
			yaml:    "name: [unterminated",
			code:    types.ErrParse,
			message: "invalid workflow YAML",
		},
		{
			name:    "missing name",
			yaml:    "jobs:\n  a:\n    steps:\n      - run: echo\n",
			code:    types.ErrValidation,
			message: "name is required",
		},
		{
			name:    "no jobs",
			yaml:    "name: x\n",
			code:    types.ErrValidation,
			message: "at least one job is required",
		},
		{
			name:    "empty job",
			yaml:    "name: x\njobs:\n  a:\n    steps: []\n",
			code:    types.ErrValidation,
			message: "job a: at least one step is required",
		},
		{
			name:    "missing prompt",
			yaml:    "name: x\njobs:\n  a:\n    steps:\n      - uses: claude-code\n        with:\n          model: auto\n",
			code:    types.ErrValidation,
			message: "with.prompt is required",
		},
		{
			name:    "task step without with",
			yaml:    "name: x\njobs:\n  a:\n    steps:\n      - uses: claude-code\n",
			code:    types.ErrValidation,
			message: "with.prompt is required",
		},
		{
			name:    "condition without check",
			yaml:    "name: x\njobs:\n  a:\n    steps:\n      - uses: claude-code\n        with:\n          prompt: p\n          condition: always\n",
			code:    types.ErrValidation,
			message: "condition requires check",
		},
		{
			name:    "condition outside enum",
			yaml:    "name: x\njobs:\n  a:\n    steps:\n      - uses: claude-code\n        with:\n          prompt: p\n          check: make test\n          condition: sometimes\n",
			code:    types.ErrValidation,
			message: `invalid condition "sometimes"`,
		},
		{
			name:    "unknown session step",
			yaml:    "name: x\njobs:\n  a:\n    steps:\n      - uses: claude-code\n        with:\n          prompt: p\n          resume_session: nope\n",
			code:    types.ErrValidation,
			message: `unknown step "nope"`,
		},
		{
			name:    "malformed session reference",
			yaml:    "name: x\njobs:\n  a:\n    steps:\n      - uses: claude-code\n        with:\n          prompt: p\n          resume_session: \"${{ inputs.session }}\"\n",
			code:    types.ErrValidation,
			message: "malformed session reference",
		},
		{
			name:    "run and uses together",
			yaml:    "name: x\njobs:\n  a:\n    steps:\n      - run: echo\n        uses: actions/checkout@v4\n",
			code:    types.ErrValidation,
			message: "mutually exclusive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewParser().Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Equal(t, tt.code, types.GetErrorCode(err))
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestParser_SessionReferenceOrdering(t *testing.T) {
	earlier := `name: x
jobs:
  a:
    steps:
      - id: first
        uses: claude-code
        with: {prompt: one}
      - id: second
        uses: claude-code
        with:
          prompt: two
          resume_session: first
`
	_, err := NewParser().Parse([]byte(earlier))
	require.NoError(t, err)

	later := `name: x
jobs:
  a:
    steps:
      - id: first
        uses: claude-code
        with:
          prompt: one
          resume_session: second
      - id: second
        uses: claude-code
        with: {prompt: two}
`
	_, err = NewParser().Parse([]byte(later))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown step "second"`)
}

func TestParser_DefaultIDsMayRepeatAcrossJobs(t *testing.T) {
	data := `name: two-jobs
jobs:
  analyze:
    steps:
      - uses: anthropics/claude-code-action
        with: {prompt: analyze}
  report:
    steps:
      - uses: anthropics/claude-code-action
        with: {prompt: report}
`
	doc, err := NewParser().Parse([]byte(data))
	require.NoError(t, err)

	steps := ExtractTaskSteps(doc)
	require.Len(t, steps, 2)
	assert.Equal(t, "step-0", steps[0].ID())
	assert.Equal(t, "step-0", steps[1].ID())
}

func TestParser_StepIDRules(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		message string
	}{
		{
			name: "explicit ids must be unique",
			yaml: `name: x
jobs:
  a:
    steps:
      - id: build
        uses: claude-code
        with: {prompt: one}
  b:
    steps:
      - id: build
        uses: claude-code
        with: {prompt: two}
`,
			message: `job b: duplicate step id "build"`,
		},
		{
			name: "reference to a repeated default id is ambiguous",
			yaml: `name: x
jobs:
  a:
    steps:
      - uses: claude-code
        with: {prompt: one}
  b:
    steps:
      - uses: claude-code
        with: {prompt: two}
      - uses: claude-code
        with:
          prompt: three
          resume_session: step-0
`,
			message: `ambiguous step id "step-0"`,
		},
		{
			name: "id outside the step id grammar",
			yaml: `name: x
jobs:
  a:
    steps:
      - id: "build v2"
        uses: claude-code
        with: {prompt: one}
`,
			message: `invalid id "build v2"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewParser().Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestParser_DottedStepIDsAreReferenceable(t *testing.T) {
	data := `name: dotted
jobs:
  a:
    steps:
      - id: build.v2
        uses: claude-code
        with: {prompt: build}
      - id: direct
        uses: claude-code
        with:
          prompt: direct
          resume_session: build.v2
      - id: templated
        uses: claude-code
        with:
          prompt: "after ${{ steps.build.v2.outputs.result }}"
          resume_session: "${{ steps.build.v2.outputs.session_id }}"
`
	doc, err := NewParser().Parse([]byte(data))
	require.NoError(t, err)

	rctx := ResolveContext{Steps: map[string]StepOutput{
		"build.v2": {SessionID: "sess-b", Result: "ok"},
	}}
	steps := ExtractTaskSteps(doc)
	require.Len(t, steps, 3)
	assert.Equal(t, "sess-b", ResolveSession(steps[1].Step.With.ResumeSession, rctx))
	assert.Equal(t, "sess-b", ResolveSession(steps[2].Step.With.ResumeSession, rctx))
	assert.Equal(t, "after ok", Resolve(steps[2].Step.With.Prompt, rctx))
}

func TestParser_CollectsAllErrors(t *testing.T) {
	data := `jobs:
  a:
    steps:
      - uses: claude-code
        with:
          condition: always
`
	_, err := NewParser().Parse([]byte(data))
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "name is required")
	assert.Contains(t, msg, "with.prompt is required")
	assert.Contains(t, msg, "condition requires check")
}

func TestParser_MixedDocument(t *testing.T) {
	doc, err := NewParser().Parse([]byte(fixtures.MixedWorkflowYAML))
	require.NoError(t, err)

	assert.Equal(t, []string{"push", "workflow_dispatch"}, doc.On.Events)
	assert.Contains(t, doc.On.Config, "push")

	steps := ExtractTaskSteps(doc)
	require.Len(t, steps, 2)
	assert.Equal(t, "step-1", steps[0].ID())
	assert.Equal(t, "prepare", steps[0].JobName)
	assert.Equal(t, "write", steps[1].ID())
	assert.Equal(t, 1, steps[1].Index)

	// 未知的 with 键保留在扩展映射中
	assert.Equal(t, 0.2, steps[0].Step.With.Extra["temperature"])

	env := doc.StepEnv(steps[1])
	assert.Equal(t, "markdown", env["FORMAT"])

	refs := ReferencedSessionSteps(doc)
	assert.True(t, refs["step-1"])
}

func TestParser_MarshalRoundTrip(t *testing.T) {
	p := NewParser()
	for name, src := range map[string]string{
		"chained":     fixtures.ChainedWorkflowYAML,
		"mixed":       fixtures.MixedWorkflowYAML,
		"conditional": fixtures.ConditionalWorkflowYAML,
	} {
		t.Run(name, func(t *testing.T) {
			doc, err := p.Parse([]byte(src))
			require.NoError(t, err)

			out, err := p.Marshal(doc)
			require.NoError(t, err)

			again, err := p.Parse(out)
			require.NoError(t, err)
			assert.Equal(t, doc, again)
		})
	}
}

func TestParser_ParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wf.yml")
	require.NoError(t, os.WriteFile(path, []byte(fixtures.IndependentWorkflowYAML), 0o644))

	doc, err := NewParser().ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "independent", doc.Name)

	_, err = NewParser().ParseFile(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}
