package dsl

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func testContext() ResolveContext {
	return ResolveContext{
		Inputs: map[string]string{"target": "src", "mode": "fast"},
		Env:    map[string]string{"LANGUAGE": "go"},
		Steps: map[string]StepOutput{
			"step1": {SessionID: "sess-1", Result: "found 3 issues", Values: map[string]string{"count": "3"}},
		},
	}
}

func TestResolve(t *testing.T) {
	ctx := testContext()

	tests := []struct {
		name     string
		template string
		expected string
	}{
		{name: "plain text", template: "no placeholders", expected: "no placeholders"},
		{name: "input", template: "dir=${{ inputs.target }}", expected: "dir=src"},
		{name: "env", template: "${{ env.LANGUAGE }}", expected: "go"},
		{name: "no spaces", template: "${{inputs.mode}}", expected: "fast"},
		{name: "session output", template: "${{ steps.step1.outputs.session_id }}", expected: "sess-1"},
		{name: "result output", template: "r: ${{ steps.step1.outputs.result }}", expected: "r: found 3 issues"},
		{name: "extra output", template: "${{ steps.step1.outputs.count }}", expected: "3"},
		{name: "missing input", template: "Value: ${{ inputs.missing }}", expected: "Value: "},
		{name: "missing step", template: "[${{ steps.nope.outputs.session_id }}]", expected: "[]"},
		{name: "missing key", template: "[${{ steps.step1.outputs.nope }}]", expected: "[]"},
		{name: "multiple", template: "${{ inputs.target }}/${{ env.LANGUAGE }}/${{ inputs.mode }}", expected: "src/go/fast"},
		{name: "unsupported form untouched", template: "${{ github.sha }}", expected: "${{ github.sha }}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Resolve(tt.template, ctx))
		})
	}
}

func TestResolve_NoRecursion(t *testing.T) {
	ctx := ResolveContext{Inputs: map[string]string{
		"a": "${{ inputs.b }}",
		"b": "deep",
	}}
	assert.Equal(t, "${{ inputs.b }}", Resolve("${{ inputs.a }}", ctx))
}

func TestResolve_EmptyContext(t *testing.T) {
	assert.Equal(t, "Value: ", Resolve("Value: ${{ inputs.missing }}", ResolveContext{}))
}

func TestResolveSession(t *testing.T) {
	ctx := testContext()

	assert.Equal(t, "sess-1", ResolveSession("step1", ctx))
	assert.Equal(t, "sess-1", ResolveSession("${{ steps.step1.outputs.session_id }}", ctx))
	assert.Equal(t, "", ResolveSession("", ctx))
	assert.Equal(t, "", ResolveSession("step9", ctx), "bare id without a recorded session")
	assert.Equal(t, "", ResolveSession("${{ steps.step9.outputs.session_id }}", ctx))
}

func TestProperty_ResolveIdentityWithoutPlaceholders(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := rapid.String().Draw(rt, "s")
		if strings.Contains(s, "${{") {
			rt.Skip("contains placeholder opener")
		}
		assert.Equal(rt, s, Resolve(s, testContext()))
	})
}

func TestProperty_ResolveNeverPanics(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := rapid.String().Draw(rt, "s")
		prefixed := "${{ " + s + " }}"
		_ = Resolve(s, ResolveContext{})
		_ = Resolve(prefixed, testContext())
		_ = ResolveSession(s, testContext())
	})
}

func TestProperty_ResolveSegments(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		inputs := map[string]string{}
		seen := map[string]bool{}
		var template, expected strings.Builder

		n := rapid.IntRange(0, 8).Draw(rt, "segments")
		for i := 0; i < n; i++ {
			literal := rapid.StringMatching(`[a-zA-Z0-9 :,/]{0,10}`).Draw(rt, fmt.Sprintf("literal_%d", i))
			template.WriteString(literal)
			expected.WriteString(literal)

			key := rapid.StringMatching(`[a-z]{1,6}`).Draw(rt, fmt.Sprintf("key_%d", i))
			if !seen[key] {
				seen[key] = true
				if rapid.Bool().Draw(rt, fmt.Sprintf("present_%d", i)) {
					inputs[key] = rapid.StringMatching(`[a-z0-9]{0,8}`).Draw(rt, fmt.Sprintf("value_%d", i))
				}
			}
			template.WriteString("${{ inputs." + key + " }}")
			expected.WriteString(inputs[key])
		}

		got := Resolve(template.String(), ResolveContext{Inputs: inputs})
		assert.Equal(rt, expected.String(), got)
	})
}
