package dsl

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestParseSessionReference(t *testing.T) {
	tests := []struct {
		raw     string
		kind    SessionRefKind
		stepID  string
		key     string
		targets bool
	}{
		{raw: "", kind: SessionRefNone},
		{raw: "   ", kind: SessionRefNone},
		{raw: "step1", kind: SessionRefDirect, stepID: "step1", key: "session_id", targets: true},
		{raw: " step-2 ", kind: SessionRefDirect, stepID: "step-2", key: "session_id", targets: true},
		{raw: "${{ steps.build.outputs.session_id }}", kind: SessionRefTemplate, stepID: "build", key: "session_id", targets: true},
		{raw: "${{steps.build.outputs.session_id}}", kind: SessionRefTemplate, stepID: "build", key: "session_id", targets: true},
		{raw: "${{ steps.build.outputs.result }}", kind: SessionRefTemplate, stepID: "build", key: "result"},
		{raw: "${{ inputs.session }}", kind: SessionRefInvalid},
		{raw: "prefix ${{ steps.a.outputs.session_id }}", kind: SessionRefInvalid},
		{raw: "has space", kind: SessionRefInvalid},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.raw), func(t *testing.T) {
			ref := ParseSessionReference(tt.raw)
			assert.Equal(t, tt.kind, ref.Kind)
			assert.Equal(t, tt.stepID, ref.StepID)
			assert.Equal(t, tt.key, ref.OutputKey)

			id, ok := ref.TargetStep()
			assert.Equal(t, tt.targets, ok)
			if ok {
				assert.Equal(t, tt.stepID, id)
			}
		})
	}
}

func TestProperty_SessionReferenceForms(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("bare ids parse as direct references to themselves", prop.ForAll(
		func(id string) bool {
			ref := ParseSessionReference(id)
			target, ok := ref.TargetStep()
			return ref.Kind == SessionRefDirect && ok && target == id
		},
		gen.RegexMatch(`^[A-Za-z0-9_.-]{1,24}$`),
	))

	properties.Property("template references target the embedded step id", prop.ForAll(
		func(id string) bool {
			ref := ParseSessionReference("${{ steps." + id + ".outputs.session_id }}")
			target, ok := ref.TargetStep()
			return ref.Kind == SessionRefTemplate && ok && target == id
		},
		gen.RegexMatch(`^[A-Za-z0-9_.-]{1,24}$`),
	))

	properties.Property("strings with spaces inside are never direct", prop.ForAll(
		func(a, b string) bool {
			return ParseSessionReference(a+" "+b).Kind == SessionRefInvalid
		},
		gen.RegexMatch(`^[a-z]{1,8}$`),
		gen.RegexMatch(`^[a-z]{1,8}$`),
	))

	properties.TestingRun(t)
}
