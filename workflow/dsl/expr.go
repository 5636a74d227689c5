package dsl

import (
	"regexp"
	"strings"
)

// StepOutput is what a finished step exposes to later steps.
type StepOutput struct {
	SessionID string            `json:"session_id,omitempty"`
	Result    string            `json:"result,omitempty"`
	Values    map[string]string `json:"values,omitempty"`
}

// Get looks up an output key. session_id and result are always addressable.
func (o StepOutput) Get(key string) (string, bool) {
	switch key {
	case SessionOutputKey:
		return o.SessionID, o.SessionID != ""
	case "result":
		return o.Result, o.Result != ""
	}
	v, ok := o.Values[key]
	return v, ok
}

// ResolveContext holds everything a placeholder can refer to.
type ResolveContext struct {
	Inputs map[string]string
	Env    map[string]string
	Steps  map[string]StepOutput
}

// placeholderPattern matches the three supported forms only:
//
//	${{ inputs.KEY }}  ${{ env.KEY }}  ${{ steps.ID.outputs.KEY }}
var placeholderPattern = regexp.MustCompile(
	`\$\{\{\s*(?:(inputs|env)\.([A-Za-z0-9_.-]+)|steps\.([A-Za-z0-9_.-]+)\.outputs\.([A-Za-z0-9_-]+))\s*\}\}`,
)

// Resolve substitutes placeholders left to right. Missing keys become "".
// Substituted values are not resolved again. Resolve never fails.
func Resolve(template string, ctx ResolveContext) string {
	if !strings.Contains(template, "${{") {
		return template
	}
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		m := placeholderPattern.FindStringSubmatch(match)
		if m == nil {
			return ""
		}
		switch m[1] {
		case "inputs":
			return ctx.Inputs[m[2]]
		case "env":
			return ctx.Env[m[2]]
		}
		out, ok := ctx.Steps[m[3]]
		if !ok {
			return ""
		}
		v, _ := out.Get(m[4])
		return v
	})
}

// ResolveSession resolves a resume_session value. A bare step id maps
// straight to that step's recorded session; a bare id without one yields "".
// Everything else goes through Resolve.
func ResolveSession(raw string, ctx ResolveContext) string {
	ref := ParseSessionReference(raw)
	switch ref.Kind {
	case SessionRefNone:
		return ""
	case SessionRefDirect:
		if out, ok := ctx.Steps[ref.StepID]; ok && out.SessionID != "" {
			return out.SessionID
		}
		return ""
	default:
		return strings.TrimSpace(Resolve(raw, ctx))
	}
}
