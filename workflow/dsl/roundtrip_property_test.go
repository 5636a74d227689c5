package dsl

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// genDocument 生成一份合法的工作流文档
func genDocument(rt *rapid.T) *Document {
	doc := &Document{
		Name: rapid.StringMatching(`[a-z][a-z0-9 -]{0,20}`).Draw(rt, "name"),
	}
	if rapid.Bool().Draw(rt, "hasTrigger") {
		doc.On = Triggers{Events: []string{"workflow_dispatch"}}
	}
	if rapid.Bool().Draw(rt, "hasEnv") {
		doc.Env = map[string]string{"MODE": rapid.StringMatching(`[a-z]{1,8}`).Draw(rt, "envMode")}
	}

	var declared []string
	jobCount := rapid.IntRange(1, 3).Draw(rt, "jobs")
	for j := 0; j < jobCount; j++ {
		job := &Job{}
		stepCount := rapid.IntRange(1, 4).Draw(rt, fmt.Sprintf("steps_%d", j))
		for s := 0; s < stepCount; s++ {
			label := fmt.Sprintf("%d_%d", j, s)
			if rapid.IntRange(0, 4).Draw(rt, "kind_"+label) == 0 {
				job.Steps = append(job.Steps, &Step{
					Name: "shell " + label,
					Run:  rapid.StringMatching(`echo [a-z ]{0,12}`).Draw(rt, "run_"+label),
				})
				continue
			}

			id := fmt.Sprintf("s%d-%d", j, s)
			w := &With{
				Prompt:            rapid.StringMatching(`[A-Za-z0-9][A-Za-z0-9 ,.:?!#'"\n-]{0,40}`).Draw(rt, "prompt_"+label),
				Model:             rapid.SampledFrom([]string{"", "auto", "sonnet", "opus"}).Draw(rt, "model_"+label),
				AllowAllTools:     rapid.Bool().Draw(rt, "allow_"+label),
				BypassPermissions: rapid.Bool().Draw(rt, "bypass_"+label),
				OutputSession:     rapid.Bool().Draw(rt, "output_"+label),
			}
			if rapid.Bool().Draw(rt, "workdir_"+label) {
				w.WorkingDirectory = "/tmp/" + rapid.StringMatching(`[a-z]{1,6}`).Draw(rt, "dir_"+label)
			}
			if len(declared) > 0 && rapid.Bool().Draw(rt, "resume_"+label) {
				target := rapid.SampledFrom(declared).Draw(rt, "target_"+label)
				if rapid.Bool().Draw(rt, "template_"+label) {
					w.ResumeSession = "${{ steps." + target + ".outputs.session_id }}"
				} else {
					w.ResumeSession = target
				}
			}
			if rapid.Bool().Draw(rt, "cond_"+label) {
				w.Check = "test -f go.mod"
				w.Condition = rapid.SampledFrom([]Condition{ConditionOnSuccess, ConditionOnFailure, ConditionAlways}).Draw(rt, "condition_"+label)
			}
			if rapid.Bool().Draw(rt, "extra_"+label) {
				w.Extra = map[string]any{"max_turns": rapid.IntRange(1, 50).Draw(rt, "turns_"+label)}
			}

			step := &Step{ID: id, Uses: rapid.SampledFrom([]string{TaskSentinel, TaskAction + "@v1"}).Draw(rt, "uses_"+label), With: w}
			if rapid.Bool().Draw(rt, "anon_"+label) {
				// 默认 ID 只在不冲突时使用
				if def := step.EffectiveID(len(job.Steps)); def != id && !contains(declared, fmt.Sprintf("step-%d", len(job.Steps))) {
					step.ID = ""
					id = def
				}
			}
			job.Steps = append(job.Steps, step)
			declared = append(declared, id)
		}
		doc.Jobs.Add(fmt.Sprintf("job-%d", j), job)
	}
	return doc
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func TestProperty_ParseMarshalRoundTrip(t *testing.T) {
	p := NewParser()

	rapid.Check(t, func(rt *rapid.T) {
		doc := genDocument(rt)
		require.NoError(rt, p.Validate(doc), "generator must produce valid documents")

		data, err := p.Marshal(doc)
		require.NoError(rt, err)

		parsed, err := p.Parse(data)
		require.NoError(rt, err, "yaml:\n%s", data)

		assert.Equal(rt, doc.Name, parsed.Name)
		assert.Equal(rt, doc.Jobs.Names(), parsed.Jobs.Names())

		want := ExtractTaskSteps(doc)
		got := ExtractTaskSteps(parsed)
		require.Len(rt, got, len(want))
		for i := range want {
			assert.Equal(rt, want[i].ID(), got[i].ID())
			assert.Equal(rt, want[i].JobName, got[i].JobName)
			assert.Equal(rt, want[i].Step, got[i].Step)
		}

		for _, name := range doc.Jobs.Names() {
			a, _ := doc.Jobs.Get(name)
			b, _ := parsed.Jobs.Get(name)
			assert.Equal(rt, a, b)
		}
	})
}
