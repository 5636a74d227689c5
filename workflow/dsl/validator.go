package dsl

import (
	"fmt"
	"slices"
	"strings"
)

// Validator 工作流文档验证器
type Validator struct{}

// NewValidator 创建验证器
func NewValidator() *Validator {
	return &Validator{}
}

// Validate 验证文档结构，返回全部错误
func (v *Validator) Validate(doc *Document) []error {
	if doc == nil {
		return []error{fmt.Errorf("document is empty")}
	}

	var errs []error

	// 基础字段验证
	if strings.TrimSpace(doc.Name) == "" {
		errs = append(errs, fmt.Errorf("name is required"))
	}
	if doc.Jobs.Len() == 0 {
		errs = append(errs, fmt.Errorf("at least one job is required"))
	}

	errs = append(errs, v.validateInputs(doc)...)

	// 已声明的任务步骤 ID 及出现次数（按文档顺序累积，用于会话引用检查）。
	// 只有显式 id 必须唯一；缺省 id 可以重复，后执行的输出覆盖先前的。
	declared := make(map[string]int)
	explicit := make(map[string]bool)

	for _, name := range doc.Jobs.Names() {
		job, _ := doc.Jobs.Get(name)
		if job == nil || len(job.Steps) == 0 {
			errs = append(errs, fmt.Errorf("job %s: at least one step is required", name))
			continue
		}

		for i, step := range job.Steps {
			if step == nil {
				errs = append(errs, fmt.Errorf("job %s: step %d is empty", name, i))
				continue
			}
			if step.ID != "" && !ValidStepID(step.ID) {
				errs = append(errs, fmt.Errorf("job %s: step %d: invalid id %q (allowed: letters, digits, '_', '-', '.')",
					name, i, step.ID))
			}
			id := step.EffectiveID(i)
			errs = append(errs, v.validateStep(name, id, step, declared)...)

			if step.IsTask() {
				if step.ID != "" {
					if explicit[id] {
						errs = append(errs, fmt.Errorf("job %s: duplicate step id %q", name, id))
					}
					explicit[id] = true
				}
				declared[id]++
			}
		}
	}

	return errs
}

// validateStep 验证单个步骤
func (v *Validator) validateStep(job, id string, step *Step, declared map[string]int) []error {
	var errs []error

	hasRun := strings.TrimSpace(step.Run) != ""
	hasUses := strings.TrimSpace(step.Uses) != ""
	switch {
	case hasRun && hasUses:
		errs = append(errs, fmt.Errorf("job %s: step %s: run and uses are mutually exclusive", job, id))
	case !hasRun && !hasUses:
		errs = append(errs, fmt.Errorf("job %s: step %s: either run or uses is required", job, id))
	}

	if !step.IsTask() {
		return errs
	}

	w := step.With
	if w == nil || strings.TrimSpace(w.Prompt) == "" {
		errs = append(errs, fmt.Errorf("job %s: step %s: with.prompt is required", job, id))
	}
	if w == nil {
		return errs
	}

	// 条件执行字段
	if w.Condition != "" {
		if !w.Condition.Valid() {
			errs = append(errs, fmt.Errorf("job %s: step %s: invalid condition %q (allowed: on_success, on_failure, always)",
				job, id, w.Condition))
		}
		if strings.TrimSpace(w.Check) == "" {
			errs = append(errs, fmt.Errorf("job %s: step %s: condition requires check", job, id))
		}
	}

	// 会话引用
	ref := ParseSessionReference(w.ResumeSession)
	switch ref.Kind {
	case SessionRefNone:
	case SessionRefInvalid:
		errs = append(errs, fmt.Errorf("job %s: step %s: malformed session reference %q", job, id, w.ResumeSession))
	default:
		target, ok := ref.TargetStep()
		if !ok {
			errs = append(errs, fmt.Errorf("job %s: step %s: resume_session must reference outputs.%s, got outputs.%s",
				job, id, SessionOutputKey, ref.OutputKey))
		} else {
			switch n := declared[target]; {
			case n == 0:
				errs = append(errs, fmt.Errorf("job %s: step %s: resume_session references unknown step %q",
					job, id, target))
			case n > 1:
				errs = append(errs, fmt.Errorf("job %s: step %s: resume_session references ambiguous step id %q (declared %d times)",
					job, id, target, n))
			}
		}
	}

	return errs
}

// validateInputs 验证输入声明
func (v *Validator) validateInputs(doc *Document) []error {
	var errs []error
	names := make([]string, 0, len(doc.Inputs))
	for name := range doc.Inputs {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		in := doc.Inputs[name]
		if len(in.Options) > 0 && in.Default != "" && !slices.Contains(in.Options, in.Default) {
			errs = append(errs, fmt.Errorf("input %s: default %q is not one of the options", name, in.Default))
		}
	}
	return errs
}
