package dsl

// TaskStep 扁平化后的外部任务步骤
type TaskStep struct {
	// JobName 所属作业
	JobName string
	// IndexInJob 在作业 steps 列表中的位置
	IndexInJob int
	// Index 在全部任务步骤中的位置
	Index int
	// Step 原始步骤定义
	Step *Step
}

// ID 返回步骤的有效 ID
func (t TaskStep) ID() string {
	return t.Step.EffectiveID(t.IndexInJob)
}

// ExtractTaskSteps 按文档顺序（先作业、后步骤）收集全部外部任务步骤
func ExtractTaskSteps(doc *Document) []TaskStep {
	if doc == nil {
		return nil
	}

	var steps []TaskStep
	for _, name := range doc.Jobs.Names() {
		job, _ := doc.Jobs.Get(name)
		if job == nil {
			continue
		}
		for i, step := range job.Steps {
			if step == nil || !step.IsTask() {
				continue
			}
			steps = append(steps, TaskStep{
				JobName:    name,
				IndexInJob: i,
				Index:      len(steps),
				Step:       step,
			})
		}
	}
	return steps
}

// ReferencedSessionSteps 返回被后续 resume_session 引用的步骤 ID 集合
func ReferencedSessionSteps(doc *Document) map[string]bool {
	refs := make(map[string]bool)
	for _, ts := range ExtractTaskSteps(doc) {
		if ts.Step.With == nil {
			continue
		}
		if id, ok := ParseSessionReference(ts.Step.With.ResumeSession).TargetStep(); ok {
			refs[id] = true
		}
	}
	return refs
}

// JobEnv 合并全局与作业级环境变量，作业级优先
func (d *Document) JobEnv(jobName string) map[string]string {
	env := make(map[string]string, len(d.Env))
	for k, v := range d.Env {
		env[k] = v
	}
	if job, ok := d.Jobs.Get(jobName); ok && job != nil {
		for k, v := range job.Env {
			env[k] = v
		}
	}
	return env
}

// StepEnv 在作业环境之上叠加步骤级环境变量
func (d *Document) StepEnv(ts TaskStep) map[string]string {
	env := d.JobEnv(ts.JobName)
	if ts.Step != nil {
		for k, v := range ts.Step.Env {
			env[k] = v
		}
	}
	return env
}
