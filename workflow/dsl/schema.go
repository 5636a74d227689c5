package dsl

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// 任务步骤识别
const (
	// TaskAction 外部任务 action 名称（可带 @ref）
	TaskAction = "anthropics/claude-code-action"
	// TaskSentinel 保留的任务哨兵值
	TaskSentinel = "claude-code"
)

// Document 工作流文档顶层结构
type Document struct {
	// Name 工作流名称（必填）
	Name string `yaml:"name"`
	// On 触发器声明
	On Triggers `yaml:"on,omitempty"`
	// Inputs 输入声明
	Inputs map[string]Input `yaml:"inputs,omitempty"`
	// Env 全局环境变量
	Env map[string]string `yaml:"env,omitempty"`
	// Jobs 按声明顺序排列的作业
	Jobs Jobs `yaml:"jobs"`
}

// Input 输入声明
type Input struct {
	Description string   `yaml:"description,omitempty"`
	Required    bool     `yaml:"required,omitempty"`
	Default     string   `yaml:"default,omitempty"`
	Type        string   `yaml:"type,omitempty"` // string, boolean, choice, number
	Options     []string `yaml:"options,omitempty"`
}

// Job 作业定义
type Job struct {
	Name   string            `yaml:"name,omitempty"`
	RunsOn string            `yaml:"runs-on,omitempty"`
	Env    map[string]string `yaml:"env,omitempty"`
	Steps  []*Step           `yaml:"steps"`
}

// Step 步骤定义，run 与 uses 二选一
type Step struct {
	ID   string            `yaml:"id,omitempty"`
	Name string            `yaml:"name,omitempty"`
	Uses string            `yaml:"uses,omitempty"`
	Run  string            `yaml:"run,omitempty"`
	With *With             `yaml:"with,omitempty"`
	Env  map[string]string `yaml:"env,omitempty"`
}

// Condition 条件执行策略
type Condition string

const (
	ConditionOnSuccess Condition = "on_success"
	ConditionOnFailure Condition = "on_failure"
	ConditionAlways    Condition = "always"
)

// Valid 判断条件值是否合法
func (c Condition) Valid() bool {
	switch c {
	case ConditionOnSuccess, ConditionOnFailure, ConditionAlways:
		return true
	default:
		return false
	}
}

// With 任务步骤参数。已知字段强类型，其余键保留在 Extra 中。
type With struct {
	Prompt            string    `yaml:"prompt,omitempty"`
	Model             string    `yaml:"model,omitempty"` // "auto" 表示使用调用方默认值
	AllowAllTools     bool      `yaml:"allow_all_tools,omitempty"`
	BypassPermissions bool      `yaml:"bypass_permissions,omitempty"`
	WorkingDirectory  string    `yaml:"working_directory,omitempty"`
	ResumeSession     string    `yaml:"resume_session,omitempty"`
	OutputSession     bool      `yaml:"output_session,omitempty"`
	Check             string    `yaml:"check,omitempty"`
	Condition         Condition `yaml:"condition,omitempty"`

	// Extra 扩展字段
	Extra map[string]any `yaml:",inline"`
}

// IsTask 判断步骤是否为外部任务步骤
func (s *Step) IsTask() bool {
	uses := strings.TrimSpace(s.Uses)
	return uses == TaskSentinel || uses == TaskAction || strings.HasPrefix(uses, TaskAction+"@")
}

// EffectiveID 返回步骤 ID；未显式声明时为 step-<index>
func (s *Step) EffectiveID(indexInJob int) string {
	if s.ID != "" {
		return s.ID
	}
	return fmt.Sprintf("step-%d", indexInJob)
}

// =============================================================================
// Jobs：保持声明顺序的作业映射
// =============================================================================

// Jobs 有序作业集合
type Jobs struct {
	names []string
	items map[string]*Job
}

// Add 追加作业；同名作业被替换但保留原有位置
func (j *Jobs) Add(name string, job *Job) {
	if j.items == nil {
		j.items = make(map[string]*Job)
	}
	if _, ok := j.items[name]; !ok {
		j.names = append(j.names, name)
	}
	j.items[name] = job
}

// Get 按名称获取作业
func (j Jobs) Get(name string) (*Job, bool) {
	job, ok := j.items[name]
	return job, ok
}

// Names 返回按声明顺序排列的作业名
func (j Jobs) Names() []string {
	out := make([]string, len(j.names))
	copy(out, j.names)
	return out
}

// Len 作业数量
func (j Jobs) Len() int {
	return len(j.names)
}

// UnmarshalYAML 按文档顺序解码作业映射
func (j *Jobs) UnmarshalYAML(node *yaml.Node) error {
	j.names = nil
	j.items = make(map[string]*Job)

	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: jobs must be a mapping", node.Line)
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		if _, dup := j.items[name]; dup {
			return fmt.Errorf("line %d: duplicate job %q", node.Content[i].Line, name)
		}
		job := &Job{}
		if err := node.Content[i+1].Decode(job); err != nil {
			return fmt.Errorf("job %q: %w", name, err)
		}
		j.Add(name, job)
	}
	return nil
}

// MarshalYAML 按声明顺序编码作业映射
func (j Jobs) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, name := range j.names {
		value := &yaml.Node{}
		if err := value.Encode(j.items[name]); err != nil {
			return nil, fmt.Errorf("job %q: %w", name, err)
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: name},
			value,
		)
	}
	return node, nil
}

// =============================================================================
// Triggers：on 字段，支持字符串、列表和映射三种写法
// =============================================================================

// Triggers 触发器声明
type Triggers struct {
	Events []string
	Config map[string]any
}

// IsZero 供 omitempty 使用
func (t Triggers) IsZero() bool {
	return len(t.Events) == 0
}

// UnmarshalYAML 解码 on 字段
func (t *Triggers) UnmarshalYAML(node *yaml.Node) error {
	t.Events = nil
	t.Config = nil

	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" || node.Value == "" {
			return nil
		}
		t.Events = []string{node.Value}
	case yaml.SequenceNode:
		return node.Decode(&t.Events)
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			event := node.Content[i].Value
			t.Events = append(t.Events, event)

			value := node.Content[i+1]
			if value.Kind == yaml.ScalarNode && value.Tag == "!!null" {
				continue
			}
			var cfg any
			if err := value.Decode(&cfg); err != nil {
				return fmt.Errorf("trigger %q: %w", event, err)
			}
			if t.Config == nil {
				t.Config = make(map[string]any)
			}
			t.Config[event] = cfg
		}
	default:
		return fmt.Errorf("line %d: unsupported trigger declaration", node.Line)
	}
	return nil
}

// MarshalYAML 编码 on 字段，尽量保持最简写法
func (t Triggers) MarshalYAML() (any, error) {
	if len(t.Config) == 0 {
		if len(t.Events) == 1 {
			return t.Events[0], nil
		}
		return t.Events, nil
	}

	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, event := range t.Events {
		value := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
		if cfg, ok := t.Config[event]; ok {
			value = &yaml.Node{}
			if err := value.Encode(cfg); err != nil {
				return nil, fmt.Errorf("trigger %q: %w", event, err)
			}
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: event},
			value,
		)
	}
	return node, nil
}
