package dsl

import (
	"regexp"
	"strings"
)

// SessionRefKind 会话引用类别
type SessionRefKind int

const (
	// SessionRefNone 未声明 resume_session
	SessionRefNone SessionRefKind = iota
	// SessionRefDirect 直接引用前序步骤 ID
	SessionRefDirect
	// SessionRefTemplate 旧式模板 ${{ steps.<id>.outputs.<key> }}
	SessionRefTemplate
	// SessionRefInvalid 无法识别的引用
	SessionRefInvalid
)

// SessionOutputKey 会话 ID 在步骤输出中的键名
const SessionOutputKey = "session_id"

// 步骤 ID 语法：声明、直接引用与模板引用共用
var (
	stepIDPattern      = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
	templateRefPattern = regexp.MustCompile(`^\$\{\{\s*steps\.([A-Za-z0-9_.-]+)\.outputs\.([A-Za-z0-9_-]+)\s*\}\}$`)
)

// ValidStepID reports whether id can be declared and referenced.
func ValidStepID(id string) bool {
	return stepIDPattern.MatchString(id)
}

// SessionReference resume_session 的解析结果
type SessionReference struct {
	Kind      SessionRefKind
	StepID    string
	OutputKey string
	Raw       string
}

// ParseSessionReference 将 resume_session 原始值解析为带标签的引用。
// 校验与解析共用这一入口。
func ParseSessionReference(raw string) SessionReference {
	ref := SessionReference{Raw: raw}
	value := strings.TrimSpace(raw)

	switch {
	case value == "":
		ref.Kind = SessionRefNone
	case stepIDPattern.MatchString(value):
		ref.Kind = SessionRefDirect
		ref.StepID = value
		ref.OutputKey = SessionOutputKey
	default:
		m := templateRefPattern.FindStringSubmatch(value)
		if m == nil {
			ref.Kind = SessionRefInvalid
			return ref
		}
		ref.Kind = SessionRefTemplate
		ref.StepID = m[1]
		ref.OutputKey = m[2]
	}
	return ref
}

// TargetStep 返回被引用的步骤 ID；只有指向 session_id 的引用才有效
func (r SessionReference) TargetStep() (string, bool) {
	switch r.Kind {
	case SessionRefDirect:
		return r.StepID, true
	case SessionRefTemplate:
		if r.OutputKey == SessionOutputKey {
			return r.StepID, true
		}
	}
	return "", false
}

func (k SessionRefKind) String() string {
	switch k {
	case SessionRefNone:
		return "none"
	case SessionRefDirect:
		return "direct"
	case SessionRefTemplate:
		return "template"
	default:
		return "invalid"
	}
}
