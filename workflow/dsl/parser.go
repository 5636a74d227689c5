package dsl

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/BaSui01/flowpilot/types"
	"gopkg.in/yaml.v3"
)

// Parser 工作流文档解析器
type Parser struct {
	validator *Validator
}

// NewParser 创建解析器
func NewParser() *Parser {
	return &Parser{validator: NewValidator()}
}

// ParseFile 从文件解析工作流文档
func (p *Parser) ParseFile(filename string) (*Document, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}
	return p.Parse(data)
}

// Parse 从 YAML 字节解析并校验工作流文档，不做任何 I/O
func (p *Parser) Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, types.NewError(types.ErrParse, "invalid workflow YAML").WithCause(err)
	}

	if err := p.validate(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Marshal 将文档序列化为 YAML，是 Parse 的逆操作
func (p *Parser) Marshal(doc *Document) ([]byte, error) {
	if doc == nil {
		return nil, types.NewError(types.ErrValidation, "document is nil")
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode workflow: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode workflow: %w", err)
	}
	return buf.Bytes(), nil
}

// Validate 校验已构造的文档（不经过 YAML）
func (p *Parser) Validate(doc *Document) error {
	return p.validate(doc)
}

// validate 汇总所有校验错误
func (p *Parser) validate(doc *Document) error {
	errs := p.validator.Validate(doc)
	if len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return types.Errorf(types.ErrValidation, "validation errors: %s", strings.Join(msgs, "; "))
	}
	return nil
}
