package dsl

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// FileSystem 文档存储使用的文件系统抽象
type FileSystem interface {
	Exists(path string) bool
	ReadDir(path string) ([]string, error)
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
	Stat(path string) (os.FileInfo, error)
	MkdirAll(path string) error
	Remove(path string) error
}

// OSFileSystem 基于本地磁盘的 FileSystem
type OSFileSystem struct{}

var _ FileSystem = OSFileSystem{}

func (OSFileSystem) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (OSFileSystem) ReadDir(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func (OSFileSystem) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }

// WriteFile 原子写：先写临时文件再重命名
func (OSFileSystem) WriteFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (OSFileSystem) Stat(path string) (os.FileInfo, error) { return os.Stat(path) }
func (OSFileSystem) MkdirAll(path string) error            { return os.MkdirAll(path, 0o755) }
func (OSFileSystem) Remove(path string) error              { return os.Remove(path) }

// DocumentInfo 工作流文件摘要
type DocumentInfo struct {
	Name    string
	Path    string
	Title   string // 文档中的 name 字段，解析失败时为空
	Invalid error
}

var documentNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// DocumentStore 管理目录下的工作流文件
type DocumentStore struct {
	fs     FileSystem
	dir    string
	parser *Parser
}

// NewDocumentStore 创建文档存储；fs 为 nil 时使用本地磁盘
func NewDocumentStore(dir string, fs FileSystem) *DocumentStore {
	if fs == nil {
		fs = OSFileSystem{}
	}
	return &DocumentStore{fs: fs, dir: dir, parser: NewParser()}
}

// Path 返回文档文件路径
func (s *DocumentStore) Path(name string) (string, error) {
	name = strings.TrimSuffix(strings.TrimSuffix(name, ".yaml"), ".yml")
	if !documentNamePattern.MatchString(name) || strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid workflow name %q", name)
	}
	for _, ext := range []string{".yml", ".yaml"} {
		p := filepath.Join(s.dir, name+ext)
		if s.fs.Exists(p) {
			return p, nil
		}
	}
	return filepath.Join(s.dir, name+".yml"), nil
}

// List 列出目录中的工作流文件，无法解析的文件也会列出并附带错误
func (s *DocumentStore) List() ([]DocumentInfo, error) {
	if !s.fs.Exists(s.dir) {
		return nil, nil
	}
	files, err := s.fs.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	sort.Strings(files)

	var out []DocumentInfo
	for _, f := range files {
		ext := filepath.Ext(f)
		if ext != ".yml" && ext != ".yaml" {
			continue
		}
		info := DocumentInfo{Name: strings.TrimSuffix(f, ext), Path: filepath.Join(s.dir, f)}
		if data, err := s.fs.ReadFile(info.Path); err != nil {
			info.Invalid = err
		} else if doc, err := s.parser.Parse(data); err != nil {
			info.Invalid = err
		} else {
			info.Title = doc.Name
		}
		out = append(out, info)
	}
	return out, nil
}

// Load 读取并解析工作流
func (s *DocumentStore) Load(name string) (*Document, error) {
	path, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	data, err := s.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow %s: %w", name, err)
	}
	return s.parser.Parse(data)
}

// Save 校验并写入工作流
func (s *DocumentStore) Save(name string, doc *Document) (string, error) {
	if err := s.parser.Validate(doc); err != nil {
		return "", err
	}
	data, err := s.parser.Marshal(doc)
	if err != nil {
		return "", err
	}
	path, err := s.Path(name)
	if err != nil {
		return "", err
	}
	if err := s.fs.MkdirAll(s.dir); err != nil {
		return "", fmt.Errorf("create workflow dir: %w", err)
	}
	if err := s.fs.WriteFile(path, data); err != nil {
		return "", fmt.Errorf("write workflow %s: %w", name, err)
	}
	return path, nil
}

// Delete 删除工作流文件
func (s *DocumentStore) Delete(name string) error {
	path, err := s.Path(name)
	if err != nil {
		return err
	}
	if !s.fs.Exists(path) {
		return fmt.Errorf("workflow %s not found", name)
	}
	return s.fs.Remove(path)
}
