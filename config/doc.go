// Package config 提供 FlowPilot 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量（FLOWPILOT_ 前缀）的顺序叠加，
// 并通过 validator 标签与跨字段检查进行校验。
package config
