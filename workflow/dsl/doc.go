// Package dsl 提供工作流文档的声明式 YAML 模型，
// 负责解析、校验与序列化（Parse / Marshal 互为逆操作），
// 并实现 ${{ inputs.X }}、${{ env.X }}、${{ steps.ID.outputs.KEY }} 占位符解析。
package dsl
