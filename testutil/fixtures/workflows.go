// =============================================================================
// 📦 测试数据工厂 - 工作流文档
// =============================================================================
// 提供预定义的工作流 YAML，用于解析器与引擎测试
// =============================================================================
package fixtures

// ChainedWorkflowYAML 三步会话链：step2 续接 step1，step3 续接 step2
const ChainedWorkflowYAML = `name: chained-review
on: workflow_dispatch
inputs:
  target:
    description: directory to review
    required: true
    default: src
env:
  LANGUAGE: go
jobs:
  review:
    runs-on: ubuntu-latest
    steps:
      - id: step1
        name: Analyze
        uses: anthropics/claude-code-action@v1
        with:
          prompt: "Analyze ${{ inputs.target }} written in ${{ env.LANGUAGE }}"
          model: auto
          output_session: true
      - id: step2
        name: Plan
        uses: anthropics/claude-code-action@v1
        with:
          prompt: "Plan fixes for: ${{ steps.step1.outputs.result }}"
          resume_session: step1
          output_session: true
      - id: step3
        name: Apply
        uses: anthropics/claude-code-action@v1
        with:
          prompt: Apply the plan
          resume_session: step2
          bypass_permissions: true
`

// IndependentWorkflowYAML 三个互不续接的步骤
const IndependentWorkflowYAML = `name: independent
jobs:
  build:
    steps:
      - id: step1
        uses: claude-code
        with:
          prompt: first
      - id: step2
        uses: claude-code
        with:
          prompt: second
      - id: step3
        uses: claude-code
        with:
          prompt: third
`

// MixedWorkflowYAML 两个作业，包含普通 run 步骤与默认 ID 的任务步骤
const MixedWorkflowYAML = `name: mixed
on:
  push:
    branches: [main]
  workflow_dispatch:
jobs:
  prepare:
    steps:
      - name: Checkout
        uses: actions/checkout@v4
      - name: Summarize
        uses: claude-code
        with:
          prompt: Summarize the repository
          temperature: 0.2
  report:
    env:
      FORMAT: markdown
    steps:
      - run: echo building
      - id: write
        uses: claude-code
        with:
          prompt: "Write a ${{ env.FORMAT }} report"
          resume_session: "${{ steps.step-1.outputs.session_id }}"
`

// ConditionalWorkflowYAML 带条件执行的步骤
const ConditionalWorkflowYAML = `name: conditional
jobs:
  main:
    steps:
      - id: always
        uses: claude-code
        with:
          prompt: always runs
      - id: when-green
        uses: claude-code
        with:
          prompt: tests passed
          check: "exit 0"
          condition: on_success
      - id: when-red
        uses: claude-code
        with:
          prompt: fix the tests
          check: "exit 0"
          condition: on_failure
`
