// Copyright (c) FlowPilot Authors.
// Licensed under the MIT License.

/*
Package workflow 实现 FlowPilot 的工作流执行引擎。

# 概述

Engine 按文档顺序（先作业、后步骤）依次执行任务步骤，
将每个步骤交给 TaskRunner（通常是 executor.Executor），
并通过 state.Service 为每个步骤写入检查点，使执行可以暂停与恢复。

# 核心类型

  - Engine         — 启动、暂停、恢复工作流执行
  - Run            — 单次执行的显式句柄：事件流、完成通知、结果
  - Execution      — 一次执行的输入、步骤输出与状态
  - Event          — 封闭的事件和类型：StepStarted、StepCompleted、
    StepFailed、StepSkipped、WorkflowCompleted、WorkflowFailed、WorkflowPaused
  - WorkflowResult — 执行结果摘要

# 会话续接

步骤只在 with.resume_session 显式引用前序步骤时续接其会话，
否则总是以全新会话启动。

# 暂停与恢复

Pause 在下一步开始前生效；另一进程写入的持久化 paused 状态同样会被察觉。
限流类失败会将执行置为 paused（原因 error）并保持可恢复，
Resume 跳过已完成或已跳过的步骤，并从会话映射与检查点重建步骤输出。

# 可观测性

每次执行与每个步骤各产生一个 OpenTelemetry span；
配置进度目录时，事件以 JSON Lines 写入 <dir>/<executionId>.jsonl。
*/
package workflow
