// Copyright (c) FlowPilot Authors.
// Licensed under the MIT License.

/*
Package types 提供 FlowPilot 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 workflow、executor、
state、engine 等上层模块提供统一的错误契约，避免循环依赖。

# 核心类型

  - Error / ErrorCode — 结构化错误体系，含 Retryable 标记与 Cause 链

# 错误分类

  - PARSE / VALIDATION       — 文档语法或结构错误，执行前拒绝，从不重试
  - EXECUTION                — 单个步骤因非限流原因失败，终止整个工作流
  - RATE_LIMIT               — 限流，驱动重试/退避路径
  - RATE_LIMIT_TIMEOUT       — 重置时间超过 6 小时的限流，当前重试预算内视为致命
  - RETRY_BUDGET_EXCEEDED    — 累计等待超过预算
  - STORAGE                  — 持久化层失败
*/
package types
