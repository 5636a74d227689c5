// Copyright (c) FlowPilot Authors.
// Licensed under the MIT License.

/*
Package main 提供 flowpilot 命令行程序入口。

# 概述

cmd/flowpilot 加载 YAML 配置，构建 flowpilot.Runtime，
并通过 cobra 子命令暴露工作流与任务流水线的运行、暂停和恢复能力。

# 子命令

  - run / resume      — 启动或恢复工作流，实时打印事件流
  - pause             — 将持久化执行标记为暂停，另一进程在下一步前停止
  - status / delete   — 查看或删除持久化执行记录
  - cleanup           — 按保留时长清理旧记录
  - validate          — 只解析校验工作流文件
  - pipeline run/resume — 执行任务列表，结果写入 JSON 文件以便恢复
  - version           — 构建信息

# 信号处理

第一次 Ctrl-C 请求在下一步之前暂停；第二次取消正在执行的任务。
*/
package main
