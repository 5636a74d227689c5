// Copyright (c) FlowPilot Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的执行指标采集能力，覆盖
任务调用、工作流步骤与状态存储三大维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标。每个 Collector
持有独立的 Registry，借助 promauto.With 注册，测试之间互不干扰。
nil Collector 的所有 Record 方法均为空操作，调用方无需判空。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram 等
    Prometheus 向量指标，按业务域分组管理。

# 主要能力

  - 任务指标：调用总数与耗时（按 status 分组）、重试次数
    （按 reason 分组）、限流等待时长。
  - 工作流指标：步骤结果与耗时、工作流最终状态计数。
  - 状态存储指标：按 backend/operation 统计操作次数与耗时。
  - 导出：WriteTextfile 以文本格式写出，供 textfile collector 采集。
*/
package metrics
