// Copyright (c) FlowPilot Authors.
// Licensed under the MIT License.

/*
包 state 持久化工作流执行检查点（WorkflowState），支撑暂停与续跑。

# 概述

Service 将所有执行记录作为一个 JSON 数组保存在单个命名空间键
（默认 flowpilot:workflow-states）下，条数受 MaxEntries 约束，
超出时淘汰 startTime 最早的记录。读取时逐条解码，缺少 executionId
或 startTime 的条目会被丢弃并记录告警。

# 存储后端

Store 是最小的键值接口，提供以下实现：

  - MemoryStore：进程内存储，用于测试与一次性运行。
  - FileStore：目录下每个键一个文件，flock 跨进程加锁，临时文件 + 重命名原子写。
  - RedisStore：go-redis 客户端。
  - SQLStore：GORM 键值表，支持 postgres、mysql、sqlite。
  - MongoStore：mongo-driver v2，按 _id upsert。

NewStore 根据 StoreType 构建对应后端。

# 状态迁移

  - PauseWorkflow 仅对 running 状态生效。
  - ResumeWorkflow 仅对 paused 且 canResume 的状态生效。
  - 失败步骤使整个状态进入 failed 并置 canResume=false。
  - 最后一个步骤完成后状态进入 completed。
*/
package state
