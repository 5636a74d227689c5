// Copyright (c) FlowPilot Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 FlowPilot 测试的共享工具和辅助函数。

# 概述

testutil 包为各包的单元测试提供统一的辅助能力，
避免重复实现相似的测试基础设施。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 断言工具: AssertErrorCode / AssertJSONEqual /
    AssertEventuallyTrue / AssertEventuallyEqual
  - 迭代辅助: Collect 将事件流收集为切片
  - 文件辅助: WriteWorkflow 在临时目录写入工作流文件

# 子包

  - testutil/mocks: ScriptedRunner，按步骤脚本返回任务结果的 TaskRunner，
    记录每次调用的请求，支持会话 ID 自增、错误注入与阻塞
  - testutil/fixtures: 预置工作流 YAML（会话链、独立步骤、多作业、条件步骤）

# 使用示例

	runner := mocks.NewScriptedRunner().WithIncrementingSessions("sess")
	engine := workflow.NewEngine(runner)
	res, err := engine.ExecuteWorkflow(testutil.TestContext(t), exec, workflow.RunOptions{})
*/
package testutil
