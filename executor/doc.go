// Copyright (c) FlowPilot Authors.
// Licensed under the MIT License.

/*
Package executor runs external AI tasks as subprocesses.

# Overview

An Executor turns a TaskRequest into a deterministic command line
(BuildCommand), runs it through the configured shell, and maps the exit
status and output into a TaskResult. Structured JSON output is parsed
for the result text and the session id.

# Rate limits

The task CLI reports exhausted usage as "Claude AI usage limit reached|<unix-seconds>"
somewhere in stdout or stderr. ExecuteTaskWithRetry waits for the reset
and retries, keeping the session id so the next attempt continues the
same conversation. Waits are capped per attempt and by a cumulative
budget, and resets further out than the timeout threshold are not waited
for at all.

# Pipelines

ExecutePipeline runs an ordered task list. A task only continues another
task's session when it names it in ResumeFromTaskID.

# Concurrency

One task may be in flight per Executor. CancelCurrentTask signals the
tracked subprocess and clears the handle immediately.
*/
package executor
