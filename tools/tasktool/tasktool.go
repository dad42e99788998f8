// Package tasktool registers the task.* lifecycle tools.
package tasktool

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/nevindra/relay"
)

// Register adds task.create and task.update to registry.
func Register(registry *relay.ToolRegistry, store relay.Store) error {
	create := func(ctx context.Context, call *relay.ToolCallContext, args map[string]any) (map[string]any, error) {
		summary, _ := args["summary"].(string)
		if len(summary) > 512 {
			cut := 512
			for cut > 0 && !utf8.RuneStart(summary[cut]) {
				cut--
			}
			summary = summary[:cut]
		}
		task, err := store.CreateTask(ctx, call.SessionID, summary)
		if err != nil {
			return nil, err
		}
		return map[string]any{"task_id": task.ID, "status": task.Status}, nil
	}

	update := func(ctx context.Context, _ *relay.ToolCallContext, args map[string]any) (map[string]any, error) {
		taskID := int64Arg(args, "task_id")
		if taskID == 0 {
			return nil, &relay.ConfigError{Msg: "task.update requires task_id"}
		}
		status, _ := args["status"].(string)
		if status == "" {
			status = relay.TaskRunning
		}
		stepIndex := intArg(args, "step_index")
		if err := store.UpdateTask(ctx, taskID, status, stepIndex); err != nil {
			return nil, err
		}
		return map[string]any{"task_id": taskID, "status": status}, nil
	}

	if err := registry.Register(relay.ToolMetadata{
		Name:              "task.create",
		Version:           "2.0",
		Risk:              relay.RiskMedium,
		Tags:              []string{"task", "create", "pipeline"},
		RoutingSummary:    "Create a task for session pipeline processing.",
		InvocationSummary: "task.create(summary)",
		FullSchema:        `{"type":"object","properties":{"summary":{"type":"string"}}}`,
		Examples:          []string{"task.create(summary='plan weekend trip')"},
		Timeout:           5 * time.Second,
		Idempotent:        false,
	}, create); err != nil {
		return err
	}

	return registry.Register(relay.ToolMetadata{
		Name:              "task.update",
		Version:           "2.0",
		Risk:              relay.RiskMedium,
		Tags:              []string{"task", "update", "pipeline"},
		RoutingSummary:    "Update task status and record step.",
		InvocationSummary: "task.update(task_id, status, step_index)",
		FullSchema:        `{"type":"object","properties":{"task_id":{"type":"integer"},"status":{"type":"string"},"step_index":{"type":"integer"},"detail":{"type":"string"}}}`,
		Examples:          []string{"task.update(task_id=12, status='running', step_index=1)"},
		Timeout:           5 * time.Second,
		Idempotent:        false,
	}, update)
}

func int64Arg(args map[string]any, key string) int64 {
	switch v := args[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

func intArg(args map[string]any, key string) int {
	return int(int64Arg(args, key))
}
