package tasktool

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/nevindra/relay"
)

type fakeStore struct {
	relay.Store
	tasks  []relay.Task
	nextID int64
}

func (f *fakeStore) CreateTask(_ context.Context, sessionID int64, summary string) (relay.Task, error) {
	f.nextID++
	task := relay.Task{ID: f.nextID, SessionID: sessionID, Status: relay.TaskPending, Summary: summary, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	f.tasks = append(f.tasks, task)
	return task, nil
}

func (f *fakeStore) UpdateTask(_ context.Context, taskID int64, status string, stepIndex int) error {
	for i := range f.tasks {
		if f.tasks[i].ID == taskID {
			f.tasks[i].Status = status
			f.tasks[i].StepIndex = stepIndex
			return nil
		}
	}
	return errors.New("task not found")
}

func fixture(t *testing.T) (*relay.ToolRegistry, *fakeStore) {
	t.Helper()
	registry := relay.NewToolRegistry()
	t.Cleanup(func() { registry.Close() })
	store := &fakeStore{}
	if err := Register(registry, store); err != nil {
		t.Fatalf("register: %v", err)
	}
	return registry, store
}

func TestCreateClipsSummary(t *testing.T) {
	registry, store := fixture(t)
	create, ok := registry.Handler("task.create")
	if !ok {
		t.Fatal("task.create not registered")
	}

	out, err := create(context.Background(), &relay.ToolCallContext{SessionID: 3}, map[string]any{"summary": strings.Repeat("s", 600)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if out["status"] != relay.TaskPending {
		t.Errorf("status = %v, want pending", out["status"])
	}
	if len(store.tasks) != 1 || len(store.tasks[0].Summary) != 512 {
		t.Errorf("summary length = %d, want clipped to 512", len(store.tasks[0].Summary))
	}
	if store.tasks[0].SessionID != 3 {
		t.Errorf("session = %d, want 3", store.tasks[0].SessionID)
	}

	// A multi-byte summary must be clipped on a rune boundary.
	if _, err := create(context.Background(), &relay.ToolCallContext{SessionID: 3}, map[string]any{"summary": strings.Repeat("日", 200)}); err != nil {
		t.Fatalf("create: %v", err)
	}
	got := store.tasks[1].Summary
	if len(got) > 512 || !utf8.ValidString(got) {
		t.Errorf("clipped summary: %d bytes, valid=%v", len(got), utf8.ValidString(got))
	}
}

func TestUpdateRequiresTaskID(t *testing.T) {
	registry, _ := fixture(t)
	update, ok := registry.Handler("task.update")
	if !ok {
		t.Fatal("task.update not registered")
	}

	_, err := update(context.Background(), &relay.ToolCallContext{}, map[string]any{"status": relay.TaskRunning})
	var cfgErr *relay.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error = %T, want *relay.ConfigError", err)
	}
}

func TestUpdateDefaultsToRunning(t *testing.T) {
	registry, store := fixture(t)
	create, _ := registry.Handler("task.create")
	update, _ := registry.Handler("task.update")

	if _, err := create(context.Background(), &relay.ToolCallContext{SessionID: 1}, map[string]any{"summary": "t"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	// task_id arrives as float64 when decoded from JSON.
	out, err := update(context.Background(), &relay.ToolCallContext{}, map[string]any{"task_id": float64(1), "step_index": float64(2)})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if out["status"] != relay.TaskRunning {
		t.Errorf("status = %v, want running", out["status"])
	}
	if store.tasks[0].Status != relay.TaskRunning || store.tasks[0].StepIndex != 2 {
		t.Errorf("task = %+v", store.tasks[0])
	}
}
