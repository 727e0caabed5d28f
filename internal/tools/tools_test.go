package tools

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/taskmate-ai/taskmate/internal/notify"
	"github.com/taskmate-ai/taskmate/internal/prediction"
	"github.com/taskmate-ai/taskmate/internal/tasks"
)

// fakeTasks is an in-memory TaskService.
type fakeTasks struct {
	mu      sync.Mutex
	list    []tasks.Task
	err     error
	panicky bool
	creates int
}

func (f *fakeTasks) List(_ context.Context) ([]tasks.Task, error) {
	if f.panicky {
		panic("boom")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]tasks.Task(nil), f.list...), nil
}

func (f *fakeTasks) Get(_ context.Context, id int) (*tasks.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.list {
		if t.TaskID == id {
			return &t, nil
		}
	}
	return nil, tasks.ErrNotFound
}

func (f *fakeTasks) Create(_ context.Context, fields tasks.Fields) (*tasks.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	t, err := tasks.NewTask(fields)
	if err != nil {
		return nil, err
	}
	t.TaskID = tasks.NextID(f.list)
	f.list = append(f.list, t)
	f.creates++
	return &t, nil
}

func (f *fakeTasks) Update(_ context.Context, id int, fields tasks.Fields) (*tasks.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, t := range f.list {
		if t.TaskID == id {
			updated, err := t.Apply(fields)
			if err != nil {
				return nil, err
			}
			f.list[i] = updated
			return &updated, nil
		}
	}
	return nil, tasks.ErrNotFound
}

func (f *fakeTasks) Delete(_ context.Context, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, t := range f.list {
		if t.TaskID == id {
			f.list = append(f.list[:i], f.list[i+1:]...)
			break
		}
	}
	return nil
}

// fakePredictions is a scripted PredictionService.
type fakePredictions struct {
	lateness  []prediction.LatenessPrediction
	rootCause prediction.RootCauseSummary
	err       error

	trainCtxErr chan error
}

func (f *fakePredictions) Lateness(context.Context) ([]prediction.LatenessPrediction, error) {
	return f.lateness, f.err
}

func (f *fakePredictions) RootCause(context.Context) (*prediction.RootCauseSummary, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &f.rootCause, nil
}

func (f *fakePredictions) Recommendations(context.Context) ([]prediction.Recommendation, error) {
	return []prediction.Recommendation{{TaskID: 1, Recommendation: "Send a reminder"}}, f.err
}

func (f *fakePredictions) Reassignment(_ context.Context, taskID *int) ([]prediction.Reassignment, error) {
	id := 0
	if taskID != nil {
		id = *taskID
	}
	return []prediction.Reassignment{{TaskID: id, CurrentUserID: 1, SuggestedUserID: 2}}, f.err
}

func (f *fakePredictions) Train(ctx context.Context) (*prediction.TrainStatus, error) {
	time.Sleep(10 * time.Millisecond)
	if f.trainCtxErr != nil {
		f.trainCtxErr <- ctx.Err()
	}
	return &prediction.TrainStatus{Status: "ok"}, nil
}

type recordingNotifier struct {
	got []notify.Notification
	err error
}

func (r *recordingNotifier) Notify(_ context.Context, n notify.Notification) error {
	r.got = append(r.got, n)
	return r.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestRegistry(t *testing.T, confirm bool, store *fakeTasks, preds PredictionService) *Registry {
	t.Helper()
	deps := Deps{
		Tasks:               store,
		Logger:              quietLogger(),
		RequireConfirmation: confirm,
		ConfirmationSecret:  "test-secret",
		Now:                 func() time.Time { return fixedNow },
	}
	if preds != nil {
		deps.Predictions = preds
	}
	r, err := NewRegistry(deps)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func sampleStore() *fakeTasks {
	return &fakeTasks{list: []tasks.Task{
		{TaskID: 1, AssignedUserID: 4, TaskName: "Ship release", DueDate: "2025-06-01", Category: "DevOps", Color: "#111111"},
		{TaskID: 2, AssignedUserID: 5, TaskName: "Write copy", DueDate: "2025-07-01", Category: "Marketing", Color: "#222222"},
	}}
}

func exec(t *testing.T, r *Registry, name, args string) Result {
	t.Helper()
	res, err := r.Execute(context.Background(), name, args)
	if err != nil {
		t.Fatalf("Execute(%s): %v", name, err)
	}
	return res
}

// confirmArgs rebuilds the confirm call arguments from a pending result.
func confirmArgs(t *testing.T, pending Result) string {
	t.Helper()
	args := make(map[string]any, len(pending.Args)+1)
	for k, v := range pending.Args {
		args[k] = v
	}
	args["confirmationToken"] = pending.Token
	data, err := json.Marshal(args)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestRegister_Completeness(t *testing.T) {
	full := newTestRegistry(t, true, sampleStore(), nil)

	t.Run("spec without handler", func(t *testing.T) {
		handlers := full.handlers()
		delete(handlers, TrainModel)
		r := &Registry{tools: map[Name]*entry{}}
		err := r.register(catalog(), handlers)
		if err == nil || !strings.Contains(err.Error(), "trainModel") {
			t.Errorf("err = %v, want mention of trainModel", err)
		}
	})

	t.Run("handler without spec", func(t *testing.T) {
		handlers := full.handlers()
		handlers["archiveTask"] = typed(full.getAllTasks)
		r := &Registry{tools: map[Name]*entry{}}
		err := r.register(catalog(), handlers)
		if err == nil || !strings.Contains(err.Error(), "archiveTask") {
			t.Errorf("err = %v, want mention of archiveTask", err)
		}
	})

	t.Run("duplicate spec", func(t *testing.T) {
		specs := append(catalog(), catalog()[0])
		r := &Registry{tools: map[Name]*entry{}}
		if err := r.register(specs, full.handlers()); err == nil {
			t.Error("expected duplicate declaration error")
		}
	})
}

func TestNewRegistry_RequiresTaskService(t *testing.T) {
	if _, err := NewRegistry(Deps{}); err == nil {
		t.Fatal("expected error without a task service")
	}
}

func TestList(t *testing.T) {
	tests := []struct {
		name    string
		confirm bool
		want    int
	}{
		{"confirmation enabled", true, 15},
		{"confirmation disabled", false, 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry(t, tt.confirm, sampleStore(), nil)
			list := r.List()
			if len(list) != tt.want {
				t.Fatalf("len(List()) = %d, want %d", len(list), tt.want)
			}
			for _, tool := range list {
				if tool["type"] != "function" {
					t.Errorf("type = %v", tool["type"])
				}
				fn := tool["function"].(map[string]any)
				if fn["strict"] != true {
					t.Errorf("%v: strict = %v", fn["name"], fn["strict"])
				}
				params := fn["parameters"].(map[string]any)
				if params["additionalProperties"] != false {
					t.Errorf("%v: additionalProperties = %v", fn["name"], params["additionalProperties"])
				}
				if !tt.confirm && confirmTools[Name(fn["name"].(string))] {
					t.Errorf("%v advertised with confirmation disabled", fn["name"])
				}
			}
		})
	}
}

func TestCatalog_EveryPropertyRequired(t *testing.T) {
	for _, spec := range catalog() {
		props := spec.Parameters["properties"].(map[string]any)
		required, ok := spec.Parameters["required"].([]string)
		if !ok || required == nil {
			t.Errorf("%s: required = %#v, want a string array", spec.Name, spec.Parameters["required"])
		}
		if len(required) != len(props) {
			t.Errorf("%s: %d required of %d properties", spec.Name, len(required), len(props))
		}
		for _, name := range required {
			if _, ok := props[name]; !ok {
				t.Errorf("%s: required %q is not a property", spec.Name, name)
			}
		}
	}
}

func TestExecute_Unavailable(t *testing.T) {
	tests := []struct {
		name    string
		confirm bool
		tool    string
	}{
		{"unknown tool", true, "launchRocket"},
		{"confirm tool while disabled", false, string(ConfirmDeleteTask)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry(t, tt.confirm, sampleStore(), nil)
			_, err := r.Execute(context.Background(), tt.tool, `{}`)
			var unavailable *ErrToolUnavailable
			if !errors.As(err, &unavailable) {
				t.Fatalf("err = %v, want *ErrToolUnavailable", err)
			}
			if unavailable.ToolName != tt.tool {
				t.Errorf("ToolName = %q", unavailable.ToolName)
			}
		})
	}
}

func TestExecute_ArgumentErrors(t *testing.T) {
	store := sampleStore()
	r := newTestRegistry(t, true, store, nil)

	tests := []struct {
		name string
		tool Name
		args string
	}{
		{"not json", CreateTask, `{"newTaskName":`},
		{"missing field", CreateTask, `{"newAssignee":1,"newTaskName":"x","newDueDate":"2025-01-01","newCategory":"QA"}`},
		{"extra field", DeleteTask, `{"taskId":1,"force":true}`},
		{"wrong type", DeleteTask, `{"taskId":"one"}`},
		{"fractional id", DeleteTask, `{"taskId":1.5}`},
		{"trailing data", DeleteTask, `{"taskId":1} {}`},
		{"bad category", CreateTask, `{"newAssignee":1,"newTaskName":"x","newDueDate":"2025-01-01","newCategory":"Sales","newColor":"#000000"}`},
		{"bad priority", SendNotification, `{"recipient":"ann","message":"hi","priority":"urgent"}`},
		{"args on no-arg tool", GetAllTasks, `{"all":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Execute(context.Background(), string(tt.tool), tt.args)
			var argErr *ArgumentError
			if !errors.As(err, &argErr) {
				t.Fatalf("err = %v, want *ArgumentError", err)
			}
			if argErr.ToolName != string(tt.tool) {
				t.Errorf("ToolName = %q", argErr.ToolName)
			}
		})
	}
	if store.creates != 0 {
		t.Errorf("creates = %d, want 0", store.creates)
	}
}

func TestExecute_EmptyArgumentsMeanEmptyObject(t *testing.T) {
	r := newTestRegistry(t, true, sampleStore(), nil)
	res := exec(t, r, string(GetAllTasks), "")
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
}

func TestExecute_IntegralNumbers(t *testing.T) {
	for _, args := range []string{`{"taskId":1.0}`, `{"taskId":1e0}`, `{"taskId": 1.000}`} {
		t.Run(args, func(t *testing.T) {
			r := newTestRegistry(t, true, sampleStore(), nil)
			res := exec(t, r, string(DeleteTask), args)
			if !res.Pending || !strings.Contains(res.Message, "Ship release") {
				t.Errorf("result = %+v", res)
			}
		})
	}
}

func TestList_NoParameterToolsDeclareEmptyRequired(t *testing.T) {
	r := newTestRegistry(t, true, sampleStore(), nil)
	for _, tool := range r.List() {
		fn := tool["function"].(map[string]any)
		if fn["name"] != string(GetAllTasks) {
			continue
		}
		params := fn["parameters"].(map[string]any)
		data, err := json.Marshal(params["required"])
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != "[]" {
			t.Errorf("required = %s, want []", data)
		}
		return
	}
	t.Fatalf("%s not listed", GetAllTasks)
}

const createArgs = `{"newAssignee":7,"newTaskName":"Deploy v2","newDueDate":"2025-07-01","newCategory":"DevOps","newColor":"#FF5733"}`

func TestCreate_TwoPhase(t *testing.T) {
	store := sampleStore()
	r := newTestRegistry(t, true, store, nil)

	pending := exec(t, r, string(CreateTask), createArgs)
	if !pending.Success || !pending.Pending {
		t.Fatalf("pending = %+v", pending)
	}
	if pending.Action != ConfirmCreateTask {
		t.Errorf("Action = %q", pending.Action)
	}
	if pending.Token == "" {
		t.Error("missing confirmation token")
	}
	if pending.Mutated() {
		t.Error("pending result must not count as a mutation")
	}
	for _, want := range []string{"- **TaskName**: `Deploy v2`", "- **AssignedUserID**: `7`", "- **Category**: `DevOps`"} {
		if !strings.Contains(pending.Message, want) {
			t.Errorf("preview missing %q:\n%s", want, pending.Message)
		}
	}
	if store.creates != 0 {
		t.Fatal("proposal must not create")
	}

	done := exec(t, r, string(ConfirmCreateTask), confirmArgs(t, pending))
	if !done.Success || done.Pending {
		t.Fatalf("confirm = %+v", done)
	}
	task, ok := done.Data.(*tasks.Task)
	if !ok {
		t.Fatalf("Data = %T", done.Data)
	}
	if task.TaskID != 3 || task.TaskName != "Deploy v2" || task.AssignedUserID != 7 {
		t.Errorf("created = %+v", task)
	}
	if store.creates != 1 {
		t.Errorf("creates = %d, want 1", store.creates)
	}
}

func TestConfirm_TokenMismatch(t *testing.T) {
	store := sampleStore()
	r := newTestRegistry(t, true, store, nil)
	pending := exec(t, r, string(CreateTask), createArgs)

	tests := []struct {
		name   string
		mutate func(args map[string]any)
	}{
		{"altered argument", func(a map[string]any) { a["newTaskName"] = "Something else" }},
		{"forged token", func(a map[string]any) { a["confirmationToken"] = strings.Repeat("0", 64) }},
		{"empty token", func(a map[string]any) { a["confirmationToken"] = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var args map[string]any
			if err := json.Unmarshal([]byte(confirmArgs(t, pending)), &args); err != nil {
				t.Fatal(err)
			}
			tt.mutate(args)
			data, _ := json.Marshal(args)
			res := exec(t, r, string(ConfirmCreateTask), string(data))
			if res.Success || res.Error != ErrTokenMismatch {
				t.Errorf("result = %+v", res)
			}
		})
	}
	if store.creates != 0 {
		t.Errorf("creates = %d, want 0", store.creates)
	}

	t.Run("token for another action", func(t *testing.T) {
		del := exec(t, r, string(DeleteTask), `{"taskId":1}`)
		args := `{"taskId":2,"confirmationToken":"` + del.Token + `"}`
		res := exec(t, r, string(ConfirmDeleteTask), args)
		if res.Success {
			t.Errorf("result = %+v", res)
		}
		if _, err := store.Get(context.Background(), 2); err != nil {
			t.Error("task 2 must survive")
		}
	})
}

func TestCreate_ConfirmationDisabled(t *testing.T) {
	store := sampleStore()
	r := newTestRegistry(t, false, store, nil)

	res := exec(t, r, string(CreateTask), createArgs)
	if !res.Success || res.Pending {
		t.Fatalf("result = %+v", res)
	}
	if !res.Mutated() {
		t.Error("direct create should count as a mutation")
	}
	if store.creates != 1 {
		t.Errorf("creates = %d, want 1", store.creates)
	}
}

func TestUpdate(t *testing.T) {
	nulls := `"newAssignee":null,"newTaskName":null,"newDueDate":null,"newCategory":null,"newColor":null,` +
		`"approverId":null,"comment":null,"recommendedUserId":null,"status":null,"storyPoints":null,"priorityId":null`

	t.Run("no fields", func(t *testing.T) {
		r := newTestRegistry(t, true, sampleStore(), nil)
		res := exec(t, r, string(UpdateTask), `{"taskId":1,`+nulls+`}`)
		if res.Success || res.Message != "No valid update fields provided." {
			t.Errorf("result = %+v", res)
		}
	})

	t.Run("only empty strings", func(t *testing.T) {
		r := newTestRegistry(t, true, sampleStore(), nil)
		args := strings.Replace(`{"taskId":1,`+nulls+`}`, `"comment":null`, `"comment":""`, 1)
		res := exec(t, r, string(UpdateTask), args)
		if res.Success || res.Message != "No valid update fields provided." {
			t.Errorf("result = %+v", res)
		}
	})

	t.Run("unknown task", func(t *testing.T) {
		r := newTestRegistry(t, true, sampleStore(), nil)
		args := strings.Replace(`{"taskId":9,`+nulls+`}`, `"status":null`, `"status":"Done"`, 1)
		res := exec(t, r, string(UpdateTask), args)
		if res.Success || res.Error != "Task 9 not found" {
			t.Errorf("result = %+v", res)
		}
	})

	t.Run("two phase", func(t *testing.T) {
		store := sampleStore()
		r := newTestRegistry(t, true, store, nil)
		args := strings.Replace(`{"taskId":2,`+nulls+`}`, `"storyPoints":null`, `"storyPoints":5`, 1)
		args = strings.Replace(args, `"comment":null`, `"comment":"blocked on review"`, 1)

		pending := exec(t, r, string(UpdateTask), args)
		if !pending.Pending || pending.Action != ConfirmUpdateTask {
			t.Fatalf("pending = %+v", pending)
		}
		for _, want := range []string{"Write copy", "- **Comment**: `blocked on review`", "- **TotalStoryPoints**: `5`"} {
			if !strings.Contains(pending.Message, want) {
				t.Errorf("preview missing %q:\n%s", want, pending.Message)
			}
		}

		done := exec(t, r, string(ConfirmUpdateTask), confirmArgs(t, pending))
		if !done.Success {
			t.Fatalf("confirm = %+v", done)
		}
		got, _ := store.Get(context.Background(), 2)
		if got.Comment != "blocked on review" || got.TotalStoryPoints != 5 || got.TaskName != "Write copy" {
			t.Errorf("stored = %+v", got)
		}
	})
}

func TestDelete_TwoPhase(t *testing.T) {
	store := sampleStore()
	r := newTestRegistry(t, true, store, nil)

	pending := exec(t, r, string(DeleteTask), `{"taskId":1}`)
	if !pending.Pending || pending.Action != ConfirmDeleteTask {
		t.Fatalf("pending = %+v", pending)
	}
	if !strings.Contains(pending.Message, "- **TaskName**: `Ship release`") {
		t.Errorf("preview = %s", pending.Message)
	}

	done := exec(t, r, string(ConfirmDeleteTask), confirmArgs(t, pending))
	if !done.Success {
		t.Fatalf("confirm = %+v", done)
	}
	if _, err := store.Get(context.Background(), 1); !errors.Is(err, tasks.ErrNotFound) {
		t.Errorf("task 1 still present: %v", err)
	}

	missing := exec(t, r, string(DeleteTask), `{"taskId":1}`)
	if missing.Success || missing.Error != "Task 1 not found" {
		t.Errorf("second proposal = %+v", missing)
	}
}

func TestReadTools(t *testing.T) {
	r := newTestRegistry(t, true, sampleStore(), nil)

	t.Run("all tasks", func(t *testing.T) {
		res := exec(t, r, string(GetAllTasks), `{}`)
		if list := res.Data.([]tasks.Task); len(list) != 2 {
			t.Errorf("got %d tasks", len(list))
		}
	})

	t.Run("overdue", func(t *testing.T) {
		res := exec(t, r, string(DetectOverdueTasks), `{}`)
		list := res.Data.([]tasks.Task)
		if len(list) != 1 || list[0].TaskID != 1 {
			t.Errorf("overdue = %+v", list)
		}
	})

	t.Run("weekly report", func(t *testing.T) {
		res := exec(t, r, string(GenerateWeeklyReport), `{}`)
		report := res.Data.(tasks.Report)
		if report.Summary != "Weekly summary: 1 tasks are overdue." {
			t.Errorf("summary = %q", report.Summary)
		}
		if report.OverdueBy["DevOps"] != 1 {
			t.Errorf("overdue by category = %v", report.OverdueBy)
		}
	})
}

func TestUpstreamFailure(t *testing.T) {
	store := &fakeTasks{err: errors.New("connection refused")}
	r := newTestRegistry(t, false, store, &fakePredictions{err: errors.New("503")})

	tests := []struct {
		tool Name
		args string
		want string
	}{
		{GetAllTasks, `{}`, "Failed to retrieve tasks"},
		{GenerateWeeklyReport, `{}`, "Failed to generate report"},
		{CreateTask, createArgs, "Failed to create task"},
		{GetLatenessPrediction, `{}`, "Failed to fetch lateness predictions"},
		{PerformRootCauseAnalysis, `{}`, "Failed to perform root cause analysis"},
	}
	for _, tt := range tests {
		t.Run(string(tt.tool), func(t *testing.T) {
			res := exec(t, r, string(tt.tool), tt.args)
			if res.Success || res.Error != tt.want {
				t.Errorf("result = %+v, want error %q", res, tt.want)
			}
			if !strings.Contains(res.JSON(), `"success":false`) {
				t.Errorf("JSON = %s", res.JSON())
			}
		})
	}
}

func TestPanicRecovered(t *testing.T) {
	r := newTestRegistry(t, true, &fakeTasks{panicky: true}, nil)
	res, err := r.Execute(context.Background(), string(GetAllTasks), `{}`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success || res.Error != "Failed to run getAllTasks" {
		t.Errorf("result = %+v", res)
	}
}

func TestPredictionTools(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		r := newTestRegistry(t, true, sampleStore(), nil)
		for _, tool := range []Name{GetLatenessPrediction, GenerateRecommendations, PerformRootCauseAnalysis, TrainModel} {
			res := exec(t, r, string(tool), `{}`)
			if res.Success || res.Error != noPredictionService {
				t.Errorf("%s: result = %+v", tool, res)
			}
		}
	})

	preds := &fakePredictions{
		lateness: []prediction.LatenessPrediction{
			{TaskID: 1, Probability: 72.44},
			{TaskID: 2, Probability: 12},
		},
		rootCause: prediction.RootCauseSummary{ReassignmentRatio: 0.5, AvgCommentLength: 40, OverduePercentage: 0.1},
	}
	r := newTestRegistry(t, true, sampleStore(), preds)

	t.Run("lateness", func(t *testing.T) {
		res := exec(t, r, string(GetLatenessPrediction), `{}`)
		views := res.Data.([]LatenessView)
		if len(views) != 1 || views[0].Percentage != "72.4%" {
			t.Errorf("views = %+v", views)
		}
	})

	t.Run("root cause", func(t *testing.T) {
		res := exec(t, r, string(PerformRootCauseAnalysis), `{}`)
		findings := res.Data.([]string)
		if len(findings) != 1 || !strings.HasPrefix(findings[0], "Frequent reassignments") {
			t.Errorf("findings = %v", findings)
		}
	})

	t.Run("reassignment for one task", func(t *testing.T) {
		res := exec(t, r, string(GetReassignmentSuggestion), `{"taskId":2}`)
		list := res.Data.([]prediction.Reassignment)
		if len(list) != 1 || list[0].TaskID != 2 {
			t.Errorf("suggestions = %+v", list)
		}
	})

	t.Run("reassignment for all tasks", func(t *testing.T) {
		res := exec(t, r, string(GetReassignmentSuggestion), `{"taskId":null}`)
		if !res.Success {
			t.Errorf("result = %+v", res)
		}
	})
}

func TestFilterLateness(t *testing.T) {
	tests := []struct {
		prob    float64
		keep    bool
		percent string
	}{
		{49.99, false, ""},
		{50, true, "50.0%"},
		{72.44, true, "72.4%"},
		{72.46, true, "72.5%"},
		{100, true, "100.0%"},
	}
	for _, tt := range tests {
		got := FilterLateness([]prediction.LatenessPrediction{{TaskID: 1, Probability: tt.prob}})
		if (len(got) == 1) != tt.keep {
			t.Errorf("prob %v: kept = %v, want %v", tt.prob, len(got) == 1, tt.keep)
			continue
		}
		if tt.keep && got[0].Percentage != tt.percent {
			t.Errorf("prob %v: percentage = %q, want %q", tt.prob, got[0].Percentage, tt.percent)
		}
	}
	if got := FilterLateness(nil); got == nil || len(got) != 0 {
		t.Errorf("FilterLateness(nil) = %#v, want empty slice", got)
	}
}

func TestRootCauses(t *testing.T) {
	tests := []struct {
		name    string
		summary prediction.RootCauseSummary
		want    []string
	}{
		{
			name:    "healthy",
			summary: prediction.RootCauseSummary{ReassignmentRatio: 0.3, AvgCommentLength: 20, OverduePercentage: 0.25},
			want:    []string{"No major root causes detected."},
		},
		{
			name:    "all rules",
			summary: prediction.RootCauseSummary{ReassignmentRatio: 0.31, AvgCommentLength: 19.5, OverduePercentage: 0.26},
			want:    []string{"Frequent reassignments", "Sparse task updates", "High overdue rate"},
		},
		{
			name:    "overdue only",
			summary: prediction.RootCauseSummary{ReassignmentRatio: 0.1, AvgCommentLength: 35, OverduePercentage: 0.4},
			want:    []string{"High overdue rate"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RootCauses(tt.summary)
			if len(got) != len(tt.want) {
				t.Fatalf("findings = %v", got)
			}
			for i := range got {
				if !strings.HasPrefix(got[i], tt.want[i]) {
					t.Errorf("finding %d = %q, want prefix %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSendNotification(t *testing.T) {
	n := &recordingNotifier{}
	r, err := NewRegistry(Deps{
		Tasks:    sampleStore(),
		Notifier: n,
		Logger:   quietLogger(),
		Now:      func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatal(err)
	}

	res := exec(t, r, string(SendNotification), `{"recipient":"Dana","message":"Task 3 is overdue","priority":"high"}`)
	if res.Data != `I have notified Dana about: "Task 3 is overdue"` {
		t.Errorf("data = %v", res.Data)
	}
	if len(n.got) != 1 || n.got[0].Priority != "high" || !n.got[0].SentAt.Equal(fixedNow) {
		t.Errorf("delivered = %+v", n.got)
	}

	n.err = errors.New("broker down")
	res = exec(t, r, string(SendNotification), `{"recipient":"Dana","message":"again","priority":"low"}`)
	if res.Success || res.Error != "Failed to send notification" {
		t.Errorf("result = %+v", res)
	}
}

func TestTrainModel_OutlivesRequest(t *testing.T) {
	preds := &fakePredictions{trainCtxErr: make(chan error, 1)}
	r := newTestRegistry(t, true, sampleStore(), preds)

	ctx, cancel := context.WithCancel(context.Background())
	res, err := r.Execute(ctx, string(TrainModel), `{}`)
	cancel()
	if err != nil || !res.Success {
		t.Fatalf("Execute = %+v, %v", res, err)
	}

	r.Wait()
	if err := <-preds.trainCtxErr; err != nil {
		t.Errorf("training context was cancelled with the request: %v", err)
	}
}
