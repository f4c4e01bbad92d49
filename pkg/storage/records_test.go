package storage

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/odvcencio/qaflow/pkg/types"
)

// stepClock returns a clock that advances one second per call.
func stepClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func seedProject(t *testing.T, store *Store) (*User, *types.Project) {
	t.Helper()
	user, err := store.EnsureUser("auth|alice", "alice@example.com")
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	project, err := store.CreateProject(user.ID, "Storefront")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	return user, project
}

func TestEnsureUserIsIdempotent(t *testing.T) {
	store := newTestStore(t)

	first, err := store.EnsureUser("auth|bob", "bob@example.com")
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	second, err := store.EnsureUser("auth|bob", "")
	if err != nil {
		t.Fatalf("EnsureUser again: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("ids differ: %s vs %s", first.ID, second.ID)
	}

	id, err := store.UserIDByAuthID("auth|bob")
	if err != nil || id != first.ID {
		t.Fatalf("UserIDByAuthID = %q, %v", id, err)
	}
	if _, err := store.UserIDByAuthID("auth|nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetUser("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.EnsureUser("  ", ""); err == nil {
		t.Fatal("expected empty auth id to be rejected")
	}
}

func TestTestCaseLifecycle(t *testing.T) {
	store := newTestStore(t)
	user, project := seedProject(t, store)

	tc := &types.TestCase{
		ProjectID: project.ID,
		DisplayID: "TC-7",
		TestCaseDefinition: types.TestCaseDefinition{
			Name:          "Checkout",
			Steps:         []types.Step{{ID: "s1", Target: "browser_1", Action: "open cart"}},
			BrowserConfig: map[string]types.BrowserConfig{"browser_1": {URL: "https://shop.test"}},
		},
	}
	if err := store.CreateTestCase(tc); err != nil {
		t.Fatalf("CreateTestCase: %v", err)
	}
	if tc.ID == "" || tc.Status != types.TestCaseDraft {
		t.Fatalf("unexpected created record: %+v", tc)
	}

	got, err := store.GetTestCase(tc.ID)
	if err != nil {
		t.Fatalf("GetTestCase: %v", err)
	}
	if got.Mode() != types.ModeBuilder || got.DisplayID != "TC-7" {
		t.Fatalf("loaded record = %+v", got)
	}

	got.Steps = nil
	got.BrowserConfig = nil
	got.URL = "https://shop.test"
	got.Prompt = "buy a hat"
	got.Status = types.TestCaseActive
	if err := store.UpdateTestCase(got); err != nil {
		t.Fatalf("UpdateTestCase: %v", err)
	}
	reloaded, err := store.GetTestCase(tc.ID)
	if err != nil {
		t.Fatalf("GetTestCase: %v", err)
	}
	if reloaded.Mode() != types.ModeSimple || reloaded.Prompt != "buy a hat" || reloaded.Status != types.TestCaseActive {
		t.Fatalf("update not persisted: %+v", reloaded)
	}

	missing := &types.TestCase{ID: "nope"}
	if err := store.UpdateTestCase(missing); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	list, err := store.ListTestCases(project.ID)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListTestCases = %v, %v", list, err)
	}
	projects, err := store.ListProjects(user.ID)
	if err != nil || len(projects) != 1 || projects[0].TestCaseCount != 1 {
		t.Fatalf("ListProjects = %+v, %v", projects, err)
	}
}

func TestGetTestCaseForCloneOrdersFilesNewestFirst(t *testing.T) {
	store := newTestStore(t)
	store.now = stepClock()
	user, project := seedProject(t, store)

	tc := &types.TestCase{ProjectID: project.ID, TestCaseDefinition: types.TestCaseDefinition{Name: "Login"}}
	if err := store.CreateTestCase(tc); err != nil {
		t.Fatalf("CreateTestCase: %v", err)
	}
	for _, name := range []string{"first.png", "second.pdf", "third.txt"} {
		f := &types.TestCaseFile{TestCaseID: tc.ID, Filename: name, StoredName: "stored-" + name}
		if err := store.CreateTestCaseFile(f); err != nil {
			t.Fatalf("CreateTestCaseFile: %v", err)
		}
	}

	src, err := store.GetTestCaseForClone(tc.ID)
	if err != nil {
		t.Fatalf("GetTestCaseForClone: %v", err)
	}
	if src.OwnerID != user.ID {
		t.Fatalf("owner = %q, want %q", src.OwnerID, user.ID)
	}
	var names []string
	for _, f := range src.Files {
		names = append(names, f.Filename)
	}
	want := []string{"third.txt", "second.pdf", "first.png"}
	if len(names) != len(want) {
		t.Fatalf("files = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("files = %v, want %v", names, want)
		}
	}

	if _, err := store.GetTestCaseForClone("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.CreateTestCaseFile(&types.TestCaseFile{TestCaseID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for orphan file, got %v", err)
	}
}

func TestCreateTestRunRoundTrip(t *testing.T) {
	store := newTestStore(t)
	_, project := seedProject(t, store)
	tc := &types.TestCase{ProjectID: project.ID, TestCaseDefinition: types.TestCaseDefinition{URL: "https://x", Prompt: "p"}}
	if err := store.CreateTestCase(tc); err != nil {
		t.Fatalf("CreateTestCase: %v", err)
	}

	ts := time.UnixMilli(1_700_000_000_000)
	outcome := types.RunOutcome{
		Status: types.StatusFail,
		Events: []types.RunEvent{
			types.NewLogEvent(types.LevelInfo, "step1", ts),
			types.NewScreenshotEvent("data:image/png;base64,AA", "after step1", ts),
		},
		Error:      "element not found",
		TestConfig: tc.Definition(),
	}
	run, err := store.CreateTestRun(tc.ID, outcome)
	if err != nil {
		t.Fatalf("CreateTestRun: %v", err)
	}

	runs, err := store.ListTestRuns(tc.ID)
	if err != nil || len(runs) != 1 {
		t.Fatalf("ListTestRuns = %v, %v", runs, err)
	}
	got := runs[0]
	if got.ID != run.ID || got.Status != types.StatusFail || got.Error != "element not found" {
		t.Fatalf("run = %+v", got)
	}
	if len(got.Events) != 2 || got.Events[1].Type() != types.EventScreenshot {
		t.Fatalf("events = %+v", got.Events)
	}
	if got.TestConfig.Prompt != "p" {
		t.Fatalf("test config = %+v", got.TestConfig)
	}

	if _, err := store.CreateTestRun(tc.ID, types.RunOutcome{Status: types.StatusRunning}); err == nil {
		t.Fatal("expected non-terminal status to be rejected")
	}
	if _, err := store.CreateTestRun("missing", types.RunOutcome{Status: types.StatusPass}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestObserversReceiveProjectScopedEvents(t *testing.T) {
	store := newTestStore(t)
	fixed := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	store.now = func() time.Time { return fixed }
	events := make(chan Event, 8)
	store.AddObserver(ObserverFunc(func(e Event) { events <- e }))

	_, project := seedProject(t, store)
	tc := &types.TestCase{ProjectID: project.ID}
	if err := store.CreateTestCase(tc); err != nil {
		t.Fatalf("CreateTestCase: %v", err)
	}

	seen := map[EventType]string{}
	deadline := time.After(2 * time.Second)
	for len(seen) < 2 {
		select {
		case e := <-events:
			seen[e.Type] = e.ProjectID
			if e.EntityID == "" || !e.Timestamp.Equal(fixed) {
				t.Fatalf("event %s: entity %q at %v", e.Type, e.EntityID, e.Timestamp)
			}
		case <-deadline:
			t.Fatalf("timed out, saw %v", seen)
		}
	}
	if seen[EventProjectCreated] != project.ID || seen[EventTestCaseCreated] != project.ID {
		t.Fatalf("events = %v", seen)
	}
}
