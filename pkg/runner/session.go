// Package runner drives one test run at a time: it saves the definition,
// starts the run, follows the event stream and records exactly one outcome.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/odvcencio/qaflow/pkg/errors"
	"github.com/odvcencio/qaflow/pkg/sse"
	"github.com/odvcencio/qaflow/pkg/types"
)

const (
	CancelledMessage  = "Test was cancelled by user"
	TerminatedMessage = "Test run terminated unexpectedly (possibly timed out)"
)

// ErrRunInFlight is returned by Run while another run of the same session is active.
var ErrRunInFlight = errors.New("runner: a run is already in flight")

// API is the server surface a session talks to.
type API interface {
	GetTestCase(ctx context.Context, id string) (*types.TestCase, error)
	GetProject(ctx context.Context, id string) (*types.Project, error)
	UpdateTestCase(ctx context.Context, id string, def types.TestCaseDefinition) error
	CreateTestCase(ctx context.Context, projectID string, def types.TestCaseDefinition) (string, error)
	RunTest(ctx context.Context, def types.TestCaseDefinition) (io.ReadCloser, error)
	SaveRun(ctx context.Context, testCaseID string, outcome types.RunOutcome) error
}

// Options tunes a Session.
type Options struct {
	Now    func() time.Time
	Logger *slog.Logger
	// RenameInPlace sends a name-only change of an existing test case as an
	// update. By default any rename forks a new record. Mode changes always fork.
	// Set it when a name-only edit must update the existing record in place.
	RenameInPlace bool
	// OnChange receives a copy of the live result after every state change.
	// It is called without the session lock held, from the goroutine running Run.
	OnChange func(Result)
}

// Result is the live view of a session.
type Result struct {
	Status      types.RunStatus
	Events      []types.RunEvent
	Error       string
	Loading     bool
	TestCaseID  string
	ProjectName string
}

func (r Result) clone() Result {
	r.Events = append([]types.RunEvent(nil), r.Events...)
	return r
}

// Session is the run state machine: IDLE, then RUNNING, then one of PASS,
// FAIL or CANCELLED until the next Run.
type Session struct {
	api    API
	loc    Location
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	result   Result
	running  bool
	cancel   context.CancelFunc
	aborted  bool
	snapshot []types.RunEvent

	// definition state as of the last load or create
	originalName  string
	originalMode  types.Mode
	caseProjectID string
}

// New creates an idle session.
func New(api API, loc Location, opts Options) *Session {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		api:    api,
		loc:    loc,
		opts:   opts,
		logger: logger,
		result: Result{Status: types.StatusIdle, TestCaseID: loc.Query().TestCaseID},
	}
}

// Result returns a copy of the live view.
func (s *Session) Result() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result.clone()
}

// Load prefetches what the location points at and returns the definition
// to prefill, if any. Failures are logged and leave the session usable.
func (s *Session) Load(ctx context.Context) (types.TestCaseDefinition, bool) {
	q := s.loc.Query()

	var (
		initial        types.TestCaseDefinition
		found          bool
		projectForName = q.ProjectID
	)
	switch {
	case q.TestCaseID != "":
		tc, err := s.api.GetTestCase(ctx, q.TestCaseID)
		if err != nil {
			s.logger.Warn("failed to fetch test case", "test_case_id", q.TestCaseID, "error", err)
			break
		}
		initial, found = tc.Definition(), true
		s.mu.Lock()
		s.originalName = tc.Name
		s.originalMode = tc.Mode()
		s.caseProjectID = tc.ProjectID
		s.mu.Unlock()
		if projectForName == "" {
			projectForName = tc.ProjectID
		}
	case q.Name != "":
		initial, found = types.TestCaseDefinition{Name: q.Name}, true
	}

	if projectForName != "" {
		project, err := s.api.GetProject(ctx, projectForName)
		if err != nil {
			s.logger.Warn("failed to fetch project", "project_id", projectForName, "error", err)
		} else {
			s.update(func(r *Result) { r.ProjectName = project.Name })
		}
	}
	return initial, found
}

// Cancel aborts the in-flight run. Events already received are kept; events
// arriving afterwards are dropped. It reports whether a run was in flight.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.cancel == nil {
		return false
	}
	s.abortLocked()
	return true
}

// abortLocked freezes the event snapshot and cancels the run. s.mu must be held.
func (s *Session) abortLocked() {
	if s.aborted {
		return
	}
	s.aborted = true
	s.snapshot = append([]types.RunEvent(nil), s.result.Events...)
	s.cancel()
}

// Run saves def where appropriate, executes it and records the outcome. The
// returned error is non-nil only when the run could not start or execute;
// a FAIL reported by the engine is a successful Run with a FAIL status.
func (s *Session) Run(ctx context.Context, def types.TestCaseDefinition) (Result, error) {
	def = def.Clone()

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return s.Result(), ErrRunInFlight
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.aborted = false
	s.snapshot = nil
	s.cancel = cancel
	s.result.Status = types.StatusRunning
	s.result.Events = nil
	s.result.Error = ""
	s.result.Loading = true
	s.mu.Unlock()
	s.changed()

	defer func() {
		cancel()
		s.mu.Lock()
		s.running = false
		s.cancel = nil
		s.result.Loading = false
		s.mu.Unlock()
		s.changed()
	}()

	testCaseID, err := s.persistDefinition(runCtx, def)
	if err != nil && s.abortedBy(runCtx) {
		outcome := s.cancelledOutcome(def)
		if id := s.loc.Query().TestCaseID; id != "" {
			s.saveOutcome(ctx, id, outcome)
		}
		return s.Result(), nil
	}
	if err != nil {
		s.logger.Error("failed to save test case", "error", err)
		s.update(func(r *Result) {
			r.Status = types.StatusFail
			r.Events = nil
			r.Error = err.Public()
		})
		return s.Result(), err
	}

	outcome, runErr := s.execute(runCtx, def)
	if testCaseID != "" {
		s.saveOutcome(ctx, testCaseID, outcome)
	}
	return s.Result(), runErr
}

// persistDefinition updates, creates or skips the stored definition and
// returns the id the outcome belongs to.
func (s *Session) persistDefinition(ctx context.Context, def types.TestCaseDefinition) (string, *apperrors.Error) {
	q := s.loc.Query()
	mode := def.Mode()

	s.mu.Lock()
	nameChanged := s.originalName != "" && def.Name != "" && def.Name != s.originalName
	modeChanged := s.originalMode != "" && mode != s.originalMode
	projectID := q.ProjectID
	if projectID == "" {
		projectID = s.caseProjectID
	}
	s.mu.Unlock()

	fork := modeChanged || (nameChanged && !s.opts.RenameInPlace)

	switch {
	case q.TestCaseID != "" && !fork:
		if err := s.api.UpdateTestCase(ctx, q.TestCaseID, def); err != nil {
			return "", apperrors.Wrap(err, apperrors.ErrCodePersistence, "update test case").
				WithContext("test_case_id", q.TestCaseID).
				WithUserMessage(fmt.Sprintf("Failed to save test case: %s", publicMessage(err)))
		}
		if nameChanged {
			s.mu.Lock()
			s.originalName = def.Name
			s.mu.Unlock()
		}
		return q.TestCaseID, nil

	case (q.TestCaseID != "" && fork) || (q.TestCaseID == "" && q.ProjectID != "" && def.Name != ""):
		if projectID == "" {
			return q.TestCaseID, nil
		}
		id, err := s.api.CreateTestCase(ctx, projectID, def)
		if err != nil {
			return "", apperrors.Wrap(err, apperrors.ErrCodePersistence, "create test case").
				WithContext("project_id", projectID).
				WithUserMessage(fmt.Sprintf("Failed to create test case: %s", publicMessage(err)))
		}
		s.mu.Lock()
		s.originalName = def.Name
		s.originalMode = mode
		s.caseProjectID = projectID
		s.mu.Unlock()
		s.loc.Replace(Query{TestCaseID: id, ProjectID: projectID})
		s.update(func(r *Result) { r.TestCaseID = id })
		return id, nil
	}

	// Nothing to save against; run anyway.
	return "", nil
}

// execute runs def and follows its stream to one of the terminal outcomes.
func (s *Session) execute(ctx context.Context, def types.TestCaseDefinition) (types.RunOutcome, error) {
	body, err := s.api.RunTest(ctx, def)
	if err == nil && body == nil {
		err = errors.New("No response body")
	}
	if err != nil {
		if s.abortedBy(ctx) {
			return s.cancelledOutcome(def), nil
		}
		return s.failedOutcome(def, err)
	}
	defer body.Close()
	stop := context.AfterFunc(ctx, func() { _ = body.Close() })
	defer stop()

	var (
		finalStatus types.RunStatus
		finalError  string
	)
	dec := sse.NewDecoder(body)
	for {
		record, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if s.abortedBy(ctx) {
				return s.cancelledOutcome(def), nil
			}
			return s.failedOutcome(def, err)
		}

		data, ok := sse.Data(record)
		if !ok {
			continue
		}
		msg, err := types.ParseStreamMessage([]byte(data))
		if err != nil {
			s.logger.Warn("skipping malformed stream record",
				"error", apperrors.Wrap(err, apperrors.ErrCodeStreamParse, "parse record"),
				"record", truncate(data, 200),
			)
			continue
		}

		switch msg.Kind {
		case types.StreamEvent:
			ev := msg.Event
			ev.Timestamp = s.opts.Now()
			s.mu.Lock()
			if s.aborted {
				s.mu.Unlock()
				continue
			}
			s.result.Events = append(s.result.Events, ev)
			s.mu.Unlock()
			s.changed()
		case types.StreamStatus:
			if msg.Status.IsTerminal() {
				finalStatus, finalError = msg.Status, msg.Error
			}
			s.mu.Lock()
			if !s.aborted {
				s.result.Status = msg.Status
				s.result.Error = msg.Error
			}
			s.mu.Unlock()
			s.changed()
		default:
			s.logger.Debug("ignoring stream record", "type", msg.Type)
		}
	}

	if s.abortedBy(ctx) {
		return s.cancelledOutcome(def), nil
	}
	if finalStatus == "" {
		finalStatus, finalError = types.StatusFail, TerminatedMessage
		s.logger.Warn("run stream ended without a status",
			"error", apperrors.New(apperrors.ErrCodeUnexpectedTermination, TerminatedMessage))
	}

	s.mu.Lock()
	s.result.Status = finalStatus
	s.result.Error = finalError
	events := copyEvents(s.result.Events)
	s.mu.Unlock()
	s.changed()

	return types.RunOutcome{Status: finalStatus, Events: events, Error: finalError, TestConfig: def}, nil
}

// abortedBy reports whether the run was cancelled, by Cancel or by the
// caller's context, freezing the snapshot in the latter case.
func (s *Session) abortedBy(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aborted {
		return true
	}
	if ctx.Err() != nil {
		s.abortLocked()
		return true
	}
	return false
}

func (s *Session) cancelledOutcome(def types.TestCaseDefinition) types.RunOutcome {
	s.mu.Lock()
	events := copyEvents(s.snapshot)
	s.result.Status = types.StatusCancelled
	s.result.Events = copyEvents(events)
	s.result.Error = CancelledMessage
	s.mu.Unlock()
	s.changed()

	return types.RunOutcome{
		Status:     types.StatusCancelled,
		Events:     events,
		Error:      CancelledMessage,
		TestConfig: def,
	}
}

func (s *Session) failedOutcome(def types.TestCaseDefinition, err error) (types.RunOutcome, error) {
	msg := publicMessage(err)
	s.update(func(r *Result) {
		r.Status = types.StatusFail
		r.Error = msg
	})
	s.logger.Error("test run failed", "error", err)

	outcome := types.RunOutcome{
		Status:     types.StatusFail,
		Events:     []types.RunEvent{},
		Error:      msg,
		TestConfig: def,
	}
	if !apperrors.IsCode(err, apperrors.ErrCodeExecution) {
		err = apperrors.Wrap(err, apperrors.ErrCodeExecution, "run test")
	}
	return outcome, err
}

// saveOutcome records the outcome once, even when ctx has been cancelled.
func (s *Session) saveOutcome(ctx context.Context, testCaseID string, outcome types.RunOutcome) {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := s.api.SaveRun(saveCtx, testCaseID, outcome); err != nil {
		s.logger.Error("failed to save test run",
			"test_case_id", testCaseID,
			"status", outcome.Status,
			"error", err,
		)
	}
}

func (s *Session) update(fn func(*Result)) {
	s.mu.Lock()
	fn(&s.result)
	s.mu.Unlock()
	s.changed()
}

func (s *Session) changed() {
	if s.opts.OnChange == nil {
		return
	}
	s.opts.OnChange(s.Result())
}

func publicMessage(err error) string {
	if appErr, ok := apperrors.As(err); ok {
		if appErr.UserMessage != "" {
			return appErr.UserMessage
		}
		if appErr.Underlying != nil {
			return appErr.Message + ": " + appErr.Underlying.Error()
		}
		return appErr.Message
	}
	return err.Error()
}

func copyEvents(events []types.RunEvent) []types.RunEvent {
	out := make([]types.RunEvent, len(events))
	copy(out, events)
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
