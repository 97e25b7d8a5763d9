package task

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opspilot/internal/agent"
	"opspilot/internal/orchestrator"
	"opspilot/internal/remedy"
)

func testRunnerPipeline() *orchestrator.Pipeline {
	return orchestrator.New(
		agent.NewPlanner(nil, nil),
		agent.NewKnowledge(nil, nil, nil, nil, nil),
		agent.NewReasoning(nil, nil),
		agent.NewExecutor(&remedy.SimulatedRunner{}, nil),
		nil,
		orchestrator.MustNewMetrics(prometheus.NewRegistry()),
		nil,
	)
}

type captureSink struct {
	messages []agent.Message
	records  []*Record
}

func (s *captureSink) PublishMessage(taskID string, msg agent.Message) {
	s.messages = append(s.messages, msg)
}

func (s *captureSink) PublishRecord(rec *Record) {
	s.records = append(s.records, rec)
}

type captureStore struct {
	saved []*Record
}

func (s *captureStore) SaveTaskSnapshot(ctx context.Context, rec *Record) error {
	s.saved = append(s.saved, rec)
	return nil
}

func TestRunnerCompletesTroubleshootingRun(t *testing.T) {
	tracker := NewTracker(testAgents, nil)
	sink := &captureSink{}
	store := &captureStore{}
	r := NewRunner(testRunnerPipeline(), tracker, sink, store, time.Minute, nil)

	rec := tracker.CreateTask("user-1", "checkout is down with 503 errors and restarts")
	r.run(context.Background(), rec.TaskID, "checkout is down with 503 errors and restarts", "checkout")

	snap, ok := tracker.Snapshot(rec.TaskID)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, 1.0, snap.OverallProgress)
	require.NotNil(t, snap.StartedAt)
	require.NotNil(t, snap.CompletedAt)

	require.NotEmpty(t, snap.FinalResult)
	var result map[string]interface{}
	require.NoError(t, json.Unmarshal(snap.FinalResult, &result))

	require.Len(t, snap.PlanningSessions, 1)
	session := snap.PlanningSessions[0]
	assert.Equal(t, SessionExecuting, session.Status)
	require.NotNil(t, session.ClosedAt)

	stepNames := make(map[string]PlanStepStatus)
	for _, step := range session.Steps {
		stepNames[step.Name] = step.Status
	}
	for _, name := range []string{"gather-knowledge", "analyze-causes", "apply-remedies"} {
		assert.Equal(t, StepCompleted, stepNames[name], "step %s", name)
	}

	for id, a := range snap.Agents {
		assert.Equal(t, AgentDone, a.Status, "agent %s", id)
	}

	assert.NotEmpty(t, snap.IntermediateConclusions,
		"agent answers must surface as intermediate conclusions")
	for _, c := range snap.IntermediateConclusions {
		assert.NotEqual(t, agent.SystemAgentID, c.AgentID)
	}

	assert.NotEmpty(t, sink.messages, "every streamed message goes to the sink")
	require.NotEmpty(t, sink.records)
	assert.Equal(t, StatusCompleted, sink.records[len(sink.records)-1].Status)

	require.NotEmpty(t, store.saved)
	assert.Equal(t, StatusCompleted, store.saved[len(store.saved)-1].Status)
}

func TestRunnerKnowledgeRunSkipsExecutorStep(t *testing.T) {
	tracker := NewTracker(testAgents, nil)
	r := NewRunner(testRunnerPipeline(), tracker, nil, nil, time.Minute, nil)

	rec := tracker.CreateTask("u", "what is our retention policy for audit logs")
	r.run(context.Background(), rec.TaskID, "what is our retention policy for audit logs", "")

	snap, _ := tracker.Snapshot(rec.TaskID)
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, AgentWaiting, snap.Agents["executor"].Status,
		"knowledge queries never reach the executor")

	session := snap.PlanningSessions[0]
	for _, step := range session.Steps {
		assert.NotEqual(t, "apply-remedies", step.Name)
	}
}

func TestRunnerFailsOnCancelledContext(t *testing.T) {
	tracker := NewTracker(testAgents, nil)
	r := NewRunner(testRunnerPipeline(), tracker, nil, nil, time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := tracker.CreateTask("u", "checkout 503")
	r.run(ctx, rec.TaskID, "checkout 503", "")

	snap, _ := tracker.Snapshot(rec.TaskID)
	assert.Equal(t, StatusFailed, snap.Status)
	assert.NotEmpty(t, snap.Error)
}

func TestRunnerLeavesInterruptedRecordAlone(t *testing.T) {
	tracker := NewTracker(testAgents, nil)
	sink := &captureSink{}
	store := &captureStore{}
	r := NewRunner(testRunnerPipeline(), tracker, sink, store, time.Minute, nil)

	rec := tracker.CreateTask("u", "checkout 503")
	require.NoError(t, tracker.Interrupt(rec.TaskID, "operator stop"))

	r.run(context.Background(), rec.TaskID, "checkout 503", "")

	snap, _ := tracker.Snapshot(rec.TaskID)
	assert.Equal(t, StatusInterrupted, snap.Status, "a frozen record must survive the job draining")
	require.NotEmpty(t, store.saved)
	assert.Equal(t, StatusInterrupted, store.saved[len(store.saved)-1].Status)

	// Stream subscribers close on the terminal record, so the drained job
	// must still publish it.
	require.NotEmpty(t, sink.records, "terminal record must reach the sink")
	assert.Equal(t, StatusInterrupted, sink.records[len(sink.records)-1].Status)
}

func TestRunnerLaunchDetachesFromRequestContext(t *testing.T) {
	tracker := NewTracker(testAgents, nil)
	r := NewRunner(testRunnerPipeline(), tracker, nil, nil, time.Minute, nil)

	reqCtx, cancelReq := context.WithCancel(context.Background())
	rec := r.Launch(reqCtx, "u", "checkout is down with 503 errors", "checkout")
	cancelReq()

	deadline := time.After(5 * time.Second)
	for {
		snap, ok := tracker.Snapshot(rec.TaskID)
		require.True(t, ok)
		if snap.Status.Terminal() {
			assert.Equal(t, StatusCompleted, snap.Status,
				"the job must outlive the request that launched it")
			return
		}
		select {
		case <-deadline:
			t.Fatalf("job never finished, status %s", snap.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestStageRunnerQuickFlow(t *testing.T) {
	stages := NewStageTracker(nil)
	r := NewStageRunner(testRunnerPipeline(), stages, time.Minute, nil)

	rec := stages.CreateTask("u", "checkout is down with 503 errors and restarts")
	r.run(context.Background(), rec.TaskID, "checkout is down with 503 errors and restarts", "checkout")

	snap, ok := stages.Snapshot(rec.TaskID)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, 1.0, snap.OverallProgress)
	assert.NotEmpty(t, snap.Result)

	byName := make(map[string]Stage)
	for _, s := range snap.Stages {
		byName[s.Name] = s
	}
	for _, name := range []string{"entity_extraction", "retrieval", "topology_lookup", "agent_reasoning", "result_formatting"} {
		assert.Equal(t, StageCompleted, byName[name].Status, "stage %s", name)
	}
}

func TestStageRunnerCancelledRunFails(t *testing.T) {
	stages := NewStageTracker(nil)
	r := NewStageRunner(testRunnerPipeline(), stages, time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := stages.CreateTask("u", "checkout 503")
	r.run(ctx, rec.TaskID, "checkout 503", "")

	snap, _ := stages.Snapshot(rec.TaskID)
	assert.Equal(t, StatusFailed, snap.Status)
	assert.NotEmpty(t, snap.Error)
}
