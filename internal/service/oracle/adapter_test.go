package oracle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/model"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/ratelimit"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeGenerator struct {
	model   string
	payload map[string]any
	err     error
	block   bool
	calls   atomic.Int32
}

func (f *fakeGenerator) Model() string { return f.model }

func (f *fakeGenerator) Generate(ctx context.Context, _ Request) (map[string]any, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.payload, f.err
}

type recordingLimiter struct {
	mu    sync.Mutex
	keys  []string
	allow bool
	err   error
}

func (l *recordingLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	return l.allow, l.err
}

func (l *recordingLimiter) Close() error { return nil }

func analysisRequest() Request {
	return Request{Kind: model.DecisionRunAnalysis, Prompt: "analyze"}
}

func TestAdapterWithoutPrimaryUsesFallback(t *testing.T) {
	a := NewAdapter(nil, nil, nil, time.Second, testutil.TestLogger())
	assert.False(t, a.External())

	for _, kind := range []model.DecisionType{
		model.DecisionTaskOptimization,
		model.DecisionRunAnalysis,
		model.DecisionFailureResponse,
		model.DecisionScalingRecommendation,
		model.DecisionCopilotChat,
	} {
		res := a.Generate(context.Background(), Request{Kind: kind})
		assert.Equal(t, SourceFallback, res.Source, kind)
		assert.NotEmpty(t, res.Payload, kind)
		assert.GreaterOrEqual(t, res.Latency, time.Duration(0))
	}
}

func TestAdapterExternalSuccess(t *testing.T) {
	primary := &fakeGenerator{model: "test-model", payload: map[string]any{"summary": "ok"}}
	limiter := &recordingLimiter{allow: true}
	a := NewAdapter(primary, RuleGenerator{}, limiter, time.Second, testutil.TestLogger())

	res := a.Generate(context.Background(), analysisRequest())

	assert.True(t, a.External())
	assert.Equal(t, SourceExternal, res.Source)
	assert.Equal(t, "ok", res.Payload["summary"])
	assert.Equal(t, []string{"oracle:test-model"}, limiter.keys)
}

func TestAdapterFallsBack(t *testing.T) {
	tests := []struct {
		name    string
		primary *fakeGenerator
		limiter ratelimit.Limiter
		calls   int32
	}{
		{
			name:    "generator error",
			primary: &fakeGenerator{err: errors.New("unreachable")},
			calls:   1,
		},
		{
			name:    "malformed reply",
			primary: &fakeGenerator{err: ErrMalformedResponse},
			calls:   1,
		},
		{
			name:    "empty payload",
			primary: &fakeGenerator{},
			calls:   1,
		},
		{
			name:    "timeout",
			primary: &fakeGenerator{block: true},
			calls:   1,
		},
		{
			name:    "rate limited",
			primary: &fakeGenerator{payload: map[string]any{"summary": "external"}},
			limiter: &recordingLimiter{allow: false},
			calls:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAdapter(tt.primary, RuleGenerator{}, tt.limiter, 20*time.Millisecond, testutil.TestLogger())

			res := a.Generate(context.Background(), analysisRequest())

			assert.Equal(t, SourceFallback, res.Source)
			assert.Contains(t, res.Payload, "recommendations")
			assert.Equal(t, tt.calls, tt.primary.calls.Load())
		})
	}
}

func TestAdapterTimeoutCountsTowardLatency(t *testing.T) {
	a := NewAdapter(&fakeGenerator{block: true}, nil, nil, 30*time.Millisecond, testutil.TestLogger())

	res := a.Generate(context.Background(), analysisRequest())

	assert.Equal(t, SourceFallback, res.Source)
	assert.GreaterOrEqual(t, res.Latency, 30*time.Millisecond)
}

func TestAdapterLimiterErrorFailsOpen(t *testing.T) {
	primary := &fakeGenerator{payload: map[string]any{"summary": "external"}}
	limiter := &recordingLimiter{err: errors.New("limiter down")}
	a := NewAdapter(primary, nil, limiter, time.Second, testutil.TestLogger())

	res := a.Generate(context.Background(), analysisRequest())

	assert.Equal(t, SourceExternal, res.Source)
	assert.Equal(t, "oracle:external", limiter.keys[0])
}

func TestAdapterLimiterKey(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"", "oracle:external"},
		{"gemini-2.0-flash", "oracle:gemini-2.0-flash"},
	}
	for _, tt := range tests {
		limiter := &recordingLimiter{}
		primary := &fakeGenerator{model: tt.model, payload: map[string]any{"summary": "external"}}
		a := NewAdapter(primary, nil, limiter, time.Second, testutil.TestLogger())

		a.Generate(context.Background(), analysisRequest())

		require.Len(t, limiter.keys, 1)
		assert.Equal(t, tt.want, limiter.keys[0], tt.model)
	}
}

func TestAdapterMemoryLimiterBurst(t *testing.T) {
	primary := &fakeGenerator{model: "m", payload: map[string]any{"summary": "external"}}
	limiter := ratelimit.NewMemoryLimiter(0.001, 2)
	defer func() { _ = limiter.Close() }()
	a := NewAdapter(primary, nil, limiter, time.Second, testutil.TestLogger())

	var sources []Source
	for range 3 {
		sources = append(sources, a.Generate(context.Background(), analysisRequest()).Source)
	}

	assert.Equal(t, []Source{SourceExternal, SourceExternal, SourceFallback}, sources)
	assert.Equal(t, int32(2), primary.calls.Load())
}

func TestAdapterConcurrentCallsAlwaysResolve(t *testing.T) {
	a := NewAdapter(&fakeGenerator{block: true}, nil, nil, 10*time.Millisecond, testutil.TestLogger())

	var wg sync.WaitGroup
	results := make([]Result, 20)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = a.Generate(context.Background(), analysisRequest())
		}()
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, SourceFallback, r.Source)
	}
}

func TestRuleGeneratorOptimizeUsesNearestEligibleRobot(t *testing.T) {
	t.Parallel()

	near := model.Robot{ID: uuid.New(), Name: "a", Status: model.RobotIdle, BatteryLevel: 80}
	drained := model.Robot{ID: uuid.New(), Name: "b", Status: model.RobotIdle, BatteryLevel: 10,
		Position: model.Point{X: 1, Y: 1}}
	task := model.Task{ID: uuid.New(), Priority: 5, Status: model.TaskPending, Origin: model.Point{X: 1, Y: 1}}

	payload, err := RuleGenerator{}.Generate(context.Background(), Request{
		Kind:   model.DecisionTaskOptimization,
		Robots: []model.Robot{near, drained},
		Tasks:  []model.Task{task},
	})
	require.NoError(t, err)

	assignments, ok := payload["assignments"].([]any)
	require.True(t, ok)
	require.Len(t, assignments, 1)
	first := assignments[0].(map[string]any)
	assert.Equal(t, task.ID.String(), first["task_id"])
	assert.Equal(t, near.ID.String(), first["robot_id"])
	assert.Equal(t, "nearest-first", payload["strategy"])
}

func TestRuleGeneratorFailureCarriesScenario(t *testing.T) {
	t.Parallel()

	payload, err := RuleGenerator{}.Generate(context.Background(), Request{
		Kind:     model.DecisionFailureResponse,
		Scenario: "robot_failure",
	})
	require.NoError(t, err)
	assert.Equal(t, "robot_failure", payload["scenario"])
	assert.Equal(t, "medium", payload["risk_level"])
}

func TestRuleGeneratorChatTopics(t *testing.T) {
	t.Parallel()

	tests := []struct {
		question string
		topic    chatTopic
		contains string
	}{
		{"Why is throughput low?", topicEfficiency, "No run has recorded metrics"},
		{"How can we do BETTER?", topicOptimize, "auto-optimize"},
		{"where can we save money", topicCost, "nearest-first"},
		{"any crashes today", topicFailure, "No failed tasks"},
		{"should we expand the fleet", topicScaling, "2 robots"},
		{"hello", topicStatus, "2 robots in the fleet, 1 idle."},
	}
	robots := []model.Robot{
		{Name: "a", Status: model.RobotIdle, BatteryLevel: 90},
		{Name: "b", Status: model.RobotCharging, BatteryLevel: 10},
	}
	for _, tt := range tests {
		payload, err := RuleGenerator{}.Generate(context.Background(), Request{
			Kind:     model.DecisionCopilotChat,
			Question: tt.question,
			Robots:   robots,
		})
		require.NoError(t, err)
		assert.Equal(t, string(tt.topic), payload["topic"], tt.question)
		assert.Contains(t, payload["response"], tt.contains, tt.question)
	}
}

func TestAdapterRejectsChatWithoutResponse(t *testing.T) {
	primary := &fakeGenerator{model: "m", payload: map[string]any{"response": "   "}}
	a := NewAdapter(primary, RuleGenerator{}, nil, time.Second, testutil.TestLogger())

	res := a.Generate(context.Background(), Request{Kind: model.DecisionCopilotChat, Question: "hi"})
	assert.Equal(t, SourceFallback, res.Source)
	assert.Equal(t, int32(1), primary.calls.Load())
	assert.NotEmpty(t, res.Payload["response"])
}

func TestConfidence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind     model.DecisionType
		external float64
		fallback float64
	}{
		{model.DecisionTaskOptimization, 0.92, 0.75},
		{model.DecisionRunAnalysis, 0.88, 0.70},
		{model.DecisionFailureResponse, 0.85, 0.65},
		{model.DecisionScalingRecommendation, 0.90, 0.70},
		{model.DecisionCopilotChat, 0.80, 0.60},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.external, confidence(tt.kind, SourceExternal), 1e-9, tt.kind)
		assert.InDelta(t, tt.fallback, confidence(tt.kind, SourceFallback), 1e-9, tt.kind)
		assert.Greater(t, confidence(tt.kind, SourceExternal), confidence(tt.kind, SourceFallback))
	}
}
