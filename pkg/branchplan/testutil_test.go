package branchplan

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// tracker records which node functions ran.
type tracker struct {
	mu  sync.Mutex
	ran []string
}

func (tr *tracker) record(id string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.ran = append(tr.ran, id)
}

func (tr *tracker) ranNodes() map[string]bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := make(map[string]bool, len(tr.ran))
	for _, id := range tr.ran {
		out[id] = true
	}
	return out
}

// forward is an ordinary node that tags and forwards its first live input.
func forward(id string, tr *tracker) *OrdinaryNode {
	return NewNode(id, nil, nil, func(ctx Context, in Inputs) (Values, error) {
		if tr != nil {
			tr.record(id)
		}
		for _, i := range in {
			if i.Live {
				return Values{PortOutput: i.Value}, nil
			}
		}
		return Values{PortOutput: id}, nil
	})
}

// constant is an entry node emitting v.
func constant(id string, v any) *OrdinaryNode {
	return NewNode(id, []string{}, nil, func(Context, Inputs) (Values, error) {
		return Values{PortOutput: v}, nil
	})
}

// scoringGraph is source -> switch(score > 90) -> {high, low}.
func scoringGraph(t *testing.T, tr *tracker) *CompiledGraph {
	t.Helper()
	cg, err := NewGraph().Named("scoring").
		AddNode(forward("source", tr)).
		AddNode(NewSwitch("switch", "score > 90")).
		AddNode(forward("high", tr)).
		AddNode(forward("low", tr)).
		Connect("source", PortOutput, "switch", PortInput).
		Connect("switch", PortTrue, "high", PortInput).
		Connect("switch", PortFalse, "low", PortInput).
		Compile()
	require.NoError(t, err)
	return cg
}

// mergeGraph extends scoringGraph with a merge fed by both processors and
// a sink after the merge.
func mergeGraph(t *testing.T, tr *tracker) *CompiledGraph {
	t.Helper()
	cg, err := NewGraph().Named("merge").
		AddNode(forward("source", tr)).
		AddNode(NewSwitch("switch", "score > 90")).
		AddNode(forward("high", tr)).
		AddNode(forward("low", tr)).
		AddNode(NewMerge("merge", []string{"data1", "data2"})).
		AddNode(forward("sink", tr)).
		Connect("source", PortOutput, "switch", PortInput).
		Connect("switch", PortTrue, "high", PortInput).
		Connect("switch", PortFalse, "low", PortInput).
		Connect("high", PortOutput, "merge", "data1").
		Connect("low", PortOutput, "merge", "data2").
		Connect("merge", PortMerged, "sink", PortInput).
		Compile()
	require.NoError(t, err)
	return cg
}

// cycleGraph is source -> A -> switch -> {true: A, false: done}.
func cycleGraph(t *testing.T, tr *tracker) *CompiledGraph {
	t.Helper()
	cg, err := NewGraph().Named("cycle").
		AddNode(forward("source", tr)).
		AddNode(forward("A", tr)).
		AddNode(NewSwitch("switch", "score > 90")).
		AddNode(forward("done", tr)).
		Connect("source", PortOutput, "A", PortInput).
		Connect("A", PortOutput, "switch", PortInput).
		Connect("switch", PortTrue, "A", PortInput).
		Connect("switch", PortFalse, "done", PortInput).
		SetEntry("source").
		Compile()
	require.NoError(t, err)
	return cg
}

// crossGraph has switch2 fed by switch1's case_A output:
//
//	source -> switch1 -case_A-> switch2 -{true,false}-> {yes, no}
//	                  -default-> other
func crossGraph(t *testing.T, tr *tracker) *CompiledGraph {
	t.Helper()
	cg, err := NewGraph().Named("cross").
		AddNode(forward("source", tr)).
		AddNode(NewCaseSwitch("switch1", "kind", "A")).
		AddNode(NewSwitch("switch2", "score > 90")).
		AddNode(forward("yes", tr)).
		AddNode(forward("no", tr)).
		AddNode(forward("other", tr)).
		Connect("source", PortOutput, "switch1", PortInput).
		Connect("switch1", CasePort("A"), "switch2", PortInput).
		Connect("switch1", PortDefault, "other", PortInput).
		Connect("switch2", PortTrue, "yes", PortInput).
		Connect("switch2", PortFalse, "no", PortInput).
		Compile()
	require.NoError(t, err)
	return cg
}

func scoreInput(score int) map[string]Values {
	return map[string]Values{"source": {PortInput: map[string]any{"score": score}}}
}

// taken builds a branch result with the given live ports.
func taken(ports ...string) BranchResult {
	r := BranchResult{}
	for _, p := range ports {
		r[p] = "value"
	}
	return r
}

// logCapture collects JSON log records.
type logCapture struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func newLogCapture() (*logCapture, *slog.Logger) {
	lc := &logCapture{}
	return lc, slog.New(slog.NewJSONHandler(lc, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func (lc *logCapture) Write(p []byte) (int, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.buf.Write(p)
}

func (lc *logCapture) records() []map[string]any {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	var out []map[string]any
	for _, line := range bytes.Split(lc.buf.Bytes(), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(line, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

func (lc *logCapture) messages() []string {
	var out []string
	for _, r := range lc.records() {
		if msg, ok := r["msg"].(string); ok {
			out = append(out, msg)
		}
	}
	return out
}

// quietRuntime returns a runtime that logs nowhere.
func quietRuntime(opts ...Option) *Runtime {
	_, logger := newLogCapture()
	return NewRuntime(append([]Option{WithLogger(logger)}, opts...)...)
}

func testCtx() context.Context {
	return context.Background()
}
