package graphdef_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/branchplan/pkg/branchplan"
	"github.com/randalmurphal/branchplan/pkg/branchplan/expr"
	"github.com/randalmurphal/branchplan/pkg/branchplan/graphdef"
)

const scoringYAML = `
name: scoring
vars:
  threshold: 90
  labels:
    high: premium
nodes:
  - id: source
    type: passthrough
  - id: switch
    type: switch
    condition: "score > ${threshold}"
  - id: high
    type: passthrough
  - id: low
    type: passthrough
  - id: label
    type: constant
    params:
      value: "${labels.high}"
  - id: merge
    type: merge
    inputs: [data1, data2]
    strategy: first
connections:
  - from: source.output
    to: switch.input_data
  - from: switch.true_output
    to: high.input_data
  - from: switch.false_output
    to: low.input_data
  - from: high.output
    to: merge.data1
  - from: low.output
    to: merge.data2
entries: [source, label]
`

func TestParseYAML(t *testing.T) {
	def, err := graphdef.ParseYAML([]byte(scoringYAML))
	require.NoError(t, err)

	assert.Equal(t, "scoring", def.Name)
	assert.Len(t, def.Nodes, 6)
	assert.Len(t, def.Connections, 5)
	assert.Equal(t, []string{"source", "label"}, def.Entries)
	assert.Equal(t, "first", def.Nodes[5].Strategy)
}

func TestParseYAML_UnknownField(t *testing.T) {
	_, err := graphdef.ParseYAML([]byte("name: x\nnodez: []\n"))
	require.Error(t, err)
}

func TestParseJSON(t *testing.T) {
	def, err := graphdef.ParseJSON([]byte(`{
		"name": "json",
		"nodes": [{"id": "a", "type": "passthrough"}, {"id": "b", "type": "passthrough"}],
		"connections": [{"from": "a.output", "to": "b.input_data", "path": "result.users"}]
	}`))
	require.NoError(t, err)
	assert.Equal(t, "result.users", def.Connections[0].Path)

	_, err = graphdef.ParseJSON([]byte(`{"name": "x", "extra": 1}`))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "graph.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(scoringYAML), 0o600))
	def, err := graphdef.Load(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "scoring", def.Name)

	jsonPath := filepath.Join(dir, "graph.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"name":"j","nodes":[],"connections":[]}`), 0o600))
	def, err = graphdef.Load(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "j", def.Name)

	txtPath := filepath.Join(dir, "graph.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte("x"), 0o600))
	_, err = graphdef.Load(txtPath)
	assert.ErrorIs(t, err, graphdef.ErrUnsupportedFormat)

	_, err = graphdef.Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestEncodeYAML_RoundTrip(t *testing.T) {
	def, err := graphdef.ParseYAML([]byte(scoringYAML))
	require.NoError(t, err)

	data, err := def.EncodeYAML()
	require.NoError(t, err)
	again, err := graphdef.ParseYAML(data)
	require.NoError(t, err)
	assert.Equal(t, def, again)
}

func TestBuild_RunsEndToEnd(t *testing.T) {
	def, err := graphdef.ParseYAML([]byte(scoringYAML))
	require.NoError(t, err)

	cg, err := graphdef.Build(def, nil)
	require.NoError(t, err)
	assert.Equal(t, "scoring", cg.Name())
	assert.Equal(t, []string{"source", "label"}, cg.Entries())

	rt := branchplan.NewRuntime(branchplan.WithMode(branchplan.ModeSkipBranches))
	res, err := rt.Execute(context.Background(), cg, map[string]branchplan.Values{
		"source": {branchplan.PortInput: map[string]any{"score": 95}},
	})
	require.NoError(t, err)

	assert.Equal(t, branchplan.ModeSkipBranches, res.Mode)
	assert.Contains(t, res.Outputs, "high")
	assert.NotContains(t, res.Outputs, "low")

	label, ok := res.Output("label", branchplan.PortOutput)
	require.True(t, ok)
	assert.Equal(t, "premium", label)

	merged, ok := res.Output("merge", branchplan.PortMerged)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"score": 95}, merged)
}

func TestBuild_VarsOverride(t *testing.T) {
	def, err := graphdef.ParseYAML([]byte(scoringYAML))
	require.NoError(t, err)

	cg, err := graphdef.Build(def, map[string]any{"threshold": 99})
	require.NoError(t, err)

	res, err := branchplan.NewRuntime().Execute(context.Background(), cg, map[string]branchplan.Values{
		"source": {branchplan.PortInput: map[string]any{"score": 95}},
	})
	require.NoError(t, err)
	_, highRan := res.Output("high", branchplan.PortOutput)
	_, lowRan := res.Output("low", branchplan.PortOutput)
	assert.False(t, highRan)
	assert.True(t, lowRan)
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name string
		def  graphdef.Definition
		want error
	}{
		{
			name: "unknown type",
			def:  graphdef.Definition{Nodes: []graphdef.NodeDef{{ID: "a", Type: "teleport"}}},
			want: graphdef.ErrUnknownNodeType,
		},
		{
			name: "missing id",
			def:  graphdef.Definition{Nodes: []graphdef.NodeDef{{Type: "passthrough"}}},
			want: graphdef.ErrInvalidNode,
		},
		{
			name: "dotted id",
			def:  graphdef.Definition{Nodes: []graphdef.NodeDef{{ID: "a.b", Type: "passthrough"}}},
			want: graphdef.ErrInvalidNode,
		},
		{
			name: "duplicate id",
			def: graphdef.Definition{Nodes: []graphdef.NodeDef{
				{ID: "a", Type: "passthrough"}, {ID: "a", Type: "passthrough"},
			}},
			want: graphdef.ErrInvalidNode,
		},
		{
			name: "switch without condition",
			def:  graphdef.Definition{Nodes: []graphdef.NodeDef{{ID: "s", Type: "switch"}}},
			want: graphdef.ErrInvalidNode,
		},
		{
			name: "malformed condition",
			def:  graphdef.Definition{Nodes: []graphdef.NodeDef{{ID: "s", Type: "switch", Condition: "score = 1"}}},
			want: expr.ErrSyntax,
		},
		{
			name: "bad merge strategy",
			def:  graphdef.Definition{Nodes: []graphdef.NodeDef{{ID: "m", Type: "merge", Strategy: "zip"}}},
			want: graphdef.ErrInvalidNode,
		},
		{
			name: "bad endpoint",
			def: graphdef.Definition{
				Nodes:       []graphdef.NodeDef{{ID: "a", Type: "passthrough"}},
				Connections: []graphdef.ConnectionDef{{From: "a", To: "a.input_data"}},
			},
			want: graphdef.ErrInvalidEndpoint,
		},
		{
			name: "undefined variable",
			def: graphdef.Definition{Nodes: []graphdef.NodeDef{
				{ID: "s", Type: "switch", Condition: "x > ${limit}"},
			}},
			want: graphdef.ErrUndefinedVar,
		},
		{
			name: "dangling connection",
			def: graphdef.Definition{
				Nodes:       []graphdef.NodeDef{{ID: "a", Type: "passthrough"}},
				Connections: []graphdef.ConnectionDef{{From: "a.output", To: "ghost.input_data"}},
			},
			want: branchplan.ErrNodeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := graphdef.Build(&tt.def, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestBuild_ReportsAllProblems(t *testing.T) {
	def := &graphdef.Definition{
		Nodes: []graphdef.NodeDef{
			{ID: "a", Type: "teleport"},
			{ID: "b", Type: "switch", Condition: "${x} > ${y}"},
		},
	}
	_, err := graphdef.Build(def, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, graphdef.ErrUnknownNodeType)

	var undefined *graphdef.UndefinedVariableError
	require.True(t, errors.As(err, &undefined))
	assert.Equal(t, []string{"x", "y"}, undefined.Names)
}

func TestBuilder_CustomType(t *testing.T) {
	b := graphdef.NewBuilder()
	b.Register("double", func(def graphdef.NodeDef) (branchplan.Node, error) {
		return branchplan.NewNode(def.ID, nil, nil,
			func(_ branchplan.Context, in branchplan.Inputs) (branchplan.Values, error) {
				v, _ := in.Get(branchplan.PortInput)
				return branchplan.Values{branchplan.PortOutput: v.(int) * 2}, nil
			}), nil
	})
	assert.Equal(t, []string{"case_switch", "constant", "double", "merge", "passthrough", "switch"}, b.Types())

	cg, err := b.Build(&graphdef.Definition{
		Nodes: []graphdef.NodeDef{
			{ID: "seed", Type: "constant", Params: map[string]any{"value": 21}},
			{ID: "twice", Type: "double"},
		},
		Connections: []graphdef.ConnectionDef{{From: "seed.output", To: "twice.input_data"}},
	}, nil)
	require.NoError(t, err)

	res, err := branchplan.NewRuntime().Execute(context.Background(), cg, nil)
	require.NoError(t, err)
	v, ok := res.Output("twice", branchplan.PortOutput)
	require.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestBuilder_FactoryMustKeepID(t *testing.T) {
	b := graphdef.NewBuilder()
	b.Register("liar", func(graphdef.NodeDef) (branchplan.Node, error) {
		return branchplan.NewMerge("someone_else", nil), nil
	})
	_, err := b.Build(&graphdef.Definition{Nodes: []graphdef.NodeDef{{ID: "x", Type: "liar"}}}, nil)
	assert.ErrorIs(t, err, graphdef.ErrInvalidNode)
}

func TestBuilder_RegisterPanics(t *testing.T) {
	b := graphdef.NewBuilder()
	assert.Panics(t, func() { b.Register("", func(graphdef.NodeDef) (branchplan.Node, error) { return nil, nil }) })
	assert.Panics(t, func() { b.Register("x", nil) })
}

func TestBuild_CaseSwitchAndPath(t *testing.T) {
	def := &graphdef.Definition{
		Nodes: []graphdef.NodeDef{
			{ID: "source", Type: "passthrough"},
			{ID: "route", Type: "case_switch", Field: "user.tier", Cases: []string{"gold", "silver"}},
			{ID: "gold", Type: "passthrough"},
			{ID: "other", Type: "passthrough"},
		},
		Connections: []graphdef.ConnectionDef{
			{From: "source.output", To: "route.input_data"},
			{From: "route.case_gold", To: "gold.input_data", Path: "user.name"},
			{From: "route.default", To: "other.input_data"},
		},
	}
	cg, err := graphdef.Build(def, nil)
	require.NoError(t, err)

	res, err := branchplan.NewRuntime(branchplan.WithMode(branchplan.ModeSkipBranches)).
		Execute(context.Background(), cg, map[string]branchplan.Values{
			"source": {branchplan.PortInput: map[string]any{
				"user": map[string]any{"tier": "gold", "name": "ada"},
			}},
		})
	require.NoError(t, err)

	name, ok := res.Output("gold", branchplan.PortOutput)
	require.True(t, ok)
	assert.Equal(t, "ada", name)
	assert.NotContains(t, res.Outputs, "other")
}
