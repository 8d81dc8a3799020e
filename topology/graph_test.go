package topology

import (
	"fmt"
	"testing"

	"github.com/jina-ai/gateway-streamer-go/wire"
)

func TestBuild_Linear(t *testing.T) {
	rep := map[string][]string{
		Start: {"a"},
		"a":   {End},
	}
	deployments := map[string]*Deployment{
		"a": {Name: "a", Addresses: []string{"localhost:9000"}},
	}

	g, err := Build(rep, deployments, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	kind, ok := g.Kind("a")
	if !ok || kind != NodeExec {
		t.Errorf("expected node a to be NodeExec, got %v (ok=%v)", kind, ok)
	}

	if len(g.Layers()) != 3 {
		t.Errorf("expected 3 layers (start, a, end), got %d", len(g.Layers()))
	}
}

func TestBuild_CycleRejected(t *testing.T) {
	rep := map[string][]string{
		Start: {"a"},
		"a":   {"b"},
		"b":   {"a", End},
	}
	deployments := map[string]*Deployment{
		"a": {Name: "a"},
		"b": {Name: "b"},
	}

	_, err := Build(rep, deployments, nil)
	if err == nil {
		t.Fatal("expected cycle to be rejected")
	}
}

func TestBuild_FloatingNode(t *testing.T) {
	rep := map[string][]string{
		Start: {"a"},
		"a":   {End},
		"f":   {},
	}
	deployments := map[string]*Deployment{
		"a": {Name: "a"},
		"f": {Name: "f"},
	}

	g, err := Build(rep, deployments, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	kind, ok := g.Kind("f")
	if !ok || kind != NodeFloating {
		t.Errorf("expected node f to be floating, got %v (ok=%v)", kind, ok)
	}
}

func TestBuild_EndWithOutgoingRejected(t *testing.T) {
	rep := map[string][]string{
		Start: {"a"},
		"a":   {End},
		End:   {"a"},
	}
	deployments := map[string]*Deployment{"a": {Name: "a"}}

	if _, err := Build(rep, deployments, nil); err == nil {
		t.Fatal("expected end node with outgoing edges to be rejected")
	}
}

func TestReduce_IDKeyedMerge(t *testing.T) {
	a := wire.DocSet{{ID: "d1", Attributes: map[string]any{"src": "a"}}}
	b := wire.DocSet{{ID: "d1", Attributes: map[string]any{"src": "b"}}}

	merged := Reduce([]wire.DocSet{a, b}, false)
	if len(merged) != 1 {
		t.Fatalf("expected 1 merged doc, got %d", len(merged))
	}
	if merged[0].Attributes["src"] != "b" {
		t.Errorf("expected last-writer-wins src=b, got %v", merged[0].Attributes["src"])
	}
}

func TestReduce_NoReduceConcatenates(t *testing.T) {
	a := wire.DocSet{{ID: "d1"}}
	b := wire.DocSet{{ID: "d1"}}

	merged := Reduce([]wire.DocSet{a, b}, true)
	if len(merged) != 2 {
		t.Errorf("expected 2 docs when no_reduce, got %d", len(merged))
	}
}

func TestFilter_DropsRejected(t *testing.T) {
	docs := wire.DocSet{{ID: "d1"}, {ID: "d2"}}
	cond := func(d *wire.Doc) (bool, error) { return d.ID == "d1", nil }

	out, err := Filter(docs, cond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0].ID != "d1" {
		t.Errorf("expected only d1 to survive filter, got %v", out)
	}
}

func TestFilter_NilConditionPassesAll(t *testing.T) {
	docs := wire.DocSet{{ID: "d1"}, {ID: "d2"}}
	out, err := Filter(docs, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Errorf("expected nil condition to pass all docs, got %d", len(out))
	}
}

func TestFilter_PredicateErrorStopsAndReturnsError(t *testing.T) {
	docs := wire.DocSet{{ID: "d1"}, {ID: "d2"}}
	boom := fmt.Errorf("bad predicate")
	cond := func(d *wire.Doc) (bool, error) { return false, boom }

	_, err := Filter(docs, cond)
	if err == nil {
		t.Fatal("expected Filter to propagate a predicate error")
	}
}
