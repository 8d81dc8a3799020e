// Package topology builds the compiled DAG of executor deployments: static
// structure validated once at construction, and the per-request merge rule
// applied at every fan-in.
package topology

import (
	"fmt"
	"sort"
	"time"

	"github.com/jina-ai/gateway-streamer-go/wire"
)

// Start and End are the two synthetic sentinel node names every graph
// representation must use to mark the entry and exit points.
const (
	Start = "start-gateway"
	End   = "end-gateway"
)

// NodeKind classifies a node once the graph has been validated. Using a
// sum type here (rather than inferring floating-ness by walking edges at
// request time) keeps the per-request walker a pure lookup.
type NodeKind int

const (
	NodeStart NodeKind = iota
	NodeExec
	NodeEnd
	NodeFloating
)

func (k NodeKind) String() string {
	switch k {
	case NodeStart:
		return "start"
	case NodeExec:
		return "exec"
	case NodeEnd:
		return "end"
	case NodeFloating:
		return "floating"
	default:
		return "unknown"
	}
}

// Condition filters a single document; it is applied to every doc crossing
// an edge. A nil Condition always passes. A non-nil error return means the
// predicate itself failed to evaluate (not that the doc failed the
// predicate) — Filter reports that back to the caller so it can be
// surfaced as a ConditionError for the node.
type Condition func(*wire.Doc) (bool, error)

// Deployment is a named group of executor replicas plus the per-request
// metadata and reduction behavior applied when documents reach it.
type Deployment struct {
	Name        string
	Addresses   []string
	Metadata    map[string]string
	NoReduce    bool
	TimeoutSend time.Duration
}

// Edge is a directed link between two node names, optionally guarded by a
// Condition. EdgeIndex is assigned at Build time in registration order:
// source node names in sorted order, and each source's targets in the
// order listed. Incoming and Outgoing return edges in that order, which
// is the tie-break in fan-in reduction.
type Edge struct {
	From, To  string
	Condition Condition
	EdgeIndex int
}

// node is the internal, validated representation of one graph node.
type node struct {
	name        string
	kind        NodeKind
	deployment  *Deployment
	outgoing    []Edge
	incoming    []Edge
	predecessor map[string]bool
}

// Graph is the immutable, validated topology: built once per gateway and
// never mutated afterward. The zero value is not usable; construct with
// Build.
type Graph struct {
	nodes  map[string]*node
	layers [][]string // topological layers, Start first, End last
}

// ConstructionError reports a structural problem detected while building a
// Graph: a cycle, a dangling edge, or an edge referencing an unknown
// deployment. It is raised synchronously, never inside a request path.
type ConstructionError struct {
	Reason string
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("topology: %s", e.Reason)
}

// Build validates and compiles a graph representation into a Graph.
//
// representation maps a node name to the list of node names it points to,
// using Start/End as the sentinel source and sink. deployments supplies
// the Deployment record for every non-sentinel node name appearing in
// representation. conditions optionally supplies a Condition keyed by
// "from->to" edge; missing entries mean "always pass".
func Build(representation map[string][]string, deployments map[string]*Deployment, conditions map[string]Condition) (*Graph, error) {
	if _, ok := representation[Start]; !ok {
		return nil, &ConstructionError{Reason: "graph representation missing start node"}
	}

	nodes := make(map[string]*node)
	ensure := func(name string) *node {
		n, ok := nodes[name]
		if !ok {
			n = &node{name: name, predecessor: make(map[string]bool)}
			nodes[name] = n
		}
		return n
	}

	froms := make([]string, 0, len(representation))
	for from := range representation {
		froms = append(froms, from)
	}
	sort.Strings(froms)

	edgeIndex := 0
	for _, from := range froms {
		tos := representation[from]
		fromNode := ensure(from)
		for _, to := range tos {
			toNode := ensure(to)
			cond := conditions[from+"->"+to]
			e := Edge{From: from, To: to, Condition: cond, EdgeIndex: edgeIndex}
			edgeIndex++
			fromNode.outgoing = append(fromNode.outgoing, e)
			toNode.incoming = append(toNode.incoming, e)
			toNode.predecessor[from] = true
		}
	}

	for name, n := range nodes {
		switch name {
		case Start:
			n.kind = NodeStart
		case End:
			n.kind = NodeEnd
			if len(n.outgoing) != 0 {
				return nil, &ConstructionError{Reason: "end node must have no outgoing edges"}
			}
		default:
			dep, ok := deployments[name]
			if !ok {
				return nil, &ConstructionError{Reason: fmt.Sprintf("node %q has no deployment", name)}
			}
			n.deployment = dep
			n.kind = NodeExec
		}
	}

	layers, err := toposort(nodes)
	if err != nil {
		return nil, err
	}

	reachable := reachableFromStart(nodes)
	reachesEnd := reachesSink(nodes)
	for name, n := range nodes {
		if n.kind != NodeExec {
			continue
		}
		if !reachable[name] || !reachesEnd[name] {
			n.kind = NodeFloating
		}
	}

	return &Graph{nodes: nodes, layers: layers}, nil
}

func toposort(nodes map[string]*node) ([][]string, error) {
	indegree := make(map[string]int, len(nodes))
	for name, n := range nodes {
		indegree[name] = len(n.predecessor)
	}

	var layers [][]string
	remaining := len(nodes)
	for remaining > 0 {
		var layer []string
		for name, deg := range indegree {
			if deg == 0 {
				layer = append(layer, name)
			}
		}
		if len(layer) == 0 {
			return nil, &ConstructionError{Reason: "graph contains a cycle"}
		}
		for _, name := range layer {
			delete(indegree, name)
			remaining--
			for _, e := range nodes[name].outgoing {
				indegree[e.To]--
			}
		}
		layers = append(layers, layer)
	}
	return layers, nil
}

func reachableFromStart(nodes map[string]*node) map[string]bool {
	seen := map[string]bool{Start: true}
	queue := []string{Start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		n, ok := nodes[cur]
		if !ok {
			continue
		}
		for _, e := range n.outgoing {
			if !seen[e.To] {
				seen[e.To] = true
				queue = append(queue, e.To)
			}
		}
	}
	return seen
}

func reachesSink(nodes map[string]*node) map[string]bool {
	seen := map[string]bool{End: true}
	queue := []string{End}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		n, ok := nodes[cur]
		if !ok {
			continue
		}
		for _, e := range n.incoming {
			if !seen[e.From] {
				seen[e.From] = true
				queue = append(queue, e.From)
			}
		}
	}
	return seen
}

// Layers returns the topological layers of the graph, Start's layer first
// and End's layer last. Each layer is a set of node names that may be
// dispatched concurrently once every earlier layer has completed.
func (g *Graph) Layers() [][]string {
	return g.layers
}

// Kind reports the NodeKind of a node name, or false if the name is not in
// the graph.
func (g *Graph) Kind(name string) (NodeKind, bool) {
	n, ok := g.nodes[name]
	if !ok {
		return 0, false
	}
	return n.kind, true
}

// Deployment returns the Deployment record bound to an exec/floating node,
// or nil for sentinel nodes or unknown names.
func (g *Graph) Deployment(name string) *Deployment {
	n, ok := g.nodes[name]
	if !ok || n.deployment == nil {
		return nil
	}
	return n.deployment
}

// Outgoing returns the edges leaving a node, in registration order.
func (g *Graph) Outgoing(name string) []Edge {
	n, ok := g.nodes[name]
	if !ok {
		return nil
	}
	return n.outgoing
}

// Incoming returns the edges arriving at a node, in registration order.
func (g *Graph) Incoming(name string) []Edge {
	n, ok := g.nodes[name]
	if !ok {
		return nil
	}
	return n.incoming
}
