package topology

import "github.com/jina-ai/gateway-streamer-go/wire"

// Filter applies an edge condition to a document set, keeping only
// documents the condition accepts. A nil condition accepts everything. If
// cond fails to evaluate on any document, Filter stops and returns that
// error; the caller is expected to turn it into a ConditionError outcome
// for the node rather than a partially-filtered doc set.
func Filter(docs wire.DocSet, cond Condition) (wire.DocSet, error) {
	if cond == nil {
		return docs, nil
	}
	out := make(wire.DocSet, 0, len(docs))
	for _, d := range docs {
		ok, err := cond(d)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// Reduce merges the document sets arriving on a node's incoming edges.
//
// branches must be given in edge-registration order (the order Build
// assigned EdgeIndex); the merge walks them in that order so "last write
// wins" has a single, deterministic meaning. If noReduce is true, branches
// are concatenated without id-keyed merge.
func Reduce(branches []wire.DocSet, noReduce bool) wire.DocSet {
	if noReduce {
		var out wire.DocSet
		for _, b := range branches {
			out = append(out, b...)
		}
		return out
	}

	var merged wire.DocSet
	index := make(map[string]int)
	for _, branch := range branches {
		for _, d := range branch {
			if i, ok := index[d.ID]; ok {
				merged[i] = mergeDoc(merged[i], d)
				continue
			}
			index[d.ID] = len(merged)
			merged = append(merged, d.Clone())
		}
	}
	return merged
}

// mergeDoc combines prior (earlier-arriving) with next (later-arriving):
// next's non-nil scalar attributes override prior's, next's embedding wins
// outright, and child lists concatenate.
func mergeDoc(prior, next *wire.Doc) *wire.Doc {
	out := prior.Clone()
	if out.Attributes == nil {
		out.Attributes = make(map[string]any)
	}
	for k, v := range next.Attributes {
		if v != nil {
			out.Attributes[k] = v
		}
	}
	if next.Embedding != nil {
		out.Embedding = append([]float32(nil), next.Embedding...)
	}
	out.Children = append(out.Children, next.Children...)
	return out
}
