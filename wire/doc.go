// Package wire defines the data model the gateway core reads and writes:
// documents, requests, responses and the status/exception shapes carried
// between the client, the gateway and executor deployments.
package wire

// Doc is the unit of data the core fans out, merges and streams back. The
// core only ever looks at ID (reduction key), Attributes (scalar merge),
// Embedding (last-writer-wins merge) and Children (concatenation) —
// everything else is opaque payload.
type Doc struct {
	ID         string
	Attributes map[string]any
	Embedding  []float32
	Children   []*Doc
}

// Clone returns a deep-enough copy of d: Attributes is a new map, Embedding
// and Children are new slices. Doc values referenced by Children are not
// recursively cloned, matching the reduction rule's "child lists
// concatenate" semantics (the children themselves are not mutated by merge).
func (d *Doc) Clone() *Doc {
	if d == nil {
		return nil
	}
	out := &Doc{ID: d.ID}
	if d.Attributes != nil {
		out.Attributes = make(map[string]any, len(d.Attributes))
		for k, v := range d.Attributes {
			out.Attributes[k] = v
		}
	}
	if d.Embedding != nil {
		out.Embedding = append([]float32(nil), d.Embedding...)
	}
	if d.Children != nil {
		out.Children = append([]*Doc(nil), d.Children...)
	}
	return out
}

// DocSet is an ordered collection of documents, batched and merged as a
// unit. Order is preserved on construction; reduction may append new
// documents discovered only on a later branch.
type DocSet []*Doc

// ByID returns the index of the document with the given id, or -1.
func (s DocSet) ByID(id string) int {
	for i, d := range s {
		if d.ID == id {
			return i
		}
	}
	return -1
}

// Batch splits docs into chunks of at most size documents each, in order.
// Empty docs yield no batches. A size of zero or less puts all of docs in a
// single batch rather than failing, so the "request_size=0 fails at call
// time" boundary is not enforced here (callers must validate size before
// calling Batch; Batch itself just refuses to produce an infinite loop of
// empty batches).
func Batch(docs DocSet, size int) []DocSet {
	if size <= 0 || len(docs) == 0 {
		if len(docs) == 0 {
			return nil
		}
		return []DocSet{docs}
	}
	var batches []DocSet
	for i := 0; i < len(docs); i += size {
		end := i + size
		if end > len(docs) {
			end = len(docs)
		}
		batches = append(batches, docs[i:end])
	}
	return batches
}
