package firestorestore

import "shopops/internal/docstore"

// splitQuery separates the filters Firestore can evaluate with the same
// meaning as docstore.Query.Matches from those that must run client-side.
// Firestore's != skips documents that lack the field, while Matches keeps
// them, so inequality filters never go to the server. When anything is left
// for the client the limit is applied after filtering as well.
func splitQuery(q docstore.Query) (server, client docstore.Query) {
	server = docstore.Query{Collection: q.Collection, DocID: q.DocID, Limit: q.Limit}
	client = docstore.Query{Collection: q.Collection}
	for _, f := range q.Where {
		if f.Op == docstore.OpNotEqual {
			client.Where = append(client.Where, f)
			continue
		}
		server.Where = append(server.Where, f)
	}
	if len(client.Where) > 0 {
		server.Limit = 0
		client.Limit = q.Limit
	}
	return server, client
}

// clientView filters query snapshot changes through the client-side part of
// a query. A document that stops matching is reported as removed, one that
// starts matching as added, the same as a server-side filter would.
type clientView struct {
	q       docstore.Query
	visible map[string]bool
}

func newClientView(q docstore.Query) *clientView {
	return &clientView{q: q, visible: make(map[string]bool)}
}

func (v *clientView) apply(changes []docstore.Change) []docstore.Change {
	if len(v.q.Where) == 0 {
		return changes
	}
	out := changes[:0:0]
	for _, c := range changes {
		id := c.Doc.ID
		was := v.visible[id]
		now := c.Kind != docstore.ChangeRemoved && v.q.Matches(c.Doc)
		switch {
		case now && was:
			out = append(out, docstore.Change{Kind: docstore.ChangeModified, Doc: c.Doc})
		case now:
			v.visible[id] = true
			out = append(out, docstore.Change{Kind: docstore.ChangeAdded, Doc: c.Doc})
		case was:
			delete(v.visible, id)
			out = append(out, docstore.Change{Kind: docstore.ChangeRemoved, Doc: c.Doc})
		}
	}
	return out
}
