package xstate

// HistoryValue records, for compound and parallel nodes, the state value
// of their subtree the last time it was exited. History pseudo-states
// recall from it: shallow history recalls only the top-level child key,
// deep history recalls the full descendant value.
type HistoryValue map[string]StateValue

// Copy returns a shallow copy; values are immutable once recorded.
func (h HistoryValue) Copy() HistoryValue {
	out := make(HistoryValue, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// record stores the last seen value of a node's subtree.
func (h HistoryValue) record(node *StateNode, value StateValue) HistoryValue {
	out := h.Copy()
	out[node.ID] = value
	return out
}

// recall returns the recorded subtree value of a node, or nil.
func (h HistoryValue) recall(node *StateNode) StateValue {
	if h == nil {
		return nil
	}
	return h[node.ID]
}

// shallowKey extracts the immediate child key from a recorded subtree
// value: the leaf itself for a string, the single top-level key of a
// compound mapping.
func shallowKey(value StateValue) string {
	switch v := value.(type) {
	case string:
		return v
	case map[string]StateValue:
		for k := range v {
			return k
		}
	}
	return ""
}
