// Package models defines the data exchanged between the comfyrun core and its callers.
package models

import (
	"sort"
	"strconv"
)

// Graph is a job description keyed by node id. It is mutated in place by the
// token engine and the seed policy; call Clone before reusing a template.
type Graph map[string]*Node

// Node is a single operation within a Graph.
type Node struct {
	ClassType string                 `json:"class_type"`
	Inputs    map[string]interface{} `json:"inputs"`
	Meta      map[string]interface{} `json:"_meta,omitempty"` // editor metadata, passed through untouched
}

// Clone returns a deep copy of the graph. Nested maps and slices inside
// inputs are copied as well, so the result can be mutated freely.
func (g Graph) Clone() Graph {
	if g == nil {
		return nil
	}
	out := make(Graph, len(g))
	for id, node := range g {
		if node == nil {
			out[id] = nil
			continue
		}
		out[id] = &Node{
			ClassType: node.ClassType,
			Inputs:    cloneMap(node.Inputs),
			Meta:      cloneMap(node.Meta),
		}
	}
	return out
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return cloneMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// NodeIDs returns the node ids in a stable order, see SortNodeIDs.
func (g Graph) NodeIDs() []string {
	ids := make([]string, 0, len(g))
	for id := range g {
		ids = append(ids, id)
	}
	SortNodeIDs(ids)
	return ids
}

// SortNodeIDs orders numeric ids ascending, followed by the remaining ids
// lexicographically.
func SortNodeIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		a, aErr := strconv.Atoi(ids[i])
		b, bErr := strconv.Atoi(ids[j])
		switch {
		case aErr == nil && bErr == nil:
			if a != b {
				return a < b
			}
			return ids[i] < ids[j]
		case aErr == nil:
			return true
		case bErr == nil:
			return false
		default:
			return ids[i] < ids[j]
		}
	})
}

// SortedInputKeys returns the node's input field names in lexicographic order.
func (n *Node) SortedInputKeys() []string {
	if n == nil {
		return nil
	}
	keys := make([]string, 0, len(n.Inputs))
	for k := range n.Inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
