// Package workflow loads graph files and applies direct field overrides.
package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"comfyrun/pkg/models"
)

// ErrNodeNotFound is matched by every NodeNotFoundError.
var ErrNodeNotFound = errors.New("node not found")

// NodeNotFoundError reports an override that targets an absent node.
type NodeNotFoundError struct {
	NodeID string
}

func (e *NodeNotFoundError) Error() string {
	return fmt.Sprintf("node %s not found in graph", e.NodeID)
}

func (e *NodeNotFoundError) Is(target error) bool {
	return target == ErrNodeNotFound
}

// ErrOutsideRoot is returned by Resolve for paths escaping the workflow root.
var ErrOutsideRoot = errors.New("path escapes workflow root")

// Load reads a graph file from disk.
func Load(path string) (models.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow: %w", err)
	}
	g, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

// Parse decodes a graph from JSON. The top level must be an object keyed by
// node id whose values are node objects.
func Parse(data []byte) (models.Graph, error) {
	var g models.Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("failed to decode workflow: %w", err)
	}
	if g == nil {
		return nil, errors.New("workflow is empty")
	}
	for id, node := range g {
		if node == nil {
			return nil, fmt.Errorf("node %s is null", id)
		}
		if node.Inputs == nil {
			node.Inputs = make(map[string]interface{})
		}
	}
	return g, nil
}

// Scan lists .json files under root as slash-separated relative paths,
// sorted case-insensitively.
func Scan(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".json") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan workflows: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i]) < strings.ToLower(out[j])
	})
	return out, nil
}

// Resolve joins a relative workflow path onto root and rejects results that
// would leave it.
func Resolve(root, rel string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %w", rel, ErrOutsideRoot)
	}
	return filepath.Join(root, clean), nil
}

// SetParam writes one input field of one node, creating the inputs map when
// needed.
func SetParam(g models.Graph, nodeID, field string, value interface{}) error {
	node, ok := g[nodeID]
	if !ok || node == nil {
		return &NodeNotFoundError{NodeID: nodeID}
	}
	if node.Inputs == nil {
		node.Inputs = make(map[string]interface{})
	}
	node.Inputs[field] = value
	return nil
}

// SetOverrides applies "node.field" keyed values. Keys are applied in sorted
// order and the first failure stops the run.
func SetOverrides(g models.Graph, overrides map[string]interface{}) error {
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		nodeID, field, ok := strings.Cut(key, ".")
		if !ok || nodeID == "" || field == "" {
			return fmt.Errorf("override key must be 'node.field', got: %s", key)
		}
		if err := SetParam(g, nodeID, field, overrides[key]); err != nil {
			return err
		}
	}
	return nil
}
