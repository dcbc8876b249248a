// Package artifacts turns a completed job's history into typed artifact
// records. Evidence comes from three sources, visited in order: history
// outputs, the UI echo section and known save-to-disk nodes in the graph.
// Records are deduplicated by (filename, subfolder, type); the first source
// to produce an identity keeps it.
package artifacts

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"comfyrun/pkg/models"
)

const (
	typeOutput = "output"
	typeUI     = "ui"

	defaultConcurrency = 4
)

// DefaultSaveNodeTypes are the node classes that write to a fixed path under
// the service's output directory.
var DefaultSaveNodeTypes = []string{
	"SaveText|pysssss",
	"SaveAudio|pysssss",
	"SaveVideo|pysssss",
}

// Downloader fetches stored output files.
type Downloader interface {
	Download(ctx context.Context, filename, subfolder, fileType string) ([]byte, error)
}

// Logger receives diagnostics for swallowed fallback failures.
type Logger interface {
	Debug(msg string, args ...any)
}

// Extractor collects artifacts from job results.
type Extractor struct {
	dl          Downloader
	logger      Logger
	concurrency int
	saveNodes   map[string]bool
}

// Option customizes an Extractor.
type Option func(*Extractor)

// WithLogger sets the diagnostics logger.
func WithLogger(l Logger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithConcurrency bounds parallel history downloads. Values below one keep
// the default.
func WithConcurrency(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithSaveNodeTypes replaces the node classes inspected by the graph pass.
func WithSaveNodeTypes(classTypes ...string) Option {
	return func(e *Extractor) {
		e.saveNodes = make(map[string]bool, len(classTypes))
		for _, ct := range classTypes {
			e.saveNodes[ct] = true
		}
	}
}

// NewExtractor creates a new Extractor backed by dl.
func NewExtractor(dl Downloader, opts ...Option) *Extractor {
	e := &Extractor{
		dl:          dl,
		logger:      nopLogger{},
		concurrency: defaultConcurrency,
	}
	WithSaveNodeTypes(DefaultSaveNodeTypes...)(e)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// collected accumulates artifacts and enforces first-writer-wins.
type collected struct {
	arts []models.Artifact
	seen map[models.Identity]bool
}

func (c *collected) add(a models.Artifact) (int, bool) {
	id := a.Identity()
	if c.seen[id] {
		return 0, false
	}
	c.seen[id] = true
	c.arts = append(c.arts, a)
	return len(c.arts) - 1, true
}

func (c *collected) has(id models.Identity) bool {
	return c.seen[id]
}

// Extract runs the three passes and returns the union. A failed history
// download fails the whole extraction; failed fallback downloads are skipped.
func (e *Extractor) Extract(ctx context.Context, outputs, ui map[string]interface{}, g models.Graph) ([]models.Artifact, error) {
	c := &collected{seen: make(map[models.Identity]bool)}

	if err := e.fromOutputs(ctx, c, outputs); err != nil {
		return nil, err
	}
	e.fromUI(c, ui)
	e.fromGraph(ctx, c, g)

	return c.arts, nil
}

// fromOutputs registers every history record first, so dedup is settled
// before any download starts, then fetches file bytes in parallel into their
// reserved slots.
func (e *Extractor) fromOutputs(ctx context.Context, c *collected, outputs map[string]interface{}) error {
	var pending []int

	for _, nodeID := range sortedKeys(outputs) {
		nodeOut, ok := outputs[nodeID].(map[string]interface{})
		if !ok {
			continue
		}
		for _, key := range sortedKeys(nodeOut) {
			switch value := nodeOut[key].(type) {
			case []interface{}:
				switch {
				case firstHas(value, "filename"):
					for _, item := range value {
						rec, ok := item.(map[string]interface{})
						if !ok {
							continue
						}
						fn := stringField(rec, "filename")
						if fn == "" {
							continue
						}
						typ := stringField(rec, "type")
						if typ == "" {
							typ = typeOutput
						}
						kind, mime := Classify(fn)
						idx, added := c.add(models.Artifact{
							NodeID:    nodeID,
							Key:       key,
							Filename:  fn,
							Subfolder: stringField(rec, "subfolder"),
							Type:      typ,
							Kind:      kind,
							MimeType:  mime,
						})
						if added {
							pending = append(pending, idx)
						}
					}
				case firstHas(value, "text"):
					for i, item := range value {
						rec, ok := item.(map[string]interface{})
						if !ok {
							continue
						}
						txt := ""
						if v, ok := rec["text"]; ok && v != nil {
							txt = fmt.Sprint(v)
						}
						c.add(textArtifact(nodeID, fmt.Sprintf("%s[%d]", key, i), fmt.Sprintf("%s-%s-%d.txt", nodeID, key, i), txt))
					}
				}
			case string:
				if isTextKey(key) {
					c.add(textArtifact(nodeID, key, fmt.Sprintf("%s-%s.txt", nodeID, key), value))
				}
			}
		}
	}

	return e.download(ctx, c.arts, pending)
}

func (e *Extractor) download(ctx context.Context, arts []models.Artifact, pending []int) error {
	if len(pending) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for _, idx := range pending {
		a := &arts[idx]
		g.Go(func() error {
			raw, err := e.dl.Download(gctx, a.Filename, a.Subfolder, a.Type)
			if err != nil {
				return fmt.Errorf("download %s (node %s): %w", a.Filename, a.NodeID, err)
			}
			a.Bytes = raw
			return nil
		})
	}
	return g.Wait()
}

func (e *Extractor) fromUI(c *collected, ui map[string]interface{}) {
	for _, nodeID := range sortedKeys(ui) {
		items, ok := ui[nodeID].([]interface{})
		if !ok {
			items = []interface{}{ui[nodeID]}
		}
		for i, item := range items {
			var txt string
			switch v := item.(type) {
			case map[string]interface{}:
				for _, field := range []string{"text", "content", "prompt"} {
					if txt = textOf(v[field]); txt != "" {
						break
					}
				}
			case string:
				txt = v
			}
			if txt == "" {
				continue
			}
			c.add(textArtifact(nodeID, fmt.Sprintf("ui[%d]", i), fmt.Sprintf("%s-ui-%d.txt", nodeID, i), txt))
		}
	}
}

func (e *Extractor) fromGraph(ctx context.Context, c *collected, g models.Graph) {
	for _, nodeID := range g.NodeIDs() {
		node := g[nodeID]
		if node == nil || !e.saveNodes[node.ClassType] {
			continue
		}
		if root, _ := node.Inputs["root_dir"].(string); root != typeOutput {
			continue
		}
		rel, _ := node.Inputs["file"].(string)
		rel = strings.ReplaceAll(rel, "\\", "/")
		cut := strings.LastIndex(rel, "/")
		if cut < 0 {
			continue
		}
		sub, fn := rel[:cut], rel[cut+1:]
		if fn == "" {
			continue
		}

		id := models.Identity{Filename: fn, Subfolder: sub, Type: typeOutput}
		if c.has(id) {
			continue
		}
		raw, err := e.dl.Download(ctx, fn, sub, typeOutput)
		if err != nil {
			e.logger.Debug("fallback artifact not present", "node_id", nodeID, "file", rel, "error", err)
			continue
		}
		kind, mime := Classify(fn)
		c.add(models.Artifact{
			NodeID:    nodeID,
			Key:       "fallback",
			Filename:  fn,
			Subfolder: sub,
			Type:      typeOutput,
			Kind:      kind,
			MimeType:  mime,
			Bytes:     raw,
		})
	}
}

func textArtifact(nodeID, key, filename, txt string) models.Artifact {
	return models.Artifact{
		NodeID:   nodeID,
		Key:      key,
		Filename: filename,
		Type:     typeUI,
		Kind:     models.ArtifactKindText,
		MimeType: mimeText,
		Bytes:    []byte(strings.ToValidUTF8(txt, "\uFFFD")),
	}
}

// isTextKey reports whether a plain string output field carries text.
func isTextKey(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "text") || k == "string" || k == "value"
}

// textOf extracts a UI echo value. Lists of strings are joined by newlines.
func textOf(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []interface{}:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok && s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}

func firstHas(list []interface{}, field string) bool {
	if len(list) == 0 {
		return false
	}
	rec, ok := list[0].(map[string]interface{})
	if !ok {
		return false
	}
	_, ok = rec[field]
	return ok
}

func stringField(rec map[string]interface{}, field string) string {
	s, _ := rec[field].(string)
	return s
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	models.SortNodeIDs(keys)
	return keys
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
