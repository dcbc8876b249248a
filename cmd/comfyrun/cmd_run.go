package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"comfyrun/internal/artifacts"
	"comfyrun/internal/comfy"
	"comfyrun/internal/repository"
	"comfyrun/internal/services"
	"comfyrun/internal/workflow"
	"comfyrun/pkg/models"
)

type runFlags struct {
	set       []string
	overrides []string
	seed      string
	out       string
}

func newRunCmd(a *app) *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run <workflow.json>",
		Short: "Fill placeholders, run a workflow and collect its artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflow(cmd, a, flags, args[0])
		},
	}

	f := cmd.Flags()
	f.StringArrayVar(&flags.set, "set", nil, "Placeholder value NAME=value (repeatable)")
	f.StringArrayVar(&flags.overrides, "override", nil, "Direct input assignment node.field=value, value parsed as JSON when possible (repeatable)")
	f.StringVar(&flags.seed, "seed", "", "Seed; a random one is drawn when empty or not numeric")
	f.StringVarP(&flags.out, "out", "o", "", "Directory to write artifacts to")
	return cmd
}

func runWorkflow(cmd *cobra.Command, a *app, flags runFlags, path string) error {
	g, err := workflow.Load(path)
	if err != nil {
		return err
	}
	values, err := parseAssignments(flags.set, false)
	if err != nil {
		return fmt.Errorf("--set: %w", err)
	}
	overrides, err := parseAssignments(flags.overrides, true)
	if err != nil {
		return fmt.Errorf("--override: %w", err)
	}

	ctx := cmd.Context()
	store, closeStore, err := repository.Open(ctx, a.cfg.DSN())
	if err != nil {
		return err
	}
	defer closeStore()

	client := comfy.NewClient(comfy.Options{
		BaseURL:             a.cfg.Comfy.BaseURL,
		Username:            a.cfg.Comfy.Username,
		Password:            a.cfg.Comfy.Password,
		Timeout:             a.cfg.Comfy.Timeout,
		Logger:              a.logger.With("component", "comfy"),
		DownloadConcurrency: a.cfg.Comfy.DownloadConcurrency,
	})
	svc, err := services.NewRunService(store, client, services.RunOptions{
		PollInterval: a.cfg.Comfy.PollInterval,
		MaxWait:      a.cfg.Comfy.MaxWait,
	}, a.logger)
	if err != nil {
		return err
	}

	req := services.RunRequest{
		Workflow:  filepath.Base(path),
		Graph:     g,
		Values:    values,
		Overrides: overrides,
	}
	if flags.seed != "" {
		req.Seed = flags.seed
	}

	outcome, runErr := svc.Execute(ctx, req)
	out := cmd.OutOrStdout()
	if outcome != nil && outcome.Record != nil {
		fmt.Fprintf(out, "Run:     %s\n", outcome.Record.ID)
		if outcome.Record.PromptID != "" {
			fmt.Fprintf(out, "Prompt:  %s\n", outcome.Record.PromptID)
		}
		fmt.Fprintf(out, "Seed:    %d\n", outcome.Record.Seed)
		fmt.Fprintf(out, "Status:  %s\n", outcome.Record.Status)
	}
	if runErr != nil {
		return runErr
	}

	return reportArtifacts(cmd, outcome.Artifacts, flags.out)
}

func reportArtifacts(cmd *cobra.Command, arts []models.Artifact, dir string) error {
	out := cmd.OutOrStdout()
	if len(arts) == 0 {
		fmt.Fprintln(out, "No artifacts.")
		return nil
	}

	var written []string
	if dir != "" {
		var err error
		if written, err = writeArtifacts(arts, dir); err != nil {
			return err
		}
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NODE\tKIND\tMIME\tSIZE\tFILE")
	for i, art := range arts {
		name := art.Filename
		if written != nil {
			name = written[i]
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", art.NodeID, art.Kind, art.MimeType, art.Size(), name)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if dir == "" {
		for _, txt := range artifacts.Split(arts).Texts {
			fmt.Fprintf(out, "\n[%s %s]\n%s\n", txt.NodeID, txt.Key, txt.Bytes)
		}
	}
	return nil
}

// writeArtifacts stores every artifact under dir by base filename. Clashing
// names get the node id as a prefix. It returns the written paths in the
// order of arts.
func writeArtifacts(arts []models.Artifact, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	written := make([]string, 0, len(arts))
	used := make(map[string]bool, len(arts))
	for _, art := range arts {
		name := uniqueName(used, art.NodeID, filepath.Base(filepath.FromSlash(art.Filename)))
		used[name] = true

		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, art.Bytes, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write artifact: %w", err)
		}
		written = append(written, p)
	}
	return written, nil
}

// uniqueName returns base when unused, then nodeID_base, then
// nodeID_N_base with the smallest free N.
func uniqueName(used map[string]bool, nodeID, base string) string {
	if !used[base] {
		return base
	}
	name := nodeID + "_" + base
	for n := 2; used[name]; n++ {
		name = fmt.Sprintf("%s_%d_%s", nodeID, n, base)
	}
	return name
}

// parseAssignments splits KEY=VALUE pairs. With decodeJSON, values that are
// valid JSON are decoded so numbers and booleans keep their type.
func parseAssignments(pairs []string, decodeJSON bool) (map[string]interface{}, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]interface{}, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("expected KEY=VALUE, got %q", p)
		}
		if decodeJSON {
			var decoded interface{}
			if err := json.Unmarshal([]byte(value), &decoded); err == nil {
				out[key] = decoded
				continue
			}
		}
		out[key] = value
	}
	return out, nil
}
