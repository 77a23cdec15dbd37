// Package mcpserver registers MCP tools that expose the note mirror and
// the sync plan. It adapts the vault and reconcile packages to the MCP
// SDK's tool handler interface. Every tool is read-only.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alexjbarnes/keep-sync/internal/notes"
	"github.com/alexjbarnes/keep-sync/internal/reconcile"
	"github.com/alexjbarnes/keep-sync/internal/state"
	"github.com/alexjbarnes/keep-sync/internal/vault"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sahilm/fuzzy"
)

const (
	defaultRunsLimit = 10
	maxRunsLimit     = 50
)

// Planner computes what a sync run would do without doing it.
type Planner interface {
	Plan(ctx context.Context, fullSync bool) (*reconcile.Result, error)
}

// PlannerFunc adapts a function to Planner.
type PlannerFunc func(ctx context.Context, fullSync bool) (*reconcile.Result, error)

// Plan calls f.
func (f PlannerFunc) Plan(ctx context.Context, fullSync bool) (*reconcile.Result, error) {
	return f(ctx, fullSync)
}

// RunLister returns recorded sync runs, newest first.
type RunLister interface {
	Runs(limit int) ([]state.Run, error)
}

// Deps are the collaborators the tools read from. Planner and Runs may be
// nil, in which case their tools are not registered.
type Deps struct {
	Vault   *vault.Vault
	Filter  *vault.Filter
	Planner Planner
	Runs    RunLister
	Workers int
	Logger  *slog.Logger
}

// RegisterTools adds the keep-sync tools to the given MCP server.
func RegisterTools(server *mcp.Server, d Deps) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "notes_list",
		Description: "List the notes in the local mirror with their metadata (path, id, title, kind, partition, labels, updated). No content. Optional fuzzy title query and partition filter.",
	}, listHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "note_read",
		Description: "Read one mirrored note by remote id or by path relative to the mirror. Returns metadata plus the body or checklist items.",
	}, readHandler(d))

	if d.Planner != nil {
		mcp.AddTool(server, &mcp.Tool{
			Name:        "sync_plan",
			Description: "Compute what a sync run would do right now without changing anything: one entry per note with the action, skip reason and detected differences, plus summary counters.",
		}, planHandler(d.Planner))
	}

	if d.Runs != nil {
		mcp.AddTool(server, &mcp.Tool{
			Name:        "sync_runs",
			Description: "List recorded sync runs, newest first, with their counters, errors and conflicting notes.",
		}, runsHandler(d.Runs))
	}
}

// --- Input types ---
// The MCP SDK infers JSON schema from these struct types via jsonschema tags.

// ListInput holds parameters for notes_list.
type ListInput struct {
	Query     string `json:"query,omitempty" jsonschema:"fuzzy match against note titles"`
	Partition string `json:"partition,omitempty" jsonschema:"one of active, archived, trashed; empty lists all"`
}

// ReadInput holds parameters for note_read.
type ReadInput struct {
	ID   string `json:"id,omitempty" jsonschema:"remote note id"`
	Path string `json:"path,omitempty" jsonschema:"note path relative to the mirror root"`
}

// PlanInput holds parameters for sync_plan.
type PlanInput struct {
	FullSync     bool `json:"full_sync,omitempty" jsonschema:"ignore the cached remote snapshot and list every note"`
	IncludeSkips bool `json:"include_skips,omitempty" jsonschema:"include notes that would be left alone"`
}

// RunsInput holds parameters for sync_runs.
type RunsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of runs, defaults to 10"`
}

// --- Output types ---

// NoteInfo describes one mirrored note.
type NoteInfo struct {
	Path      string       `json:"path"`
	ID        string       `json:"id,omitempty"`
	Title     string       `json:"title"`
	Kind      string       `json:"kind"`
	Partition string       `json:"partition"`
	Color     string       `json:"color,omitempty"`
	Pinned    bool         `json:"pinned,omitempty"`
	Labels    []string     `json:"labels,omitempty"`
	Updated   string       `json:"updated,omitempty"`
	Body      string       `json:"body,omitempty"`
	Items     []notes.Item `json:"items,omitempty"`
}

// ListResult is the output of notes_list.
type ListResult struct {
	Total      int        `json:"total"`
	Notes      []NoteInfo `json:"notes"`
	Unreadable []string   `json:"unreadable,omitempty"`
}

// PlanResult is the output of sync_plan.
type PlanResult struct {
	RunID     string                `json:"run_id"`
	Plan      []reconcile.PlanEntry `json:"plan"`
	Counters  map[string]int        `json:"counters"`
	Conflicts []string              `json:"conflicts,omitempty"`
}

// RunsResult is the output of sync_runs.
type RunsResult struct {
	Runs []state.Run `json:"runs"`
}

// --- Handlers ---

func index(ctx context.Context, d Deps) (*vault.IndexResult, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return vault.NewIndexer(d.Vault, d.Filter, d.Workers, logger).Index(ctx)
}

func listHandler(d Deps) mcp.ToolHandlerFor[ListInput, *ListResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ListInput) (*mcp.CallToolResult, *ListResult, error) {
		idx, err := index(ctx, d)
		if err != nil {
			return nil, nil, err
		}

		recs := idx.Records
		if input.Partition != "" {
			recs = filterPartition(recs, input.Partition)
		}

		if q := strings.TrimSpace(input.Query); q != "" {
			recs = fuzzyTitles(recs, q)
		}

		result := &ListResult{Total: len(recs), Notes: make([]NoteInfo, 0, len(recs))}

		for i := range recs {
			result.Notes = append(result.Notes, noteInfo(&recs[i], false))
		}

		for _, f := range idx.Failed {
			result.Unreadable = append(result.Unreadable, f.Path)
		}

		return textResult(result), result, nil
	}
}

func readHandler(d Deps) mcp.ToolHandlerFor[ReadInput, *NoteInfo] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ReadInput) (*mcp.CallToolResult, *NoteInfo, error) {
		if input.ID == "" && input.Path == "" {
			return nil, nil, fmt.Errorf("one of id or path is required")
		}

		if input.Path != "" {
			_, rec, err := d.Vault.Load(input.Path)
			if err != nil {
				return nil, nil, err
			}

			info := noteInfo(&rec, true)

			return textResult(info), &info, nil
		}

		idx, err := index(ctx, d)
		if err != nil {
			return nil, nil, err
		}

		rec, ok := idx.Lookup(input.ID)
		if !ok {
			return nil, nil, fmt.Errorf("no local note with id %q", input.ID)
		}

		info := noteInfo(rec, true)

		return textResult(info), &info, nil
	}
}

func planHandler(p Planner) mcp.ToolHandlerFor[PlanInput, *PlanResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input PlanInput) (*mcp.CallToolResult, *PlanResult, error) {
		res, err := p.Plan(ctx, input.FullSync)
		if err != nil && !reconcile.IsConflict(err) {
			return nil, nil, err
		}

		result := &PlanResult{
			RunID:     res.RunID,
			Counters:  res.Summary.Counts(),
			Conflicts: res.Conflicts,
			Plan:      make([]reconcile.PlanEntry, 0, len(res.Plan)),
		}

		for _, e := range res.Plan {
			if e.Action == reconcile.ActionSkip.String() && e.Warning == "" && !input.IncludeSkips {
				continue
			}

			result.Plan = append(result.Plan, e)
		}

		return textResult(result), result, nil
	}
}

func runsHandler(l RunLister) mcp.ToolHandlerFor[RunsInput, *RunsResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input RunsInput) (*mcp.CallToolResult, *RunsResult, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = defaultRunsLimit
		}

		if limit > maxRunsLimit {
			limit = maxRunsLimit
		}

		runs, err := l.Runs(limit)
		if err != nil {
			return nil, nil, err
		}

		if runs == nil {
			runs = []state.Run{}
		}

		result := &RunsResult{Runs: runs}

		return textResult(result), result, nil
	}
}

func filterPartition(recs []notes.Record, partition string) []notes.Record {
	var out []notes.Record

	for _, r := range recs {
		if r.Partition.String() == partition {
			out = append(out, r)
		}
	}

	return out
}

// fuzzyTitles keeps the records whose title fuzzily matches q, best
// match first.
func fuzzyTitles(recs []notes.Record, q string) []notes.Record {
	titles := make([]string, len(recs))
	for i := range recs {
		titles[i] = recs[i].Title
		if titles[i] == "" {
			titles[i] = recs[i].Stem()
		}
	}

	matches := fuzzy.Find(q, titles)

	out := make([]notes.Record, 0, len(matches))
	for _, m := range matches {
		out = append(out, recs[m.Index])
	}

	return out
}

func noteInfo(r *notes.Record, content bool) NoteInfo {
	info := NoteInfo{
		Path:      r.Path,
		ID:        r.ID,
		Title:     r.Title,
		Kind:      r.Kind.String(),
		Partition: r.Partition.String(),
		Pinned:    r.Pinned,
		Labels:    r.Labels,
	}

	if r.Fields.Has(notes.FieldColor) {
		info.Color = string(r.Color)
	}

	if r.Updated != nil {
		info.Updated = vault.FormatTime(*r.Updated)
	}

	if content {
		if r.Kind == notes.KindList {
			info.Items = r.Items
		} else {
			info.Body = r.Body
		}
	}

	return info
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v interface{}) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
