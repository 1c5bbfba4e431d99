package job

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sitebookify/sitebookify/kit"
)

// RegisterMCP registers sitebookify's five RPC methods as MCP tools on
// srv, the same registration shape every other service's mcp.go in
// this codebase uses: one tool, one request struct, one decode
// closure, one kit.RegisterMCPTool call.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerCreateJobTool(srv)
	s.registerGetJobTool(srv)
	s.registerListJobsTool(srv)
	s.registerGenerateDownloadURLTool(srv)
	s.registerPreviewTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	sch := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		sch["required"] = required
	}
	return sch
}

// --- sitebookify_create_job ---

type createJobMCPRequest struct {
	SourceURL     string `json:"source_url"`
	MaxPages      int    `json:"max_pages"`
	MaxDepth      int    `json:"max_depth"`
	Concurrency   int    `json:"concurrency"`
	DelayMS       int    `json:"delay_ms"`
	Title         string `json:"title"`
	Language      string `json:"language"`
	Tone          string `json:"tone"`
	TOCEngine     string `json:"toc_engine"`
	RenderEngine  string `json:"render_engine"`
	RewritePrompt string `json:"rewrite_prompt"`
}

func (s *Service) registerCreateJobTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "sitebookify_create_job",
		Description: "Start crawling a public website and turn it into a book (Markdown, mdBook source, EPUB). Returns immediately with a QUEUED job; poll sitebookify_get_job for progress.",
		InputSchema: inputSchema(map[string]any{
			"source_url":     map[string]any{"type": "string", "description": "Start URL of the site to crawl"},
			"max_pages":      map[string]any{"type": "integer", "description": "Maximum pages to crawl (default 50)"},
			"max_depth":      map[string]any{"type": "integer", "description": "Maximum link depth from source_url (default 3)"},
			"concurrency":    map[string]any{"type": "integer", "description": "Concurrent fetch/render workers (default 4)"},
			"delay_ms":       map[string]any{"type": "integer", "description": "Delay between requests to the same host, in milliseconds"},
			"title":          map[string]any{"type": "string", "description": "Book title override"},
			"language":       map[string]any{"type": "string", "description": "Output language for rewritten chapters"},
			"tone":           map[string]any{"type": "string", "description": "Tone instruction for rewritten chapters"},
			"toc_engine":     map[string]any{"type": "string", "description": "\"init\" (heuristic, default) or \"llm\" (LLM-refined table of contents)"},
			"render_engine":  map[string]any{"type": "string", "description": "\"noop\" (default, no rewrite), \"openai\", or \"command\""},
			"rewrite_prompt": map[string]any{"type": "string", "description": "Extra instruction passed to the rewrite engine"},
		}, []string{"source_url"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*createJobMCPRequest)
		return s.CreateJob(ctx, Spec{
			SourceURL:     r.SourceURL,
			MaxPages:      r.MaxPages,
			MaxDepth:      r.MaxDepth,
			Concurrency:   r.Concurrency,
			DelayMS:       r.DelayMS,
			Title:         r.Title,
			Language:      r.Language,
			Tone:          r.Tone,
			TOCEngine:     r.TOCEngine,
			RenderEngine:  r.RenderEngine,
			RewritePrompt: r.RewritePrompt,
		})
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r createJobMCPRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- sitebookify_get_job ---

type getJobMCPRequest struct {
	Name string `json:"name"`
}

func (s *Service) registerGetJobTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "sitebookify_get_job",
		Description: "Get the current status of a sitebookify job by name (e.g. \"jobs/<id>\").",
		InputSchema: inputSchema(map[string]any{
			"name": map[string]any{"type": "string", "description": "Job name, as returned by sitebookify_create_job"},
		}, []string{"name"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*getJobMCPRequest)
		return s.GetJob(ctx, r.Name)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r getJobMCPRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- sitebookify_list_jobs ---

func (s *Service) registerListJobsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "sitebookify_list_jobs",
		Description: "List every known sitebookify job.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		jobs, err := s.ListJobs(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"jobs": jobs}, nil
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- sitebookify_generate_download_url ---

type generateDownloadURLMCPRequest struct {
	Name string `json:"name"`
}

func (s *Service) registerGenerateDownloadURLTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "sitebookify_generate_download_url",
		Description: "Get a time-limited download URL for a DONE job's artifact (book.md, book.epub, assets, zipped).",
		InputSchema: inputSchema(map[string]any{
			"name": map[string]any{"type": "string", "description": "Job name, as returned by sitebookify_create_job"},
		}, []string{"name"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*generateDownloadURLMCPRequest)
		url, expires, err := s.GenerateJobDownloadUrl(ctx, r.Name)
		if err != nil {
			return nil, err
		}
		return map[string]any{"download_url": url, "expires_at": expires}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r generateDownloadURLMCPRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- sitebookify_preview ---

type previewMCPRequest struct {
	URL string `json:"url"`
}

func (s *Service) registerPreviewTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "sitebookify_preview",
		Description: "Non-authoritative structural estimate of a site (sitemap-first, else a bounded 1-hop link crawl): estimated page/chapter counts, sample URLs, and a rough token/cost envelope. No LLM call, no job created.",
		InputSchema: inputSchema(map[string]any{
			"url": map[string]any{"type": "string", "description": "Start URL of the site to estimate"},
		}, []string{"url"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*previewMCPRequest)
		return s.Preview(ctx, r.URL)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r previewMCPRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
