// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package toolset assembles the concrete executor.ToolResolver: a
// name-keyed registry of the working-directory-confined file tools plus
// any dynamically discovered MCP toolsets, filtered down to whatever
// names a plan declares.
package toolset

import (
	"context"
	"log/slog"
	"sync"

	"github.com/signalforge/cortex/pkg/tool"
	"github.com/signalforge/cortex/pkg/tool/filetool"
	"github.com/signalforge/cortex/pkg/tool/mcptoolset"
)

// Config configures the static file tools and the working directory they
// are confined to. write_file and apply_patch and search_replace always
// come back wrapped in tool.RequireApproval since they mutate the
// filesystem.
type Config struct {
	WorkingDirectory string
	MaxFileSize      int64
	MCPServers       []mcptoolset.Config
}

// Resolver is the module's executor.ToolResolver implementation.
type Resolver struct {
	static map[string]tool.CallableTool

	mu   sync.Mutex
	mcp  []*mcptoolset.Toolset
}

// New builds a Resolver with the standard file tool set registered under
// their plan-facing names, plus one lazily-connected mcptoolset.Toolset
// per configured MCP server.
func New(cfg Config) (*Resolver, error) {
	wd := cfg.WorkingDirectory
	if wd == "" {
		wd = "./"
	}

	r := &Resolver{static: make(map[string]tool.CallableTool)}

	readFile, err := filetool.NewReadFile(&filetool.ReadFileConfig{WorkingDirectory: wd, MaxFileSize: cfg.MaxFileSize})
	if err != nil {
		return nil, err
	}
	r.static[readFile.Name()] = readFile

	listDir, err := filetool.NewListDirectory(&filetool.ListDirectoryConfig{WorkingDirectory: wd})
	if err != nil {
		return nil, err
	}
	r.static[listDir.Name()] = listDir

	grep, err := filetool.NewGrepSearch(&filetool.GrepSearchConfig{WorkingDirectory: wd})
	if err != nil {
		return nil, err
	}
	r.static[grep.Name()] = grep

	write, err := filetool.NewWriteFile(&filetool.WriteFileConfig{WorkingDirectory: wd, BackupOnOverwrite: true})
	if err != nil {
		return nil, err
	}
	r.static[write.Name()] = tool.RequireApproval(write)

	patch, err := filetool.NewApplyPatch(&filetool.ApplyPatchConfig{WorkingDirectory: wd, CreateBackup: true})
	if err != nil {
		return nil, err
	}
	r.static[patch.Name()] = tool.RequireApproval(patch)

	replace, err := filetool.NewSearchReplace(&filetool.SearchReplaceConfig{WorkingDirectory: wd, CreateBackup: true})
	if err != nil {
		return nil, err
	}
	r.static[replace.Name()] = tool.RequireApproval(replace)

	for _, serverCfg := range cfg.MCPServers {
		ts, err := mcptoolset.New(serverCfg)
		if err != nil {
			return nil, err
		}
		r.mcp = append(r.mcp, ts)
	}

	return r, nil
}

// Resolve satisfies executor.ToolResolver: it returns the subset of
// registered tools (static first, then MCP-discovered) matching names, in
// the order names lists them. Unknown names are skipped rather than
// erroring, since a stale plan fact naming a retired tool should degrade
// gracefully rather than abort the turn.
func (r *Resolver) Resolve(ctx context.Context, names []string) []tool.CallableTool {
	if len(names) == 0 {
		return nil
	}

	byName := make(map[string]tool.CallableTool, len(r.static))
	for name, t := range r.static {
		byName[name] = t
	}
	for name, t := range r.mcpTools(ctx) {
		if _, exists := byName[name]; !exists {
			byName[name] = t
		}
	}

	out := make([]tool.CallableTool, 0, len(names))
	for _, name := range names {
		if t, ok := byName[name]; ok {
			out = append(out, t)
		} else {
			slog.Warn("toolset: plan named an unknown tool", "name", name)
		}
	}
	return out
}

func (r *Resolver) mcpTools(ctx context.Context) map[string]tool.CallableTool {
	if len(r.mcp) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]tool.CallableTool)
	for _, ts := range r.mcp {
		tools, err := ts.Tools(ctx)
		if err != nil {
			slog.Warn("toolset: mcp server unavailable", "server", ts.Name(), "error", err)
			continue
		}
		for _, t := range tools {
			if ct, ok := t.(tool.CallableTool); ok {
				out[ct.Name()] = ct
			}
		}
	}
	return out
}
