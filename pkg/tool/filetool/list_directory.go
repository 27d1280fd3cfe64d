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

package filetool

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/signalforge/cortex/pkg/tool"
	"github.com/signalforge/cortex/pkg/tool/functiontool"
)

// ListDirectoryArgs defines the parameters for listing a directory.
type ListDirectoryArgs struct {
	Path      string `json:"path,omitempty" jsonschema:"description=Directory path to list (relative to working directory),default=."`
	Recursive bool   `json:"recursive,omitempty" jsonschema:"description=List subdirectories recursively,default=false"`
}

// ListDirectoryConfig defines configuration for the list_directory tool.
type ListDirectoryConfig struct {
	WorkingDirectory string
	MaxEntries       int
}

// NewListDirectory creates a new list_directory tool using FunctionTool,
// grounded on read_file's working-directory confinement idiom.
func NewListDirectory(cfg *ListDirectoryConfig) (tool.CallableTool, error) {
	if cfg == nil {
		cfg = &ListDirectoryConfig{WorkingDirectory: "./", MaxEntries: 500}
	}
	if cfg.WorkingDirectory == "" {
		cfg.WorkingDirectory = "./"
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 500
	}

	return functiontool.NewWithValidation(
		functiontool.Config{
			Name:        "list_directory",
			Description: "List the files and subdirectories under a path. Use to orient before reading or searching.",
		},
		func(ctx tool.Context, args ListDirectoryArgs) (map[string]any, error) {
			return listDirectoryImpl(cfg, args)
		},
		func(args ListDirectoryArgs) error {
			path := args.Path
			if path == "" {
				path = "."
			}
			return validateSearchPath(cfg.WorkingDirectory, path)
		},
	)
}

func listDirectoryImpl(cfg *ListDirectoryConfig, args ListDirectoryArgs) (map[string]any, error) {
	dir := args.Path
	if dir == "" {
		dir = "."
	}
	fullPath := filepath.Join(cfg.WorkingDirectory, dir)

	var entries []string
	if args.Recursive {
		err := filepath.Walk(fullPath, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return nil
			}
			if path == fullPath {
				return nil
			}
			rel, relErr := filepath.Rel(cfg.WorkingDirectory, path)
			if relErr != nil {
				return nil
			}
			if info.IsDir() {
				rel += "/"
			}
			entries = append(entries, rel)
			if len(entries) >= cfg.MaxEntries {
				return filepath.SkipAll
			}
			return nil
		})
		if err != nil && err != filepath.SkipAll {
			return nil, fmt.Errorf("failed to walk directory: %w", err)
		}
	} else {
		dirEntries, err := os.ReadDir(fullPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read directory: %w", err)
		}
		for _, e := range dirEntries {
			name := e.Name()
			if e.IsDir() {
				name += "/"
			}
			entries = append(entries, name)
			if len(entries) >= cfg.MaxEntries {
				break
			}
		}
	}
	sort.Strings(entries)

	var b strings.Builder
	fmt.Fprintf(&b, "DIRECTORY: %s\n", dir)
	fmt.Fprintf(&b, "STATS: %d entries\n", len(entries))
	b.WriteString(strings.Repeat("─", 60) + "\n")
	for _, e := range entries {
		b.WriteString(e)
		b.WriteString("\n")
	}

	return map[string]any{
		"content": b.String(),
		"path":    dir,
		"entries": entries,
		"count":   len(entries),
	}, nil
}
