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

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	cortex "github.com/signalforge/cortex"
	"github.com/signalforge/cortex/pkg/approval"
	"github.com/signalforge/cortex/pkg/fact"
)

// stdinLines reads os.Stdin line by line on its own goroutine and
// publishes each trimmed line on the returned channel, so the chat loop
// and the approval watcher can share one reader instead of racing two
// independent bufio.Readers over the same file descriptor.
func stdinLines(ctx context.Context) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		reader := bufio.NewReader(os.Stdin)
		for {
			line, err := reader.ReadString('\n')
			if line != "" {
				select {
				case out <- strings.TrimSpace(line):
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return out
}

// runChatLoop drives an interactive REPL against engine, turn by turn,
// growing a single conversation thread for the session's lifetime. While
// an approval is pending, the next line read is routed to it instead of
// treated as a chat turn.
func runChatLoop(ctx context.Context, engine *cortex.Engine, coordinator *approval.Coordinator) error {
	lines := stdinLines(ctx)
	thread := &fact.Thread{}
	pending := newApprovalWatcher(ctx, coordinator)

	fmt.Println("cortex chat — type /quit to exit, /clear to reset history")

	for {
		fmt.Print("you: ")

		var input string
		select {
		case <-ctx.Done():
			return nil
		case req := <-pending.requests:
			fmt.Printf("\napproval requested: tool %q (%s), args: %v\napprove? [y/N] ", req.Call.Name, req.Reason, req.Call.Args)
			pending.resolve(req, awaitApprovalLine(lines))
			continue
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			input = line
		}

		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			switch input {
			case "/quit", "/exit":
				fmt.Println("goodbye")
				return nil
			case "/clear":
				thread = &fact.Thread{}
				fmt.Println("conversation history cleared")
			default:
				fmt.Printf("unknown command: %s\n", input)
			}
			continue
		}

		var resp *cortex.Response
		var err error
		done := make(chan struct{})
		go func() {
			defer close(done)
			resp, err = engine.RunTurn(ctx, thread, input, "")
		}()
		for waiting := true; waiting; {
			select {
			case <-done:
				waiting = false
			case req := <-pending.requests:
				fmt.Printf("\napproval requested: tool %q (%s), args: %v\napprove? [y/N] ", req.Call.Name, req.Reason, req.Call.Args)
				pending.resolve(req, awaitApprovalLine(lines))
			}
		}
		if err != nil {
			fmt.Printf("error: %v\n\n", err)
			continue
		}

		thread.Append(&fact.Message{Role: fact.RoleUser, Text: input})
		thread.Append(&fact.Message{Role: fact.RoleAssistant, Text: resp.Text})

		fmt.Printf("cortex (%s): %s\n\n", resp.Plan, resp.Text)
	}
}

func awaitApprovalLine(lines <-chan string) string {
	return <-lines
}

// approvalWatcher polls the coordinator for newly pending approval
// requests and surfaces each one exactly once on requests, so the chat
// loop's single select statement can interleave approval prompts with
// ordinary turns without a second stdin reader.
type approvalWatcher struct {
	coordinator *approval.Coordinator
	requests    chan approval.Request
}

func newApprovalWatcher(ctx context.Context, coordinator *approval.Coordinator) *approvalWatcher {
	w := &approvalWatcher{coordinator: coordinator, requests: make(chan approval.Request)}
	go w.poll(ctx)
	return w
}

func (w *approvalWatcher) poll(ctx context.Context) {
	seen := make(map[string]bool)
	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, req := range w.coordinator.PendingRequests() {
				if seen[req.ID] {
					continue
				}
				seen[req.ID] = true
				select {
				case w.requests <- req:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (w *approvalWatcher) resolve(req approval.Request, answer string) {
	approved := strings.EqualFold(answer, "y")
	if err := w.coordinator.Resolve(req.ID, approval.Decision{
		Approved:   approved,
		Reason:     "resolved via chat REPL",
		Respondent: "operator",
	}); err != nil {
		fmt.Printf("approval: %v\n", err)
	}
}
