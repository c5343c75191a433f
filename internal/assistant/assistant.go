// Package assistant answers free-form questions about system health through
// a tool-using reasoning loop over the aggregator.
package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vnmchuo/llm-monitor/internal/stats"
)

// ChatClient is the text-generation dependency of the assistant.
type ChatClient interface {
	Chat(ctx context.Context, prompt string) (string, error)
}

// Tool is one callable capability exposed to the model.
type Tool struct {
	Name        string
	Description string
	Run         func(ctx context.Context, input string) (string, error)
}

const maxSteps = 5

const promptTemplate = `You are a helpful AI monitoring assistant. Your goal is to answer the user's question about system performance.
You have access to the following tools:

%s

Use the following format:

Question: the input question you must answer
Thought: You should always think about what to do to answer the Question.
Action: The action to take, should be one of [%s]
Action Input: The input to the action
Observation: The result of the action
Thought: I have now received the result from the tool. I have enough information to answer the user's original question.
Final Answer: A human-readable summary of the observation that directly answers the user's Question.

Begin!

Question: %s
Thought:%s`

type Assistant struct {
	client ChatClient
	tools  []Tool
}

func New(client ChatClient, tools []Tool) *Assistant {
	return &Assistant{client: client, tools: tools}
}

// Ask runs the reasoning loop until the model produces a final answer or the
// step limit is reached. Tool failures are fed back to the model as
// observations rather than aborting the loop.
func (a *Assistant) Ask(ctx context.Context, question string) (string, error) {
	var scratchpad strings.Builder

	for step := 0; step < maxSteps; step++ {
		out, err := a.client.Chat(ctx, a.buildPrompt(question, scratchpad.String()))
		if err != nil {
			return "", fmt.Errorf("assistant: model call failed: %w", err)
		}

		if answer, ok := parseFinalAnswer(out); ok {
			return answer, nil
		}

		action, input, ok := parseAction(out)
		if !ok {
			return "", fmt.Errorf("assistant: could not parse model output: %q", truncate(out, 200))
		}

		observation := a.runTool(ctx, action, input)
		scratchpad.WriteString(out)
		scratchpad.WriteString(fmt.Sprintf("\nObservation: %s\nThought:", observation))
	}

	return "", fmt.Errorf("assistant: no final answer after %d steps", maxSteps)
}

func (a *Assistant) runTool(ctx context.Context, name, input string) string {
	for _, t := range a.tools {
		if t.Name == name {
			result, err := t.Run(ctx, input)
			if err != nil {
				return fmt.Sprintf("error: %v", err)
			}
			return result
		}
	}
	return fmt.Sprintf("error: unknown tool %q", name)
}

func (a *Assistant) buildPrompt(question, scratchpad string) string {
	var descs, names []string
	for _, t := range a.tools {
		descs = append(descs, fmt.Sprintf("%s: %s", t.Name, t.Description))
		names = append(names, t.Name)
	}
	return fmt.Sprintf(promptTemplate, strings.Join(descs, "\n"), strings.Join(names, ", "), question, scratchpad)
}

func parseFinalAnswer(out string) (string, bool) {
	if idx := strings.Index(out, "Final Answer:"); idx >= 0 {
		return strings.TrimSpace(out[idx+len("Final Answer:"):]), true
	}
	return "", false
}

func parseAction(out string) (action, input string, ok bool) {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if v, found := strings.CutPrefix(line, "Action:"); found {
			action = strings.TrimSpace(v)
		} else if v, found := strings.CutPrefix(line, "Action Input:"); found {
			input = strings.TrimSpace(v)
		}
	}
	return action, input, action != ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// DefaultTools exposes the aggregator's two queries as assistant tools,
// mirroring what the scheduler loop consumes.
func DefaultTools(agg *stats.Aggregator, window time.Duration) []Tool {
	return []Tool{
		{
			Name:        "get_system_statistics",
			Description: "Get the most recent overall system statistics: total requests, total cost, and average latency for all LLM calls in the current window. Takes no input.",
			Run: func(ctx context.Context, _ string) (string, error) {
				s, err := agg.ComputeWindowStats(ctx, window)
				if err != nil {
					return "", err
				}
				b, err := json.Marshal(s)
				if err != nil {
					return "", err
				}
				return string(b), nil
			},
		},
		{
			Name:        "find_highest_cost_users",
			Description: "Find the users who have incurred the most cost in the current window. Input is a single positive integer: the number of top users to find, e.g. '5'.",
			Run: func(ctx context.Context, input string) (string, error) {
				n, err := strconv.Atoi(strings.Trim(input, `'" `))
				if err != nil {
					return "", fmt.Errorf("input must be an integer: %w", err)
				}
				entries, err := agg.ComputeTopCostUsers(ctx, window, n)
				if err != nil {
					return "", err
				}
				b, err := json.Marshal(entries)
				if err != nil {
					return "", err
				}
				return string(b), nil
			},
		},
	}
}
