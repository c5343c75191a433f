// Package alert turns a structured anomaly reason into a human-readable
// message via a pluggable text-generation backend.
package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// Notifier generates a human-readable alert message for an anomaly reason.
// Implementations may call slow, failure-prone remote services; callers are
// expected to treat a failure as best-effort and log it.
type Notifier interface {
	GenerateAlertMessage(ctx context.Context, reason string) (string, error)
}

// ChatClient is the text-generation dependency of the LLM-backed notifier.
type ChatClient interface {
	Chat(ctx context.Context, prompt string) (string, error)
}

const alertPrompt = `You are an AI monitoring system. An anomaly has been detected in the system for the following reason:

REASON: %q

Write a brief, clear, and professional alert message (2-3 sentences) to be sent to the engineering team.`

// LLMNotifier asks an LLM to write the alert text. Calls go through a
// circuit breaker so a dead backend fails fast instead of stalling every
// scheduler cycle.
type LLMNotifier struct {
	client  ChatClient
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
}

func NewLLMNotifier(client ChatClient, timeout time.Duration) *LLMNotifier {
	settings := gobreaker.Settings{
		Name:        "alert-llm",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &LLMNotifier{
		client:  client,
		breaker: gobreaker.NewCircuitBreaker(settings),
		timeout: timeout,
	}
}

func (n *LLMNotifier) GenerateAlertMessage(ctx context.Context, reason string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	result, err := n.breaker.Execute(func() (interface{}, error) {
		return n.client.Chat(ctx, fmt.Sprintf(alertPrompt, reason))
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate alert message: %w", err)
	}

	return result.(string), nil
}
