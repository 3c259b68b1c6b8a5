package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Unisami/ProspectAI-sub000/internal/errkind"
	"github.com/Unisami/ProspectAI-sub000/internal/llm"
)

const repairPrompt = "That was not valid JSON. Respond again with only the corrected JSON object, nothing else."

// completeJSON runs one completion expected to yield a JSON object and
// decodes it into out. A malformed first answer gets exactly one repair
// round-trip: the bad output goes back to the model with a correction
// instruction. A second malformed answer is a Parse failure.
func (s *Service) completeJSON(ctx context.Context, op, system, user string, out any) error {
	if t := s.cfg.Timeout(); t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: user},
	}
	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		Messages:       messages,
		ResponseFormat: llm.FormatJSON,
	})
	if err != nil {
		return err
	}
	if json.Unmarshal([]byte(extractJSON(resp.Content)), out) == nil {
		return nil
	}

	repair := append(messages,
		llm.Message{Role: llm.RoleAssistant, Content: resp.Content},
		llm.Message{Role: llm.RoleUser, Content: repairPrompt},
	)
	resp, err = s.llm.Complete(ctx, llm.CompletionRequest{
		Messages:       repair,
		ResponseFormat: llm.FormatJSON,
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), out); err != nil {
		return errkind.New(errkind.Parse, "ai", op, fmt.Errorf("model output is not valid JSON after repair: %w", err))
	}
	return nil
}

// extractJSON cuts a JSON object out of a chatty completion: code fences
// and any prose before the first '{' or after the last '}' are dropped.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if i := strings.Index(s, "\n"); i >= 0 && !strings.Contains(s[:i], "{") {
			s = s[i+1:] // drop the language tag line
		}
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return strings.TrimSpace(s)
}
