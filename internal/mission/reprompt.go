package mission

import (
	"context"
	"strings"

	"alchemistral/internal/llm"
	"alchemistral/internal/logging"
)

const repromptSystemPrompt = `You are a prompt engineer for a multi-agent coding orchestration system called Alchemistral.

Your job: classify the developer's message and either refine it or pass it through.

Step 1 — Classify intent:
- "mission" = the developer wants to BUILD, CREATE, IMPLEMENT, FIX, ADD, REFACTOR, DELETE, or otherwise CHANGE code. Any actionable request that requires agents to write code.
- "conversation" = the developer is ASKING A QUESTION, requesting EXPLANATION, wanting ANALYSIS, asking for SUGGESTIONS, or having a discussion. No code changes needed.

Step 2 — If mission: rewrite the message as a precise, actionable engineering prompt.
If conversation: keep the message as-is (pass through unchanged).

Rules:
- Keep the developer's intent exactly
- Add technical specificity only for missions (endpoints, components, data models)
- Reference the project's actual stack and files from the codebase summary
- Output ONLY valid JSON, no markdown, no code block

Output format (raw JSON only):
{"intent": "mission" or "conversation", "refined": "the refined or original message"}`

var repromptLogger = logging.NewComponentLogger("Reprompt")

// Reprompt classifies a developer message and refines mission text with the
// small model. Every failure path falls back to treating the original message
// as a mission: the default assumption is action.
func Reprompt(ctx context.Context, client *llm.Client, message, globalMemory, codebaseSummary string) RepromptResult {
	fallback := RepromptResult{Intent: "mission", Refined: message}

	if client == nil || !client.HasKey() {
		repromptLogger.Warn("MISTRAL_API_KEY not set, reprompt returning original message")
		return fallback
	}

	var ctxParts []string
	if strings.TrimSpace(globalMemory) != "" {
		ctxParts = append(ctxParts, "Project memory:\n"+globalMemory)
	}
	if strings.TrimSpace(codebaseSummary) != "" {
		ctxParts = append(ctxParts, "Codebase scan:\n"+codebaseSummary)
	}
	ctxParts = append(ctxParts, "Developer message:\n"+message)

	raw, err := client.Chat(ctx, llm.ModelSmall, []llm.Message{
		{Role: "system", Content: repromptSystemPrompt},
		{Role: "user", Content: strings.Join(ctxParts, "\n\n")},
	}, 0.3)
	if err != nil {
		repromptLogger.Warn("reprompt API error, returning original: %v", err)
		return fallback
	}

	return parseReprompt(raw, message)
}

func parseReprompt(raw, original string) RepromptResult {
	text := llm.StripFence(raw)

	var result RepromptResult
	if err := llm.DecodeJSON(text, &result); err != nil {
		repromptLogger.Warn("reprompt JSON parse failed, treating as mission: %.100s", text)
		refined := text
		if refined == "" {
			refined = original
		}
		return RepromptResult{Intent: "mission", Refined: refined}
	}

	if result.Intent != "mission" && result.Intent != "conversation" {
		result.Intent = "mission"
	}
	if result.Refined == "" {
		result.Refined = original
	}
	return result
}
