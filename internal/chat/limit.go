// ABOUTME: Approximate token budgeting for conversation history
// ABOUTME: Walks history backwards and keeps the most recent messages within the limit

package chat

import "github.com/logicleai/logicle/internal/store"

// charsPerToken is a coarse approximation good enough for budgeting.
// TODO: swap in a real tokenizer once one model family dominates usage.
const charsPerToken = 4

func approxTokens(text string) int {
	return len(text)/charsPerToken + 1
}

// LimitHistory returns the most recent messages whose approximate token
// count, together with the system prompt, fits the limit. At least one
// message is always kept so a conversation can continue.
func LimitHistory(systemPrompt string, messages []*store.Message, tokenLimit int) []*store.Message {
	if tokenLimit <= 0 || len(messages) == 0 {
		return messages
	}
	count := approxTokens(systemPrompt)
	kept := 0
	for kept < len(messages) {
		m := messages[len(messages)-kept-1]
		count += approxTokens(m.Text())
		if count > tokenLimit {
			break
		}
		kept++
	}
	// Keeping zero messages would make the request empty. This is not
	// enough when the cut lands inside a tool exchange; the sanitizer
	// repairs whatever the cut leaves dangling.
	if kept == 0 {
		kept = 1
	}
	return messages[len(messages)-kept:]
}
