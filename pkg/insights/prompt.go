package insights

import (
	"fmt"
	"strings"

	"github.com/papercomputeco/reverie/pkg/memory"
)

// Prompt asks the reflector whether current still supports the conversation
// in turns.
func Prompt(current string, turns []memory.Turn) string {
	var b strings.Builder

	b.WriteString("Review the current conversation and decide whether the insights below need updating.\n\n")

	b.WriteString("<current_insights>\n")
	if strings.TrimSpace(current) == "" {
		b.WriteString("(none)\n")
	} else {
		b.WriteString(strings.TrimSpace(current))
		b.WriteString("\n")
	}
	b.WriteString("</current_insights>\n\n")

	b.WriteString("<recent_conversation>\n")
	for _, t := range turns {
		if t.UserText != "" {
			fmt.Fprintf(&b, "[user]: %s\n", t.UserText)
		}
		if t.AgentText != "" {
			fmt.Fprintf(&b, "[assistant]: %s\n", t.AgentText)
		}
	}
	b.WriteString("</recent_conversation>\n\n")

	fmt.Fprintf(&b, "If the insights are still relevant, reply with exactly %s. ", NoUpdate)
	b.WriteString("Otherwise reply with the complete replacement insights and nothing else. " +
		"Only update when it is truly necessary; irrelevant updates add noise.")

	return b.String()
}
