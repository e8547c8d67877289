package reflection

import (
	"fmt"
	"strings"
	"time"

	"github.com/papercomputeco/reverie/pkg/jobqueue"
	"github.com/papercomputeco/reverie/pkg/memory"
)

const sessionInstructions = `Create a semantically rich summary that:
1. Captures the main topics, decisions, and insights
2. Notes any action items or commitments made
3. Identifies emotional tone and relationship dynamics
4. Includes specific details useful for future retrieval
5. Is written to maximize semantic searchability

After the summary, add a fenced yaml block listing the topics and the
named entities (people, places, projects) of the session:

` + "```yaml" + `
topics: [topic one, topic two]
entities: [Name]
` + "```"

// SessionPrompt renders the reflection prompt for a session job.
func SessionPrompt(job *jobqueue.ReflectionJob) string {
	var b strings.Builder

	b.WriteString("Please summarize the following conversation session.\n\n")
	fmt.Fprintf(&b, "Session Period: %s to %s\n", formatTime(job.StartedAt), formatTime(job.EndedAt))
	fmt.Fprintf(&b, "Message Count: %d\n\n", len(job.Turns))

	b.WriteString("<session_transcript>\n")
	for _, t := range job.Turns {
		if t.UserMessage != "" {
			fmt.Fprintf(&b, "[user]: %s\n", t.UserMessage)
		}
		if t.AgentResponse != "" {
			fmt.Fprintf(&b, "[assistant]: %s\n", t.AgentResponse)
		}
	}
	b.WriteString("</session_transcript>\n\n")
	b.WriteString(sessionInstructions)

	return b.String()
}

// RollupPrompt renders the prompt that merges lower-tier summaries into one
// rollup of the target kind.
func RollupPrompt(target memory.Kind, windowStart, windowEnd time.Time, sources []memory.Summary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Please write a %s summary covering %s to %s from the %d summaries below.\n\n",
		target, formatTime(windowStart), formatTime(windowEnd), len(sources))

	for _, s := range sources {
		fmt.Fprintf(&b, "<summary id=%q period=\"%s to %s\">\n%s\n</summary>\n\n",
			s.ID, formatTime(s.PeriodStart), formatTime(s.PeriodEnd), strings.TrimSpace(s.Body))
	}

	b.WriteString("Merge them into one narrative that keeps recurring themes, decisions, " +
		"commitments and specific details useful for future retrieval. Do not list the " +
		"summaries one by one.")

	return b.String()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
