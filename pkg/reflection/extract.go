package reflection

import (
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/papercomputeco/reverie/pkg/memory"
)

// fencedBlock matches a fenced code block, optionally tagged yaml, yml or
// json.
var fencedBlock = regexp.MustCompile("(?s)```[ \\t]*(?:yaml|yml|json)?[ \\t]*\\n(.*?)```")

// Extraction is the structured part of a reflection.
type Extraction struct {
	Body     string
	Topics   []string
	Entities []string
}

type structuredFields struct {
	Topics   []string `yaml:"topics"`
	Entities []string `yaml:"entities"`
}

// Extract pulls topics and entities out of a reflection's fenced yaml or
// json block. The block is removed from the body. When no block yields any
// topic or entity, the raw text is returned as the body with empty sets.
func Extract(text string) Extraction {
	raw := Extraction{Body: text, Topics: []string{}, Entities: []string{}}

	for _, loc := range fencedBlock.FindAllStringSubmatchIndex(text, -1) {
		var fields structuredFields
		if err := yaml.Unmarshal([]byte(text[loc[2]:loc[3]]), &fields); err != nil {
			continue
		}

		topics := memory.NormalizeSet(fields.Topics)
		entities := memory.NormalizeSet(fields.Entities)
		if len(topics) == 0 && len(entities) == 0 {
			continue
		}

		body := strings.TrimSpace(text[:loc[0]] + text[loc[1]:])
		if body == "" {
			body = text
		}
		return Extraction{Body: body, Topics: topics, Entities: entities}
	}

	return raw
}
