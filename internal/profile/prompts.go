package profile

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/dhxmo/CultureQ/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var promptsYAML []byte

// Prompt is the pair of system prompts for one chat type.
type Prompt struct {
	Chat       string `yaml:"chat"`
	Extraction string `yaml:"extraction"`
}

// Prompts maps each chat type to its prompts.
type Prompts map[models.ChatType]Prompt

// LoadPrompts parses the embedded prompt catalog and checks every chat type has both prompts.
func LoadPrompts() (Prompts, error) {
	return parsePrompts(promptsYAML)
}

func parsePrompts(data []byte) (Prompts, error) {
	var doc struct {
		ChatTypes map[string]Prompt `yaml:"chat_types"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse prompts: %w", err)
	}

	prompts := make(Prompts, len(doc.ChatTypes))
	for name, p := range doc.ChatTypes {
		prompts[models.ChatType(name)] = Prompt{
			Chat:       strings.TrimSpace(p.Chat),
			Extraction: strings.TrimSpace(p.Extraction),
		}
	}

	for _, ct := range models.ChatTypes {
		p, ok := prompts[ct]
		if !ok || p.Chat == "" || p.Extraction == "" {
			return nil, fmt.Errorf("prompts for chat type %q are missing", ct)
		}
	}
	return prompts, nil
}
