package services

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"
)

// Context tags used to look up stage-specific system instructions.
const (
	ContextCreateTitle               = "create_title"
	ContextCreateCrash               = "create_crash"
	ContextCreateLocationName        = "create_location_name"
	ContextCreateLocationDescription = "create_location_description"
	ContextCreateSkills              = "create_skills"
	ContextCreateCharacters          = "create_characters"
	ContextCreateWakeup              = "create_wakeup"
	ContextMainLoop                  = "main_loop"
)

// PromptTable holds the pre-written system prompts for one provider, loaded
// once at startup from prompts/<provider>.yaml. The "main" entry is always
// prepended; context entries are appended by tag.
type PromptTable map[string]string

// LoadPromptTable reads the prompt table for a provider.
func LoadPromptTable(promptsPath, provider string) (PromptTable, error) {
	path := filepath.Join(promptsPath, strings.ToLower(provider)+".yaml")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt table %s: %w", path, err)
	}

	var table PromptTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to parse prompt table %s: %w", path, err)
	}

	if _, ok := table["main"]; !ok {
		return nil, fmt.Errorf("prompt table %s is missing the main prompt", path)
	}
	return table, nil
}

// System assembles the system prompt for a context tag plus an optional
// caller-supplied suffix.
func (t PromptTable) System(contextTag, suffix string) string {
	var sb strings.Builder
	sb.WriteString(t["main"])
	if contextTag != "" {
		sb.WriteString(t[contextTag])
	}
	if suffix != "" {
		sb.WriteString(suffix)
	}
	return sb.String()
}
