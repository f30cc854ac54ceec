package turn

import (
	"fmt"
	"slices"
	"strings"
)

// Personality bundles a system prompt with the temperature it is meant to run at.
type Personality struct {
	Name         string  `json:"name"`
	Temperature  float64 `json:"temperature"`
	SystemPrompt string  `json:"system_prompt"`
}

// CustomPersonality takes its system prompt from the caller and keeps the current
// temperature.
const CustomPersonality = "custom"

var personalities = []Personality{
	{Name: "default", Temperature: 0.7, SystemPrompt: "You are a helpful assistant."},
	{Name: "creative", Temperature: 0.9, SystemPrompt: "You are a creative and imaginative assistant."},
	{Name: "analytical", Temperature: 0.3, SystemPrompt: "You are a precise and analytical assistant."},
}

// Personalities lists the built-in personalities followed by "custom".
func Personalities() []string {
	names := make([]string, 0, len(personalities)+1)
	for _, p := range personalities {
		names = append(names, p.Name)
	}
	return append(names, CustomPersonality)
}

// LookupPersonality resolves a built-in personality by name, case-insensitively.
func LookupPersonality(name string) (Personality, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	idx := slices.IndexFunc(personalities, func(p Personality) bool { return p.Name == name })
	if idx < 0 {
		return Personality{}, fmt.Errorf("%w: %q", ErrUnknownPersonality, name)
	}
	return personalities[idx], nil
}
