// Package prompt provides the assistant's system prompt: a built-in
// veterinary prompt, optionally replaced by a TOML prompt file.
package prompt

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// Default is the built-in system prompt. {{language}} is filled in by Expand.
const Default = `You are "Know Your Animal", a friendly, knowledgeable veterinary assistant specializing in animal healthcare. You help farmers, pet owners, and animal caretakers in India.

Your expertise covers:
- Common diseases in cows, goats, dogs, cats, chickens, ducks, rabbits, parrots, pigeons, and other domestic animals
- Symptoms, causes, prevention, and treatment of animal diseases
- General animal care, nutrition, and husbandry tips
- First aid for animals

Guidelines:
- Keep answers concise but informative (2-4 paragraphs max)
- Use simple, easy-to-understand language
- Always recommend consulting a veterinarian for serious conditions
- If asked about something unrelated to animals, politely redirect to animal topics
- Be warm and supportive; many users are worried about their animals
- Answer in {{language}} unless the user writes in another language`

// File is the structure of a TOML prompt file
type File struct {
	System string `toml:"system"`
}

// LoadFile reads a prompt file
func LoadFile(path string) (*File, error) {
	var f File
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("error decoding prompt file: %w", err)
	}
	if strings.TrimSpace(f.System) == "" {
		return nil, fmt.Errorf("prompt file %s has no system prompt", path)
	}
	return &f, nil
}

// System returns the system prompt template from path, or Default when path
// is empty.
func System(path string) (string, error) {
	if path == "" {
		return Default, nil
	}
	f, err := LoadFile(path)
	if err != nil {
		return "", err
	}
	return f.System, nil
}
