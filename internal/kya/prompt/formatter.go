package prompt

import (
	"fmt"
	"sort"
	"strings"
)

// LanguageNames maps configured language codes to the names used in prompts.
var LanguageNames = map[string]string{
	"en": "English",
	"hi": "Hindi",
}

// Vars returns the default placeholder values for a language code.
func Vars(language string) map[string]string {
	name, ok := LanguageNames[language]
	if !ok {
		name = LanguageNames["en"]
	}
	return map[string]string{"language": name}
}

// Expand replaces every {{key}} in template with its value. Unknown
// placeholders are left as they are.
func Expand(template string, vars map[string]string) string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(vars)*2)
	for _, k := range keys {
		pairs = append(pairs, "{{"+k+"}}", vars[k])
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// ParseVars parses command line "key:value" arguments into a map
func ParseVars(args []string) (map[string]string, error) {
	result := make(map[string]string)
	for _, arg := range args {
		arg = strings.TrimSpace(arg)
		if strings.HasPrefix(arg, `"`) && strings.HasSuffix(arg, `"`) {
			arg = strings.Trim(arg, `"`)
		}

		key, value, ok := strings.Cut(arg, ":")
		if !ok {
			return nil, fmt.Errorf("invalid argument format: %s. Expected format: key:value", arg)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("invalid argument format: %s. Key must not be empty", arg)
		}

		value = strings.TrimSpace(value)
		value = strings.ReplaceAll(value, `\:`, ":")
		value = strings.ReplaceAll(value, `\"`, `"`)
		result[key] = value
	}
	return result, nil
}
