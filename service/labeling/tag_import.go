package labeling

import (
	"regexp"
	"strings"

	"survey-pipeline-service/service/models"
)

var multiSpace = regexp.MustCompile(`\s{2,}`)

// ParseTagDefinitions 逐行解析 “名称：定义” 或 “名称  定义”（两个及以上空白分隔），无法解析的行直接丢弃
func ParseTagDefinitions(text string) []models.TagDefinition {
	var out []models.TagDefinition
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var name, definition string
		if i := strings.IndexAny(line, ":："); i >= 0 {
			name = line[:i]
			_, size := firstRune(line[i:])
			definition = line[i+size:]
		} else if loc := multiSpace.FindStringIndex(line); loc != nil {
			name = line[:loc[0]]
			definition = line[loc[1]:]
		} else {
			continue
		}

		name = strings.TrimSpace(name)
		definition = strings.TrimSpace(definition)
		if name == "" || definition == "" {
			continue
		}
		out = append(out, models.TagDefinition{Name: name, Definition: definition})
	}
	return out
}

func firstRune(s string) (rune, int) {
	for _, r := range s {
		return r, len(string(r))
	}
	return 0, 0
}

// MergeTagDefinitions 合并导入的标签定义，名称大小写不敏感去重
func MergeTagDefinitions(existing, imported []models.TagDefinition) (merged []models.TagDefinition, added, skipped int) {
	merged = append([]models.TagDefinition(nil), existing...)
	seen := make(map[string]bool, len(existing)+len(imported))
	for _, d := range existing {
		seen[strings.ToLower(strings.TrimSpace(d.Name))] = true
	}
	for _, d := range imported {
		key := strings.ToLower(strings.TrimSpace(d.Name))
		if seen[key] {
			skipped++
			continue
		}
		seen[key] = true
		merged = append(merged, d)
		added++
	}
	return merged, added, skipped
}
