package suggest

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/refdata/internal/refdata"
)

const systemPrompt = `You curate controlled vocabularies for a document search index.
You receive raw values observed in one metadata facet, each with the number of documents carrying it.
Group values that name the same real-world entity (spelling variants, abbreviations, acronyms, casing, punctuation).
For each group choose the clearest full form as canonical_value, optionally a short display_label,
list the other raw values of the group verbatim as aliases, and give a confidence between 0 and 1.
Values that match nothing else form a group of their own with an empty aliases list.
Never invent aliases that are not in the input. Each raw value belongs to at most one group.
Respond with JSON only, no prose:
{"groups":[{"canonical_value":"...","display_label":"...","aliases":["..."],"confidence":0.9}]}`

// userPrompt renders the values of one discovery pass.
func userPrompt(dataType refdata.DataType, values []refdata.ValueCount) (string, error) {
	body, err := json.Marshal(values)
	if err != nil {
		return "", eris.Wrap(err, "suggest: marshal prompt values")
	}
	return fmt.Sprintf("Facet data type: %s\nRaw values (%d):\n%s", dataType, len(values), body), nil
}

type groupsEnvelope struct {
	Groups []refdata.Group `json:"groups"`
}

// parseGroups extracts groups from a model response. It tolerates code
// fences, surrounding prose and a bare top-level array.
func parseGroups(text string) ([]refdata.Group, error) {
	text = stripFences(text)
	if text == "" {
		return nil, eris.New("suggest: empty model response")
	}

	objStart := strings.Index(text, "{")
	arrStart := strings.Index(text, "[")
	if arrStart >= 0 && (objStart < 0 || arrStart < objStart) {
		if end := strings.LastIndex(text, "]"); end > arrStart {
			var groups []refdata.Group
			if err := json.Unmarshal([]byte(text[arrStart:end+1]), &groups); err != nil {
				return nil, eris.Wrap(err, "suggest: parse groups array")
			}
			return groups, nil
		}
	}

	end := strings.LastIndex(text, "}")
	if objStart < 0 || end <= objStart {
		return nil, eris.Errorf("suggest: no JSON in model response: %.200s", text)
	}
	var env groupsEnvelope
	if err := json.Unmarshal([]byte(text[objStart:end+1]), &env); err != nil {
		return nil, eris.Wrap(err, "suggest: parse groups")
	}
	return env.Groups, nil
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	return strings.TrimSpace(text)
}
