package finalize

// RenameSchema is the JSON schema for the per-shard name refinement
// response.
var RenameSchema = map[string]any{
	"type": "json_schema",
	"json_schema": map[string]any{
		"name":   "shard_name_refinement",
		"strict": true,
		"schema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"topic_title": map[string]any{
					"type":        "string",
					"description": "Refined topic title, textbook chapter style",
				},
				"topic_key": map[string]any{
					"type":        "string",
					"description": "Lowercase hyphenated key derived from the topic title",
				},
				"subtopic_title": map[string]any{
					"type":        "string",
					"description": "Refined subtopic title",
				},
				"subtopic_key": map[string]any{
					"type":        "string",
					"description": "Lowercase hyphenated key derived from the subtopic title",
				},
			},
			"required": []string{
				"topic_title",
				"topic_key",
				"subtopic_title",
				"subtopic_key",
			},
			"additionalProperties": false,
		},
	},
}

// renameResult is the wire shape of a name refinement before keys are
// re-slugified locally.
type renameResult struct {
	TopicTitle    string `json:"topic_title"`
	TopicKey      string `json:"topic_key"`
	SubtopicTitle string `json:"subtopic_title"`
	SubtopicKey   string `json:"subtopic_key"`
}

// DedupSchema is the JSON schema for the duplicate-detection response: pairs
// of subtopics judged to cover the same material, referenced by key.
var DedupSchema = map[string]any{
	"type": "json_schema",
	"json_schema": map[string]any{
		"name":   "subtopic_duplicates",
		"strict": true,
		"schema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pairs": map[string]any{
					"type":        "array",
					"description": "Pairs of duplicate subtopics; the second member is merged into the first",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"topic_1":    map[string]any{"type": "string"},
							"subtopic_1": map[string]any{"type": "string"},
							"topic_2":    map[string]any{"type": "string"},
							"subtopic_2": map[string]any{"type": "string"},
						},
						"required": []string{
							"topic_1",
							"subtopic_1",
							"topic_2",
							"subtopic_2",
						},
						"additionalProperties": false,
					},
				},
			},
			"required":             []string{"pairs"},
			"additionalProperties": false,
		},
	},
}

// dedupResult is the wire shape of the duplicate list.
type dedupResult struct {
	Pairs []dedupPair `json:"pairs"`
}

type dedupPair struct {
	Topic1    string `json:"topic_1"`
	Subtopic1 string `json:"subtopic_1"`
	Topic2    string `json:"topic_2"`
	Subtopic2 string `json:"subtopic_2"`
}
