package extraction

// BoundarySchema is the JSON schema for the combined boundary-detection and
// page-guideline extraction response.
var BoundarySchema = map[string]any{
	"type": "json_schema",
	"json_schema": map[string]any{
		"name":   "page_boundary_decision",
		"strict": true,
		"schema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"is_new_topic": map[string]any{
					"type":        "boolean",
					"description": "True if this page opens a new topic/subtopic, false if it continues an open one",
				},
				"topic_name": map[string]any{
					"type":        "string",
					"description": "Topic this page belongs to; one of the open topics when continuing, a new name when opening",
				},
				"subtopic_name": map[string]any{
					"type":        "string",
					"description": "Subtopic this page belongs to; one of the open subtopics when continuing, a new name when opening",
				},
				"page_guidelines": map[string]any{
					"type":        "string",
					"description": "Consolidated teaching guidance derived from this page alone",
				},
				"reasoning": map[string]any{
					"type":        "string",
					"description": "Short explanation of the boundary decision",
				},
			},
			"required": []string{
				"is_new_topic",
				"topic_name",
				"subtopic_name",
				"page_guidelines",
				"reasoning",
			},
			"additionalProperties": false,
		},
	},
}

// boundaryResult is the wire shape of the boundary decision before keys are
// slugified.
type boundaryResult struct {
	IsNewTopic     bool   `json:"is_new_topic"`
	TopicName      string `json:"topic_name"`
	SubtopicName   string `json:"subtopic_name"`
	PageGuidelines string `json:"page_guidelines"`
	Reasoning      string `json:"reasoning"`
}
