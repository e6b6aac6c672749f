package extract

// wrapperSchema is the JSON Schema for the extraction wrapper the model must
// return: an events array of extracted events plus open questions. Extracted
// events omit event_id and created_at (the extractor assigns those) and add
// a confidence score.
func wrapperSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"events": map[string]any{
				"type":        "array",
				"items":       extractedEventSchema(),
				"minItems":    1,
				"description": "提取的事件列表，至少包含 1 个事件",
			},
			"open_questions": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "需要用户澄清的问题列表",
			},
		},
		"required": []string{"events"},
	}
}

func extractedEventSchema() map[string]any {
	entityUpdateSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"entity_type": map[string]any{
				"type": "string",
				"enum": []string{"character", "item", "location", "faction"},
			},
			"entity_id": map[string]any{"type": "string"},
			"updates": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":               map[string]any{"type": "string"},
					"location_id":        map[string]any{"type": "string"},
					"alive":              map[string]any{"type": "boolean"},
					"faction_id":         map[string]any{"type": "string"},
					"owner_id":           map[string]any{"type": "string"},
					"unique":             map[string]any{"type": "boolean"},
					"parent_location_id": map[string]any{"type": "string"},
					"leader_id":          map[string]any{"type": "string"},
					"members":            map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"metadata":           map[string]any{"type": "object"},
				},
			},
		},
		"required": []string{"entity_type", "entity_id", "updates"},
	}

	statePatchSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"entity_updates": map[string]any{
				"type":                 "object",
				"additionalProperties": entityUpdateSchema,
			},
			"time_update": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"calendar": map[string]any{"type": "string"},
					"anchor": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"label": map[string]any{"type": "string"},
							"order": map[string]any{"type": "integer", "minimum": 0},
						},
						"required": []string{"label", "order"},
					},
				},
			},
			"quest_updates": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"quest_id": map[string]any{"type": "string"},
						"status": map[string]any{
							"type": "string",
							"enum": []string{"active", "completed", "failed"},
						},
						"metadata": map[string]any{"type": "object"},
					},
					"required": []string{"quest_id", "status"},
				},
			},
			"constraint_additions": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id": map[string]any{"type": "string"},
						"type": map[string]any{
							"type": "string",
							"enum": []string{"immutable_event", "unique_item", "entity_state", "relationship"},
						},
						"description": map[string]any{"type": "string"},
						"entity_id":   map[string]any{"type": "string"},
						"value":       map[string]any{"type": "object"},
					},
					"required": []string{"id", "type", "description"},
				},
			},
			"player_updates": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":             map[string]any{"type": "string"},
					"location_id":      map[string]any{"type": "string"},
					"inventory_add":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"inventory_remove": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"party_add":        map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"party_remove":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
			},
		},
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"turn": map[string]any{"type": "integer", "minimum": 0},
			"time": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"label": map[string]any{"type": "string"},
					"order": map[string]any{"type": "integer", "minimum": 0},
				},
				"required": []string{"label", "order"},
			},
			"where": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"location_id": map[string]any{"type": "string"},
				},
				"required": []string{"location_id"},
			},
			"who": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"actors":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"witnesses": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
				"required": []string{"actors"},
			},
			"type": map[string]any{
				"type": "string",
				"enum": []string{
					"OWNERSHIP_CHANGE", "DEATH", "REVIVAL", "TRAVEL",
					"FACTION_CHANGE", "QUEST_START", "QUEST_COMPLETE", "QUEST_FAIL",
					"ITEM_CREATE", "ITEM_DESTROY", "RELATIONSHIP_CHANGE",
					"TIME_ADVANCE", "OTHER",
				},
			},
			"summary":     map[string]any{"type": "string", "minLength": 1},
			"payload":     map[string]any{"type": "object"},
			"state_patch": statePatchSchema,
			"confidence":  map[string]any{"type": "number", "minimum": 0, "maximum": 1},
		},
		"required": []string{"turn", "time", "where", "who", "type", "summary", "payload", "state_patch"},
	}
}
