package extract

// BuildFieldsJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a
// generic map. It is sent to the recognition service as a structured output
// constraint and used locally to validate the response at the boundary.
func BuildFieldsJSONSchema() map[string]any {
	lineItem := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"name":       map[string]any{"type": "string", "minLength": 1},
			"quantity":   map[string]any{"type": "string", "pattern": `^\d+$`},
			"unit_price": decimalProp(),
			"total":      decimalProp(),
		},
		"required": []string{"name"},
	}

	props := map[string]any{
		"vendor":              map[string]any{"type": "string", "minLength": 1},
		"tx_date":             map[string]any{"type": "string", "pattern": `^\d{4}-\d{2}-\d{2}$`},
		"total":               decimalProp(),
		"currency_code":       map[string]any{"type": "string", "minLength": 3, "maxLength": 3},
		"addressee":           map[string]any{"type": "string"},
		"registration_number": map[string]any{"type": "string"},
		"subtotal":            decimalProp(),
		"tax":                 decimalProp(),
		"line_items":          map[string]any{"type": "array", "items": lineItem},
		"confidence":          map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
	}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
		"required":             []string{"vendor", "tx_date", "total"},
	}
}

func decimalProp() map[string]any {
	return map[string]any{
		"type":    "string",
		"pattern": `^-?\d+(\.\d{1,2})?$`,
	}
}
