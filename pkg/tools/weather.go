package tools

import "context"

// GetCurrentWeatherDefinition is the schema for the canned weather tool.
func GetCurrentWeatherDefinition() ToolDefinition {
	return ToolDefinition{
		Name:        "get_current_weather",
		Description: "Get the current weather for a location.",
		Parameters: map[string]ParamSpec{
			"location": {
				Type:        "string",
				Description: "City and state, e.g. San Francisco, CA",
				Required:    true,
			},
			"unit": {
				Type:        "string",
				Description: "Temperature unit, 'celsius' or 'fahrenheit'",
			},
		},
	}
}

// NewGetCurrentWeather returns the weather fixture tool. It reports a fixed
// temperature; it exists to exercise the tool-calling path end to end without
// an external dependency.
func NewGetCurrentWeather() ToolFunc {
	return func(ctx context.Context, args map[string]any) (any, error) {
		location, _ := args["location"].(string)
		unit, ok := args["unit"].(string)
		if !ok || unit == "" {
			unit = "fahrenheit"
		}
		return map[string]any{
			"location":    location,
			"unit":        unit,
			"temperature": 72,
		}, nil
	}
}
