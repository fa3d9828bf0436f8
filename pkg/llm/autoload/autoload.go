// Package autoload registers every built-in LLM provider factory via side
// effect imports. Import it blank from main.
package autoload

import (
	_ "echoai/pkg/llm/gemini"
	_ "echoai/pkg/llm/ollamalm"
	_ "echoai/pkg/llm/openaic"
)
