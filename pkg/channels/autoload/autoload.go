// Package autoload registers every built-in channel factory via side effect
// imports. Import it blank from main.
package autoload

import (
	_ "echoai/pkg/channels/telegram"
	_ "echoai/pkg/channels/web"
)
