package tools

import "time"

// RegisterBuiltins wires the built-in tool set into a registry.
func RegisterBuiltins(r *Registry, commandTimeout, fetchTimeout time.Duration) {
	r.Register(RunCommandDefinition(), NewRunCommand(commandTimeout))
	r.Register(GetCurrentWeatherDefinition(), NewGetCurrentWeather())
	r.Register(FetchWebpageDefinition(), NewFetchWebpage(fetchTimeout))
}
