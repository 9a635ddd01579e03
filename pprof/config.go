package pprof

import "fmt"

// Config represents the configuration settings for the profiling server.
type Config struct {
	// ProfilingHost is the address to bind the profiling server
	ProfilingHost string `mapstructure:"ProfilingHost"`
	// ProfilingPort is the port to bind the profiling server
	ProfilingPort int `mapstructure:"ProfilingPort"`
	// ProfilingEnabled is the flag to enable/disable the profiling server
	ProfilingEnabled bool `mapstructure:"ProfilingEnabled"`
}

// Address returns the host:port the profiling server binds to
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.ProfilingHost, c.ProfilingPort)
}
