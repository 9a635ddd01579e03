package config

// DefaultValues is the default configuration
const DefaultValues = `
[Log]
Environment = "development" # "production" or "development"
Level = "info"
Outputs = ["stderr"]

[Prometheus]
Enabled = false
Host = "localhost"
Port = 9091

[Profiling]
ProfilingHost = "localhost"
ProfilingPort = 6060
ProfilingEnabled = false

[Channel]
PerCallBufferLimit = 1048576    # 1 MiB retained per call for replay
ChannelBufferLimit = 16777216   # 16 MiB retained across all calls

[Client]
URL = "localhost:50051"
MinConnectTimeout = "5s"
RequestTimeout = "5s"
UseTLS = false
LocalOrchestration = true  # attempts are scheduled client-side, not by grpc-go

[Client.Retry]
MaxAttempts = 3
InitialBackoff = "100ms"
MaxBackoff = "10s"
BackoffMultiplier = 2.0
RetryableStatusCodes = ["UNAVAILABLE", "ABORTED", "RESOURCE_EXHAUSTED"]

[Client.Throttling]
MaxTokens = 10.0
TokenRatio = 0.1
`
