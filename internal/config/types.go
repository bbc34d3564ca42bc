package config

// ValidStoreBackends lists the token store backends.
var ValidStoreBackends = map[string]bool{
	"sqlite": true,
	"file":   true,
	"none":   true,
}

// ValidFullPolicies lists what the worker pool may do when its queue is full.
var ValidFullPolicies = map[string]bool{
	"reject": true,
	"block":  true,
}

// ValidLogLevels lists the accepted logging levels.
var ValidLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}
