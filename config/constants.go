package config

// Verbosity levels accepted by ConfigOverride.LogLvl and the CLI -v flag
const (
	ErrorVerbose = iota + 1
	WarnVerbose
	InfoVerbose
	DebugVerbose
	TraceVerbose
)
