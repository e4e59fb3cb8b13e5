package flags

// Package flags defines canonical CLI flag names shared by the cobra wiring
// and by code that needs to print or reference a flag (error messages,
// config validation hints).
// IMPORTANT: These are flag *names* without leading dashes.
// Example usage:
//
//	cmd.Flags().StringVar(&cfg.Targets.File, flags.FlagTargets, "", "...")
//	arg := "--" + flags.FlagTargets
const (
	// Invocation
	FlagInvocationID = "invocation-id"
	FlagAttempt      = "attempt"
	FlagTrigger      = "trigger"

	// Targets
	FlagTargets = "targets"
	FlagInclude = "include"
	FlagExclude = "exclude"

	// Store
	FlagStateDir = "state-dir"
	FlagStateDB  = "state-db"

	// Artifacts
	FlagArtifactName = "artifact-name"
	FlagReportFile   = "report-file"
	FlagSchemaMode   = "schema-mode"
	FlagSchemaMajor  = "schema-major"

	// Output
	FlagConsoleFormat        = "console-format"
	FlagConsoleFilterOutcome = "console-filter-outcome"
	FlagReport               = "report"
	FlagStepSummary          = "step-summary"
	FlagOut                  = "out"
	FlagOutFormat            = "out-format"
	FlagEmit                 = "emit"
	FlagNoConsole            = "no-console"

	// Publish
	FlagPublishBucket   = "publish-bucket"
	FlagPublishEndpoint = "publish-endpoint"
	FlagPublishPrefix   = "publish-prefix"
	FlagPublishRegion   = "publish-region"
	FlagPublishInsecure = "publish-insecure"

	// Runtime
	FlagConcurrency = "concurrency"
	FlagTimeout     = "timeout"
	FlagAPIURL      = "api-url"
	FlagVerbose     = "verbose"
	FlagLogLevel    = "log-level"
	FlagLogFormat   = "log-format"
)
