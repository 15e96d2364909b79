package errors

// Common error codes used across domains
const (
	CodeNotFound       Code = "not_found"
	CodeAlreadyExists  Code = "already_exists"
	CodeInvalidRequest Code = "invalid_request"
	CodeUnavailable    Code = "unavailable"
	CodeTimeout        Code = "timeout"
	CodeInternal       Code = "internal_error"
)

// ============================================================================
// Toolchain Errors
// ============================================================================

var (
	// ErrToolchainNotFound is returned when every provider in the resolution
	// order reported the requested toolchain as unavailable
	ErrToolchainNotFound = New(DomainToolchain, CodeNotFound,
		"No usable toolchain found")

	// ErrVersionMismatch is returned when a toolchain version does not satisfy
	// a hard version requirement
	ErrVersionMismatch = New(DomainToolchain, "version_mismatch",
		"Toolchain version mismatch")

	// ErrToolchainDownloadFailed is returned when fetching a downloadable
	// toolchain archive fails
	ErrToolchainDownloadFailed = New(DomainToolchain, "download_failed",
		"Failed to download toolchain")
)

// ============================================================================
// Executor Errors
// ============================================================================

var (
	// ErrProcessLaunch is returned when a command cannot be started at all
	// (binary missing, working directory missing). Distinct from a command
	// that runs and exits non-zero, which is reported via the exit code.
	ErrProcessLaunch = New(DomainExec, "process_launch",
		"Failed to launch process")

	// ErrScriptWrite is returned when appending a command to the generated
	// build script fails
	ErrScriptWrite = New(DomainExec, "script_write",
		"Failed to write build script")
)

// ============================================================================
// Pipeline Errors
// ============================================================================

var (
	// ErrStageFailed is returned when a pipeline stage's command exits non-zero
	ErrStageFailed = New(DomainPipeline, "stage_failed",
		"Build stage failed")

	// ErrStateInvalid is returned when a stage is run from a state it cannot
	// start from
	ErrStateInvalid = New(DomainPipeline, "state_invalid",
		"Pipeline is not in a state that allows this operation")

	// ErrRequiredVersion is returned when an HDL project requires a different
	// tool version than the one resolved
	ErrRequiredVersion = New(DomainPipeline, "required_version",
		"Project requires a different tool version")
)

// ============================================================================
// Artifact Errors
// ============================================================================

var (
	// ErrArtifactMissing is returned when a mandatory artifact selector
	// matched no files after a build
	ErrArtifactMissing = New(DomainArtifact, "artifact_missing",
		"Mandatory build artifact not found")
)

// ============================================================================
// Repository Errors
// ============================================================================

var (
	// ErrRepoUnavailable is returned when a source repository cannot be
	// cloned or updated
	ErrRepoUnavailable = New(DomainRepo, CodeUnavailable,
		"Source repository unavailable")

	// ErrRefNotFound is returned when the requested ref does not exist in the
	// repository
	ErrRefNotFound = New(DomainRepo, "ref_not_found",
		"Requested ref not found in repository")
)

// ============================================================================
// Download Errors
// ============================================================================

var (
	// ErrDownloadFailed is returned when an HTTP download fails
	ErrDownloadFailed = New(DomainDownload, "download_failed",
		"Download failed")

	// ErrChecksumMismatch is returned when a downloaded file's checksum does
	// not match the expected value
	ErrChecksumMismatch = New(DomainDownload, "checksum_mismatch",
		"Downloaded file checksum mismatch")

	// ErrUnsupportedArchive is returned when an archive format is not supported
	ErrUnsupportedArchive = New(DomainDownload, "unsupported_archive",
		"Unsupported archive format")
)

// ============================================================================
// Storage Errors
// ============================================================================

var (
	// ErrStorageNotFound is returned when a storage object cannot be found
	ErrStorageNotFound = New(DomainStorage, CodeNotFound,
		"Object not found in storage")

	// ErrStorageUploadFailed is returned when a storage upload fails
	ErrStorageUploadFailed = New(DomainStorage, "upload_failed",
		"Failed to upload object to storage")

	// ErrStorageUnavailable is returned when the storage backend is unavailable
	ErrStorageUnavailable = New(DomainStorage, CodeUnavailable,
		"Storage backend unavailable")
)

// ============================================================================
// Database Errors
// ============================================================================

var (
	// ErrDatabaseConnection is returned when database connection fails
	ErrDatabaseConnection = New(DomainDatabase, "connection_failed",
		"Database connection failed")

	// ErrDatabaseQuery is returned when a database query fails
	ErrDatabaseQuery = New(DomainDatabase, "query_failed",
		"Database query failed")
)

// ============================================================================
// Config Errors
// ============================================================================

var (
	// ErrConfigInvalid is returned when configuration fails validation
	ErrConfigInvalid = New(DomainConfig, CodeInvalidRequest,
		"Invalid configuration")
)

// ============================================================================
// Internal Errors
// ============================================================================

var (
	// ErrInternal is a generic internal error
	ErrInternal = New(DomainInternal, CodeInternal,
		"Internal error")
)
