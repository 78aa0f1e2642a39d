package conventions

import "path/filepath"

const (
	// DefaultDataDir is the default xferd data directory name (relative to home).
	DefaultDataDir = ".xferd"
	// DBFile is the state database filename inside the data dir.
	DBFile = "xferd.db"
	// LockFile guards the data dir against more than one running server.
	LockFile = "serve.lock"
	// ProfilesDir contains YAML profile files.
	ProfilesDir = "profiles"

	LogsDir          = "logs"
	JobLogsDir       = "jobs"
	ArtifactsDir     = "artifacts"
	StagingDir       = "staging"
	UnknownErrorsDir = "rcloneerrors/unknown"

	// Per job file extensions.
	JobLogExt          = ".log"
	JobCmdExt          = ".cmd"
	JobRcloneConfigExt = ".rclone.conf"
	ArtifactExt        = ".zip"
	ArtifactTmpExt     = ".zip.tmp"
)

// DBPath returns the path of the state database.
func DBPath(dataDir string) string { return filepath.Join(dataDir, DBFile) }

// LockPath returns the path of the server lock file.
func LockPath(dataDir string) string { return filepath.Join(dataDir, LockFile) }

// JobLogsPath returns the directory where per job files (logs, commands, engine configs) live.
func JobLogsPath(dataDir string) string { return filepath.Join(dataDir, LogsDir, JobLogsDir) }

// JobLogPath returns the path of the log of a job.
func JobLogPath(dataDir, jobID string) string {
	return filepath.Join(JobLogsPath(dataDir), jobID+JobLogExt)
}

// JobCmdPath returns the path of the recorded command line of a job.
func JobCmdPath(dataDir, jobID string) string {
	return filepath.Join(JobLogsPath(dataDir), jobID+JobCmdExt)
}

// JobRcloneConfigPath returns the path of the transient rclone config of a job.
func JobRcloneConfigPath(dataDir, jobID string) string {
	return filepath.Join(JobLogsPath(dataDir), jobID+JobRcloneConfigExt)
}

// ArtifactsPath returns the directory of job zip artifacts.
func ArtifactsPath(dataDir string) string { return filepath.Join(dataDir, ArtifactsDir, JobLogsDir) }

// ArtifactPath returns the final path of the artifact of a job.
func ArtifactPath(dataDir, jobID string) string {
	return filepath.Join(ArtifactsPath(dataDir), jobID+ArtifactExt)
}

// ArtifactTmpPath returns the in progress path of the artifact of a job.
func ArtifactTmpPath(dataDir, jobID string) string {
	return filepath.Join(ArtifactsPath(dataDir), jobID+ArtifactTmpExt)
}

// StagingPath returns the root of upload session staging directories.
func StagingPath(dataDir string) string { return filepath.Join(dataDir, StagingDir) }

// UploadStagingPath returns the staging directory of an upload session.
func UploadStagingPath(dataDir, uploadID string) string {
	return filepath.Join(StagingPath(dataDir), uploadID)
}

// UnknownErrorsPath returns the directory where unclassified engine errors are sampled.
func UnknownErrorsPath(dataDir string) string {
	return filepath.Join(dataDir, LogsDir, filepath.FromSlash(UnknownErrorsDir))
}

// ProfilesPath returns the directory of YAML profile files.
func ProfilesPath(dataDir string) string { return filepath.Join(dataDir, ProfilesDir) }
