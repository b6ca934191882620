package models

// TimestampSource selects which file timestamp defines a backup's age.
type TimestampSource string

// Timestamp sources.
const (
	TimestampCreation     TimestampSource = "creation"
	TimestampModification TimestampSource = "modification"
)

// RetentionPolicy configures an age-based cleanup.
type RetentionPolicy struct {
	Days      int
	DryRun    bool
	Timestamp TimestampSource // defaults to creation time
}

// RetentionReport summarizes a cleanup run.
type RetentionReport struct {
	Found        int
	Deleted      int
	Retained     int
	FreedBytes   int64
	DeletedPaths []string
	Errors       []string
	DryRun       bool
	Message      string
}
