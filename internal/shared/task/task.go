// Package task holds the messages exchanged between the helper and its
// workers through the broker.
package task

import "time"

// TimeLayout is the timestamp format converters receive window bounds in.
const TimeLayout = "2006-01-02T15:04:05"

type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

// Config is what a converter needs to process one window.
type Config struct {
	StartDate          string `json:"start_date"`
	EndDate            string `json:"end_date"`
	Stix2ObjectsFolder string `json:"stix2_objects_folder"`
	FileSystem         string `json:"file_system"`
	Stix2BundlesFolder string `json:"stix2_bundles_folder"`
	ResultsPerPage     int    `json:"results_per_page"`
	NVDAPIKey          string `json:"nvd_api_key,omitempty"`
}

// NewConfig builds a Config for the window [start, end] writing objects to
// workspace and bundles under bundlesDir.
func NewConfig(start, end time.Time, workspace, bundlesDir string, resultsPerPage int, apiKey string) Config {
	return Config{
		StartDate:          start.Format(TimeLayout),
		EndDate:            end.Format(TimeLayout),
		Stix2ObjectsFolder: workspace,
		FileSystem:         workspace,
		Stix2BundlesFolder: bundlesDir,
		ResultsPerPage:     resultsPerPage,
		NVDAPIKey:          apiKey,
	}
}

// Message is one unit of work. With WorkerID set only that worker takes it;
// otherwise any worker of Kind does.
type Message struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	WorkerID    string    `json:"worker_id,omitempty"`
	Filename    string    `json:"filename"`
	Config      Config    `json:"config"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Result reports the outcome of a Message.
type Result struct {
	TaskID      string    `json:"task_id"`
	WorkerID    string    `json:"worker_id,omitempty"`
	Status      Status    `json:"status"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}
