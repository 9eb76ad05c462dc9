package paths

// Topic segments published by the updater.
// Subscribers on the fleet side depend on them; changing a value breaks them.

// Flash is the common prefix of every updater topic.
const Flash = "flash"

// Upstream: Updater -> Fleet
const (
	// FlashStatus carries the lifecycle of one run.
	// Payload: { "runId": "...", "state": "started|finished|lost", "code": 0, ... }
	// Pattern: {root}/flash/status/{runID}
	FlashStatus = Flash + "/status"

	// FlashProgress carries the completion of one run in percent.
	// Payload: { "runId": "...", "progress": 40 }
	// Pattern: {root}/flash/progress/{runID}
	FlashProgress = Flash + "/progress"
)
