package topic

import (
	"fmt"

	"github.com/autopeer-io/ecuflash/internal/pkg/mqtt/paths"
)

// TopicBuilder encapsulates the logic for constructing MQTT topic strings.
type TopicBuilder struct {
	// root is the base namespace for all topics (e.g., "fleet/bench-7").
	root string
}

// NewTopicBuilder creates a new instance of TopicBuilder with the specified root namespace.
func NewTopicBuilder(root string) *TopicBuilder {
	return &TopicBuilder{root: root}
}

// Root returns the namespace of the builder.
func (b *TopicBuilder) Root() string {
	return b.root
}

// FlashStatus returns the topic carrying the lifecycle messages of one run.
// Direction: Updater -> Fleet
func (b *TopicBuilder) FlashStatus(runID string) string {
	return b.build(paths.FlashStatus, runID)
}

// FlashStatusWildcard returns the filter matching the status of every run.
// Result: {root}/flash/status/+
func (b *TopicBuilder) FlashStatusWildcard() string {
	return b.build(paths.FlashStatus, Wildcard)
}

// FlashProgress returns the topic carrying the progress of one run.
// Direction: Updater -> Fleet
func (b *TopicBuilder) FlashProgress(runID string) string {
	return b.build(paths.FlashProgress, runID)
}

// FlashWildcard returns the filter matching everything the updater publishes.
// Result: {root}/flash/#
func (b *TopicBuilder) FlashWildcard() string {
	return fmt.Sprintf("%s/%s/%s", b.root, paths.Flash, MultiWildcard)
}

// build is a private helper to construct the final topic string.
// Pattern: {root}/{suffix}/{identifier}
func (b *TopicBuilder) build(suffix, id string) string {
	return fmt.Sprintf("%s/%s/%s", b.root, suffix, id)
}
