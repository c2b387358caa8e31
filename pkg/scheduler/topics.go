package scheduler

import (
	"strings"

	"github.com/cuemby/corral/pkg/types"
)

var actionTopics = map[string]string{
	"ping":            types.TopicCompute,
	"attach_volume":   types.TopicCompute,
	"detach_volume":   types.TopicCompute,
	"get_console":     types.TopicCompute,
	"describe_volume": types.TopicVolume,
}

// TopicFor maps an action onto the worker role that executes it.
// Instance actions go to compute, volume actions to volume.
// An empty result means the caller must name the topic.
func TopicFor(action string) string {
	if topic, ok := actionTopics[action]; ok {
		return topic
	}
	switch {
	case strings.HasSuffix(action, "_instance"):
		return types.TopicCompute
	case strings.HasSuffix(action, "_volume"):
		return types.TopicVolume
	default:
		return ""
	}
}
