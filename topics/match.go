// Package topics implements MQTT topic-filter matching: the wildcard rules
// used by both the bus (live fan-out) and persistence (durable subscriber
// lookup) to decide whether a filter covers a published topic.
package topics

import "strings"

// SysPrefix is the reserved namespace for broker/cluster metadata topics.
// A bare "#" or "+" at the first level never matches a topic under this
// prefix; a filter must opt in explicitly by starting with "$" itself.
const SysPrefix = "$SYS"

// TopicMatch reports whether topic matches filter under MQTT wildcard
// rules: '+' matches exactly one level, '#' matches its level and every
// level below it and must be the last level of filter. A filter's leading
// wildcard never matches a topic whose first level starts with '$'; the
// filter must start with '$' itself to reach into that namespace.
func TopicMatch(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}
	if filter == topic {
		return true
	}

	filterLevels := strings.Split(filter, "/")
	topicLevels := strings.Split(topic, "/")

	if strings.HasPrefix(topic, "$") {
		if filter[0] != '$' {
			return false
		}
		if filterLevels[0] == "+" || filterLevels[0] == "#" {
			return false
		}
	}

	for i, fLevel := range filterLevels {
		// '#' only ever appears as the filter's final level (by
		// construction of a valid filter), so it terminates the walk.
		if fLevel == "#" {
			return true
		}

		if i >= len(topicLevels) {
			// filter has more levels than topic and didn't end in '#':
			// "a/+" doesn't reach "a", only "a/b".
			return false
		}

		tLevel := topicLevels[i]

		if fLevel == "+" {
			continue
		}

		if fLevel != tLevel {
			return false
		}
	}

	// Every filter level matched; that's only a full match if topic had
	// no levels left over.
	return len(filterLevels) == len(topicLevels)
}
