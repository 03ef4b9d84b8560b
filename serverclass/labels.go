package serverclass

// MergeLabels merges caller-supplied labels with system
// labels. System labels win on key collision so callers
// cannot override the fixture identity keys.
func MergeLabels(
	caller map[string]string,
	system map[string]string,
) map[string]string {
	merged := make(
		map[string]string,
		len(caller)+len(system),
	)

	for key, val := range caller {
		merged[key] = val
	}

	for key, val := range system {
		merged[key] = val
	}

	return merged
}
