package merge

// Deep recursively merges theirs onto ours and returns the result. For a key
// present on both sides the values are merged recursively when both are
// objects; otherwise the value from theirs wins. Keys unique to either side
// are preserved. Neither input is mutated.
func Deep(ours, theirs map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(ours)+len(theirs))
	for key, value := range ours {
		result[key] = value
	}
	for key, incoming := range theirs {
		existing, present := result[key]
		if present {
			existingMap, existingOk := existing.(map[string]interface{})
			incomingMap, incomingOk := incoming.(map[string]interface{})
			if existingOk && incomingOk {
				result[key] = Deep(existingMap, incomingMap)
				continue
			}
		}
		result[key] = incoming
	}
	return result
}
