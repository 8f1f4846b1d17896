package util

import "bytes"

// CleanJSON trims chatter around the outermost JSON object or array of a
// backend reply, e.g. "Sure, here you go: {...}" or a ```json fence.
func CleanJSON(bs []byte) []byte {
	return trimPostfixAfterJSON(trimPrefixBeforeJSON(bs))
}

func trimPrefixBeforeJSON(bs []byte) []byte {
	startObject := bytes.IndexByte(bs, '{')
	startArray := bytes.IndexByte(bs, '[')

	switch {
	case startObject == -1 && startArray == -1:
		return bs
	case startObject == -1:
		return bs[startArray:]
	case startArray == -1:
		return bs[startObject:]
	default:
		return bs[min(startObject, startArray):]
	}
}

func trimPostfixAfterJSON(bs []byte) []byte {
	endObject := bytes.LastIndexByte(bs, '}')
	endArray := bytes.LastIndexByte(bs, ']')

	switch {
	case endObject == -1 && endArray == -1:
		return bs
	case endObject == -1:
		return bs[:endArray+1]
	case endArray == -1:
		return bs[:endObject+1]
	default:
		return bs[:max(endObject, endArray)+1]
	}
}
