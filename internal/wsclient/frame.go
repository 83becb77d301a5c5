package wsclient

import "encoding/json"

// Wire frames are JSON arrays with a string command first and arguments
// following (spec §6). Server -> client frames:

func setupFrame() []byte {
	b, _ := json.Marshal([2]any{"setup", map[string]any{}})
	return b
}

func stdoutFrame(text string) []byte {
	b, _ := json.Marshal([2]any{"stdout", text})
	return b
}

func disconnectFrame() []byte {
	b, _ := json.Marshal([2]any{"disconnect", 1})
	return b
}

// parseFrame decodes a client -> server frame into its command name and
// remaining arguments. A malformed frame (not a JSON array, empty, or a
// non-string first element) is reported via ok=false; per spec §7
// (MalformedFrame) the caller drops it without disconnecting the client.
func parseFrame(raw []byte) (cmd string, args []json.RawMessage, ok bool) {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil || len(arr) == 0 {
		return "", nil, false
	}
	if err := json.Unmarshal(arr[0], &cmd); err != nil {
		return "", nil, false
	}
	return cmd, arr[1:], true
}
