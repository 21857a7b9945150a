// Package network carries sensor messages over UDP, either live from a
// socket or replayed from a packet capture, and fans each message line out
// to subscribers.
package network

import "bytes"

// splitLines calls fn for each non-blank line in payload. A datagram
// normally carries one message but newline-joined batches are accepted.
func splitLines(payload []byte, fn func(string)) int {
	n := 0
	for _, line := range bytes.Split(payload, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		fn(string(line))
		n++
	}
	return n
}
