package protocol

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DecodeRequest parses a request frame as produced by Encode. It is the
// controller-side half of the codec, used by the simulator and by offline
// capture analysis.
func DecodeRequest(frame string) (uint32, Command, error) {
	frame = strings.TrimSpace(frame)
	if !strings.HasPrefix(frame, "<:") || !strings.HasSuffix(frame, ":>") {
		return 0, Command{}, fmt.Errorf("%w: bad request delimiters", ErrMalformedFrame)
	}
	parts := strings.SplitN(frame[2:len(frame)-2], ":", 3)
	if len(parts) != 3 {
		return 0, Command{}, fmt.Errorf("%w: %d request fields", ErrMalformedFrame, len(parts))
	}
	if parts[0] != versionTag {
		return 0, Command{}, fmt.Errorf("%w: version %q", ErrMalformedFrame, parts[0])
	}
	id, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, Command{}, fmt.Errorf("%w: packet id: %v", ErrMalformedFrame, err)
	}

	body := parts[2]
	open := strings.IndexByte(body, '(')
	if open <= 0 || !strings.HasSuffix(body, ")") {
		return 0, Command{}, fmt.Errorf("%w: command %q", ErrMalformedFrame, body)
	}
	cmd := Command{Verb: Verb(body[:open])}
	if args := body[open+1 : len(body)-1]; args != "" {
		cmd.Args = strings.Split(args, ",")
	}
	return uint32(id), cmd, nil
}

// FormatTerminal renders a terminal response frame. A NaN value is written as
// the literal token nan, as the controller does.
func FormatTerminal(packetID uint32, status int, value float64, axes Axes) string {
	fields := make([]string, 0, terminalFields)
	fields = append(fields, "[", versionTag, strconv.FormatUint(uint64(packetID), 10), strconv.Itoa(status))
	if math.IsNaN(value) {
		fields = append(fields, "nan")
	} else {
		fields = append(fields, strconv.FormatFloat(value, 'f', -1, 64))
	}
	for _, v := range axes.values() {
		fields = append(fields, strconv.FormatFloat(v, 'f', -1, 64))
	}
	fields = append(fields, "]")
	return strings.Join(fields, ":")
}

// FormatProvisional renders a "still working" response frame.
func FormatProvisional(packetID uint32, status int) string {
	return fmt.Sprintf("[:%s:%d:%d:]", versionTag, packetID, status)
}
