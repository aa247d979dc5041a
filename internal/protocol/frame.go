package protocol

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// Version is the protocol revision embedded in every frame.
const Version = 1

// Field counts of the two response shapes.
const (
	terminalFields    = 16
	provisionalFields = 5
)

var (
	// ErrMalformedFrame marks a frame that failed shape, version or numeric
	// validation. Such frames are discarded by the dispatcher.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrPacketMismatch marks a well-formed frame carrying another packet id.
	ErrPacketMismatch = errors.New("packet id mismatch")
)

var versionTag = "V" + strconv.Itoa(Version)

// Axes is the telemetry block of a terminal response: the shared X/Y gantry
// plus four Z/C (height/rotation) pairs, one per nozzle.
type Axes struct {
	X, Y   float64
	Z1, C1 float64
	Z2, C2 float64
	Z3, C3 float64
	Z4, C4 float64
}

func (a Axes) values() [10]float64 {
	return [10]float64{a.X, a.Y, a.Z1, a.C1, a.Z2, a.C2, a.Z3, a.C3, a.Z4, a.C4}
}

func axesFrom(v [10]float64) Axes {
	return Axes{X: v[0], Y: v[1], Z1: v[2], C1: v[3], Z2: v[4], C2: v[5], Z3: v[6], C3: v[7], Z4: v[8], C4: v[9]}
}

// Response is a decoded, correlated response frame.
//
// Provisional responses only carry a status; Value and Axes are zero.
type Response struct {
	PacketID    uint32
	Status      int
	Provisional bool
	Value       float64
	Axes        Axes
}

// Fatal reports whether the controller signalled that it cannot continue.
func (r Response) Fatal() bool { return r.Status < 0 }

// Encode renders cmd as a request frame for packetID. All whitespace is
// stripped from the result.
func Encode(packetID uint32, cmd Command) []byte {
	msg := fmt.Sprintf("<:%s:%d:%s:>", versionTag, packetID, cmd.Text())
	return []byte(stripSpace(msg))
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// Decode parses a response frame and correlates it with expectedID.
// Any failure wraps ErrMalformedFrame; a foreign packet id additionally wraps
// ErrPacketMismatch. A fatal status is not an error here: callers must check
// Response.Fatal.
func Decode(payload string, expectedID uint32) (Response, error) {
	fields := strings.Split(strings.TrimSpace(payload), ":")

	switch len(fields) {
	case terminalFields, provisionalFields:
	default:
		return Response{}, fmt.Errorf("%w: %d fields", ErrMalformedFrame, len(fields))
	}
	if fields[0] != "[" || fields[len(fields)-1] != "]" {
		return Response{}, fmt.Errorf("%w: bad delimiters", ErrMalformedFrame)
	}
	if fields[1] != versionTag {
		return Response{}, fmt.Errorf("%w: version %q", ErrMalformedFrame, fields[1])
	}
	id, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return Response{}, fmt.Errorf("%w: packet id: %v", ErrMalformedFrame, err)
	}
	if id != int64(expectedID) {
		return Response{}, fmt.Errorf("%w: %w: got %d, want %d", ErrMalformedFrame, ErrPacketMismatch, id, expectedID)
	}
	status, err := strconv.Atoi(fields[3])
	if err != nil {
		return Response{}, fmt.Errorf("%w: status: %v", ErrMalformedFrame, err)
	}

	resp := Response{PacketID: expectedID, Status: status}
	if len(fields) == provisionalFields {
		resp.Provisional = true
		return resp, nil
	}

	if fields[4] == "nan" {
		resp.Value = math.NaN()
	} else if resp.Value, err = strconv.ParseFloat(fields[4], 64); err != nil {
		return Response{}, fmt.Errorf("%w: value: %v", ErrMalformedFrame, err)
	}

	var axes [10]float64
	for i := range axes {
		if axes[i], err = strconv.ParseFloat(fields[5+i], 64); err != nil {
			return Response{}, fmt.Errorf("%w: axis %d: %v", ErrMalformedFrame, i, err)
		}
	}
	resp.Axes = axesFrom(axes)
	return resp, nil
}

// ResponsePacketID returns the packet id of a response frame without
// validating the rest of it. Offline tools use it to correlate captures.
func ResponsePacketID(payload string) (uint32, error) {
	fields := strings.SplitN(strings.TrimSpace(payload), ":", 4)
	if len(fields) < 4 || fields[0] != "[" || fields[1] != versionTag {
		return 0, fmt.Errorf("%w: not a response frame", ErrMalformedFrame)
	}
	id, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: packet id: %v", ErrMalformedFrame, err)
	}
	return uint32(id), nil
}
