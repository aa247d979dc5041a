// Package protocol implements the text framing spoken by the SmallSMT external
// server: request frames of the form <:V1:<id>:<verb>(<args>):> and response
// frames of the form [:V1:<id>:<status>:...:].
package protocol

import (
	"strconv"
	"strings"
)

// Verb names a controller operation.
type Verb string

const (
	VerbHome        Verb = "home"
	VerbMoveTo      Verb = "moveTo"
	VerbPick        Verb = "pick"
	VerbPlace       Verb = "place"
	VerbActuate     Verb = "actuate"
	VerbActuateRead Verb = "actuateRead"
	VerbSetEnabled  Verb = "setEnabled"
)

// KnownVerbs lists every verb the controller accepts.
var KnownVerbs = []Verb{VerbHome, VerbMoveTo, VerbPick, VerbPlace, VerbActuate, VerbActuateRead, VerbSetEnabled}

// IsKnown reports whether v is one of KnownVerbs.
func (v Verb) IsKnown() bool {
	for _, k := range KnownVerbs {
		if v == k {
			return true
		}
	}
	return false
}

// Command is a verb with its already formatted arguments. Commands are built
// once per dispatch and never mutated.
type Command struct {
	Verb Verb
	Args []string
}

// Text renders the command body, e.g. moveTo(N1,10.000000,20.000000,NaN,0.000000,1.000000).
func (c Command) Text() string {
	var b strings.Builder
	b.WriteString(string(c.Verb))
	b.WriteByte('(')
	b.WriteString(strings.Join(c.Args, ","))
	b.WriteByte(')')
	return b.String()
}

func (c Command) String() string { return c.Text() }

// FloatArg parses argument i as a number. It is used by the simulator and
// tests to read back what was encoded.
func (c Command) FloatArg(i int) (float64, error) {
	if i < 0 || i >= len(c.Args) {
		return 0, strconv.ErrRange
	}
	return strconv.ParseFloat(c.Args[i], 64)
}

// formatNumber renders v with six fixed decimals regardless of locale.
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func boolArg(on bool) string {
	if on {
		return "1"
	}
	return "0"
}

// Home returns the home() command.
func Home() Command {
	return Command{Verb: VerbHome}
}

// MoveTo moves the named mountable to an absolute location in millimetres.
// NaN axes are passed through verbatim; the controller treats them as "leave".
func MoveTo(name string, x, y, z, rotation, speed float64) Command {
	return Command{
		Verb: VerbMoveTo,
		Args: []string{name, formatNumber(x), formatNumber(y), formatNumber(z), formatNumber(rotation), formatNumber(speed)},
	}
}

func Pick(nozzle string) Command {
	return Command{Verb: VerbPick, Args: []string{nozzle}}
}

func Place(nozzle string) Command {
	return Command{Verb: VerbPlace, Args: []string{nozzle}}
}

// Actuate sets a numeric actuator value.
func Actuate(name string, value float64) Command {
	return Command{Verb: VerbActuate, Args: []string{name, formatNumber(value)}}
}

// ActuateBool switches an actuator on (1) or off (0).
func ActuateBool(name string, on bool) Command {
	return Command{Verb: VerbActuate, Args: []string{name, boolArg(on)}}
}

// ActuateRead asks the controller for an actuator reading, returned in the
// value field of the terminal response.
func ActuateRead(name string) Command {
	return Command{Verb: VerbActuateRead, Args: []string{name}}
}

func SetEnabled(on bool) Command {
	return Command{Verb: VerbSetEnabled, Args: []string{boolArg(on)}}
}
