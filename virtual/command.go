package virtual

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cowboyrushforth/fprintvirt/validate"
)

// Verb is the first word of a simulation command.
type Verb string

const (
	VerbInsert                 Verb = "INSERT"
	VerbRemove                 Verb = "REMOVE"
	VerbScan                   Verb = "SCAN"
	VerbError                  Verb = "ERROR"
	VerbRetry                  Verb = "RETRY"
	VerbFinger                 Verb = "FINGER"
	VerbUnplug                 Verb = "UNPLUG"
	VerbSleep                  Verb = "SLEEP"
	VerbSetEnrollStages        Verb = "SET_ENROLL_STAGES"
	VerbSetScanType            Verb = "SET_SCAN_TYPE"
	VerbSetCancellationEnabled Verb = "SET_CANCELLATION_ENABLED"
	VerbList                   Verb = "LIST"
)

type verbSpec struct {
	immediate bool
	check     func(args []string) error
}

var verbs = map[Verb]verbSpec{
	VerbInsert:                 {check: printIDArg},
	VerbRemove:                 {check: printIDArg},
	VerbScan:                   {check: printIDArg},
	VerbError:                  {check: codeArg},
	VerbRetry:                  {check: codeArg},
	VerbFinger:                 {check: boolArg},
	VerbSleep:                  {check: sleepArg},
	VerbUnplug:                 {immediate: true, check: noArgs},
	VerbSetEnrollStages:        {immediate: true, check: intArg},
	VerbSetScanType:            {immediate: true, check: oneArg},
	VerbSetCancellationEnabled: {immediate: true, check: boolArg},
	VerbList:                   {immediate: true, check: noArgs},
}

// Verbs returns every verb the transport understands.
func Verbs() []Verb {
	return []Verb{
		VerbInsert, VerbRemove, VerbScan, VerbError, VerbRetry, VerbFinger,
		VerbUnplug, VerbSleep, VerbSetEnrollStages, VerbSetScanType,
		VerbSetCancellationEnabled, VerbList,
	}
}

// Command is one parsed simulation message.
type Command struct {
	Verb Verb
	Args []string
}

// ParseCommand parses a space separated command line.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimRight(line, " \r\n\x00")
	if err := validate.CommandLine(line); err != nil {
		return Command{}, fmt.Errorf("invalid command: %w", err)
	}

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("invalid command: empty")
	}
	cmd := Command{Verb: Verb(strings.ToUpper(fields[0])), Args: fields[1:]}

	spec, ok := verbs[cmd.Verb]
	if !ok {
		return Command{}, fmt.Errorf("unknown command %q", fields[0])
	}
	if err := spec.check(cmd.Args); err != nil {
		return Command{}, fmt.Errorf("invalid %s command: %w", cmd.Verb, err)
	}
	return cmd, nil
}

// Immediate reports whether the command bypasses the queue.
func (c Command) Immediate() bool {
	return verbs[c.Verb].immediate
}

// Arg returns the first argument, or "".
func (c Command) Arg() string {
	if len(c.Args) == 0 {
		return ""
	}
	return c.Args[0]
}

// Int returns the first argument as an integer. ParseCommand has already
// checked it for the verbs that take one.
func (c Command) Int() int {
	n, _ := strconv.Atoi(c.Arg())
	return n
}

// Bool returns whether the first argument is non-zero.
func (c Command) Bool() bool {
	return c.Int() != 0
}

func (c Command) String() string {
	if len(c.Args) == 0 {
		return string(c.Verb)
	}
	return string(c.Verb) + " " + strings.Join(c.Args, " ")
}

func noArgs(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("takes no arguments")
	}
	return nil
}

func oneArg(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("takes exactly one argument")
	}
	return nil
}

func printIDArg(args []string) error {
	if err := oneArg(args); err != nil {
		return err
	}
	return validate.PrintID(args[0])
}

func intArg(args []string) error {
	if err := oneArg(args); err != nil {
		return err
	}
	if _, err := strconv.Atoi(args[0]); err != nil {
		return fmt.Errorf("%q is not a number", args[0])
	}
	return nil
}

func codeArg(args []string) error {
	if err := intArg(args); err != nil {
		return err
	}
	if n, _ := strconv.Atoi(args[0]); n < 0 {
		return fmt.Errorf("code cannot be negative")
	}
	return nil
}

func boolArg(args []string) error {
	if err := oneArg(args); err != nil {
		return err
	}
	if args[0] != "0" && args[0] != "1" {
		return fmt.Errorf("expected 0 or 1, got %q", args[0])
	}
	return nil
}

func sleepArg(args []string) error {
	if err := intArg(args); err != nil {
		return err
	}
	n, _ := strconv.Atoi(args[0])
	return validate.SleepInterval(n)
}
