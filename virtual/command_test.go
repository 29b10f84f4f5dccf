package virtual

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	for line, want := range map[string]Command{
		"SCAN foo-print":             {Verb: VerbScan, Args: []string{"foo-print"}},
		"INSERT p1\n":                {Verb: VerbInsert, Args: []string{"p1"}},
		"UNPLUG ":                    {Verb: VerbUnplug, Args: []string{}},
		"sleep 1500":                 {Verb: VerbSleep, Args: []string{"1500"}},
		"SET_ENROLL_STAGES 0":        {Verb: VerbSetEnrollStages, Args: []string{"0"}},
		"SET_SCAN_TYPE eye-contact":  {Verb: VerbSetScanType, Args: []string{"eye-contact"}},
		"SET_CANCELLATION_ENABLED 0": {Verb: VerbSetCancellationEnabled, Args: []string{"0"}},
		"ERROR 4":                    {Verb: VerbError, Args: []string{"4"}},
		"RETRY 1":                    {Verb: VerbRetry, Args: []string{"1"}},
		"FINGER 1":                   {Verb: VerbFinger, Args: []string{"1"}},
		"LIST":                       {Verb: VerbList, Args: []string{}},
		"REMOVE testprint":           {Verb: VerbRemove, Args: []string{"testprint"}},
	} {
		cmd, err := ParseCommand(line)
		require.NoError(t, err, line)
		assert.Equal(t, want.Verb, cmd.Verb, line)
		assert.ElementsMatch(t, want.Args, cmd.Args, line)
	}
}

func TestParseCommandRejects(t *testing.T) {
	for _, line := range []string{
		"",
		"BOGUS",
		"SCAN",
		"SCAN a b",
		"ERROR x",
		"ERROR -1",
		"FINGER 2",
		"SLEEP -10",
		"UNPLUG now",
		"SET_ENROLL_STAGES many",
		"SCAN foo\x01",
	} {
		_, err := ParseCommand(line)
		assert.Error(t, err, "%q", line)
	}
}

func TestCommandAccessors(t *testing.T) {
	cmd, err := ParseCommand("FINGER 1")
	require.NoError(t, err)
	assert.True(t, cmd.Bool())
	assert.Equal(t, 1, cmd.Int())
	assert.False(t, cmd.Immediate())
	assert.Equal(t, "FINGER 1", cmd.String())

	cmd, err = ParseCommand("UNPLUG")
	require.NoError(t, err)
	assert.True(t, cmd.Immediate())
	assert.Equal(t, "", cmd.Arg())
	assert.Equal(t, "UNPLUG", cmd.String())

	immediate := 0
	for _, v := range Verbs() {
		if (Command{Verb: v}).Immediate() {
			immediate++
		}
	}
	assert.Equal(t, 5, immediate)
}

func TestSocketPath(t *testing.T) {
	assert.Equal(t, "/run/fp/virtual-device.socket", SocketPath("/run/fp", "virtual_device"))
	assert.Equal(t, "/run/fp/virtual-device-storage.socket", SocketPath("/run/fp", "virtual_device_storage"))
}
