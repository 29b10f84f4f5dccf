package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrintID(t *testing.T) {
	assert.NoError(t, PrintID("right-thumb"))
	assert.NoError(t, PrintID("foo-print"))
	assert.Error(t, PrintID(""))
	assert.Error(t, PrintID("two words"))
	assert.Error(t, PrintID(strings.Repeat("x", 257)))
}

func TestEnrollStages(t *testing.T) {
	assert.NoError(t, EnrollStages(1))
	assert.NoError(t, EnrollStages(20))
	assert.EqualError(t, EnrollStages(0), "enroll_stages > 0")
	assert.Error(t, EnrollStages(-1))
}

func TestSleepInterval(t *testing.T) {
	assert.NoError(t, SleepInterval(0))
	assert.NoError(t, SleepInterval(1500))
	assert.Error(t, SleepInterval(-5))
	assert.Error(t, SleepInterval(int(MaxSleep.Milliseconds())+1))
}

func TestCommandLine(t *testing.T) {
	assert.NoError(t, CommandLine("SCAN foo-print"))
	assert.Error(t, CommandLine(""))
	assert.Error(t, CommandLine("SCAN\x00foo"))
	assert.Error(t, CommandLine(strings.Repeat("A", MaxCommandLength+1)))
}

func TestUsername(t *testing.T) {
	assert.NoError(t, Username("testuser"))
	assert.NoError(t, Username("first.last-2"))
	assert.Error(t, Username(""))
	assert.Error(t, Username("-rf"))
	assert.Error(t, Username("a/b"))
}
