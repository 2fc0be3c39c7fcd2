package scheduledjob

import (
	"testing"
)

func TestCronParserAcceptsStandardSchedules(t *testing.T) {
	for _, expr := range []string{"0 */6 * * *", "30 2 * * 1-5", "*/15 * * * *"} {
		if _, err := cronParser.Parse(expr); err != nil {
			t.Errorf("schedule %q rejected: %v", expr, err)
		}
	}
	for _, expr := range []string{"", "not a cron", "61 * * * *", "* * * *"} {
		if _, err := cronParser.Parse(expr); err == nil {
			t.Errorf("schedule %q accepted", expr)
		}
	}
}

func TestEntryKey(t *testing.T) {
	if entryKey("C1", "nightly") != "C1/nightly" {
		t.Errorf("entryKey = %q", entryKey("C1", "nightly"))
	}
}
