package secret

import (
	"strings"
	"testing"
)

func TestPrepareName(t *testing.T) {
	name := PrepareName("My Tenant")
	if !strings.HasPrefix(name, "ruleengine.my-tenant-") {
		t.Errorf("PrepareName = %q", name)
	}
	if name == PrepareName("My Tenant") {
		t.Error("names must be unique per call")
	}
}
