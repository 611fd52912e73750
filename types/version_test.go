package types

import (
	"strconv"
	"strings"
	"testing"
)

func TestVersion(t *testing.T) {
	core, _, _ := strings.Cut(Version, "-")
	parts := strings.Split(core, ".")
	if len(parts) != 3 {
		t.Fatalf("Version %q is not major.minor.patch", Version)
	}
	for _, p := range parts {
		if _, err := strconv.Atoi(p); err != nil {
			t.Errorf("Version %q has a non-numeric component %q", Version, p)
		}
	}
	if EventContractVersion != Version {
		t.Errorf("EventContractVersion %q must track Version %q", EventContractVersion, Version)
	}
}
