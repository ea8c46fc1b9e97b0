package daemon

import (
	"strings"
	"testing"
)

func TestUnit(t *testing.T) {
	unit := Unit("/usr/local/bin/chgd", "--config", "/etc/chgd.json")

	if !strings.Contains(unit, "ExecStart=/usr/local/bin/chgd daemon --config /etc/chgd.json\n") {
		t.Fatalf("unexpected ExecStart in unit:\n%s", unit)
	}
	if strings.Contains(unit, "/path/to/chgd") {
		t.Fatalf("placeholder left in unit:\n%s", unit)
	}
	if !strings.Contains(unit, "Type=notify\n") {
		t.Fatalf("daemon readiness is not reported to systemd:\n%s", unit)
	}
	if !strings.Contains(unit, "WantedBy=multi-user.target") {
		t.Fatalf("unit is not installable:\n%s", unit)
	}
}
