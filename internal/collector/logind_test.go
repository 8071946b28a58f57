package collector

import "testing"

func TestAssertionsFromInhibitors(t *testing.T) {
	inhibitors := []Inhibitor{
		{What: "handle-power-key:handle-suspend-key", Who: "gsd-media-keys", Why: "keys", Mode: "block", PID: 900},
		{What: "sleep", Who: "NetworkManager", Why: "disconnect first", Mode: "delay", PID: 500},
		{What: "idle:sleep", Who: "firefox", Why: "video playing", Mode: "block", PID: 3000},
		{What: "handle-lid-switch", Who: "gnome-shell", Why: "external monitor", Mode: "block", PID: 1200},
	}

	got := AssertionsFromInhibitors(inhibitors)
	if len(got) != 2 {
		t.Fatalf("AssertionsFromInhibitors() len = %d, want 2: %+v", len(got), got)
	}
	if got[0].PID != 1200 || got[0].Process != "gnome-shell" || got[0].Type != "handle-lid-switch" {
		t.Fatalf("got[0] = %+v, want gnome-shell lid switch", got[0])
	}
	if got[1].PID != 3000 || got[1].Reason != "video playing" || got[1].Type != "idle:sleep" {
		t.Fatalf("got[1] = %+v, want firefox idle:sleep", got[1])
	}
}

func TestAssertionsFromInhibitors_Empty(t *testing.T) {
	if got := AssertionsFromInhibitors(nil); len(got) != 0 {
		t.Fatalf("AssertionsFromInhibitors(nil) = %+v, want empty", got)
	}
}
