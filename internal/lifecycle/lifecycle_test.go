package lifecycle

import "testing"

func TestFlags_DefaultFalse(t *testing.T) {
	SetReady(false)
	SetShuttingDown(false)
	if IsReady() {
		t.Error("IsReady() = true, want false by default")
	}
	if IsShuttingDown() {
		t.Error("IsShuttingDown() = true, want false by default")
	}
}

func TestSetReady(t *testing.T) {
	SetReady(true)
	defer SetReady(false)
	if !IsReady() {
		t.Error("IsReady() = false after SetReady(true), want true")
	}
}

func TestSetShuttingDown(t *testing.T) {
	SetShuttingDown(true)
	if !IsShuttingDown() {
		t.Error("IsShuttingDown() = false after SetShuttingDown(true), want true")
	}
	SetShuttingDown(false)
	if IsShuttingDown() {
		t.Error("IsShuttingDown() = true after SetShuttingDown(false), want false")
	}
}
