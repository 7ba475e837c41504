package sessions

import (
	"testing"

	"github.com/ggoodman/mcp-coffee-shop/mcp"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateHandshaking, StateReady, true},
		{StateHandshaking, StateClosed, true},
		{StateReady, StateClosed, true},
		{StateReady, StateHandshaking, false},
		{StateReady, StateReady, false},
		{StateClosed, StateReady, false},
		{StateClosed, StateHandshaking, false},
		{StateClosed, StateClosed, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestCapabilitySetFrom(t *testing.T) {
	var c mcp.ClientCapabilities
	c.Sampling = &struct{}{}
	c.Roots = &struct {
		ListChanged bool `json:"listChanged"`
	}{ListChanged: true}

	got := CapabilitySetFrom(c)
	want := CapabilitySet{Roots: true, RootsListChanged: true, Sampling: true}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}
