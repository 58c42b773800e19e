package notify

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

type fakeStatusProvider struct {
	snap StatusSnapshot
}

func (f *fakeStatusProvider) Status() StatusSnapshot { return f.snap }

type fakeStrategyControl struct {
	paused     map[string]bool
	killed     bool
	killedFor  string
	realized   float64
	unrealized float64
	failWith   error
}

func (f *fakeStrategyControl) PauseStrategy(name string) error {
	if f.failWith != nil {
		return f.failWith
	}
	if f.paused == nil {
		f.paused = map[string]bool{}
	}
	f.paused[name] = true
	return nil
}

func (f *fakeStrategyControl) ResumeStrategy(name string) error {
	if f.failWith != nil {
		return f.failWith
	}
	if f.paused != nil {
		delete(f.paused, name)
	}
	return nil
}

func (f *fakeStrategyControl) TriggerKillSwitch(reason string) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.killed = true
	f.killedFor = reason
	return nil
}

func (f *fakeStrategyControl) DailyPnL() (float64, float64) {
	return f.realized, f.unrealized
}

func TestHandleCommandStatus(t *testing.T) {
	t.Parallel()
	provider := &fakeStatusProvider{snap: StatusSnapshot{
		TradingMode: "paper", OpenPositions: 3, Timestamp: time.Now(),
	}}
	d := NewDispatcher(provider, &fakeStrategyControl{})

	reply := d.HandleCommand("status")
	if !strings.Contains(reply, "mode=paper") || !strings.Contains(reply, "open_positions=3") {
		t.Errorf("unexpected status reply: %q", reply)
	}
}

func TestHandleCommandPnl(t *testing.T) {
	t.Parallel()
	ctrl := &fakeStrategyControl{realized: 12.5, unrealized: -3.25}
	d := NewDispatcher(&fakeStatusProvider{}, ctrl)

	reply := d.HandleCommand("pnl")
	want := fmt.Sprintf("realized_today=%.2f unrealized=%.2f", 12.5, -3.25)
	if reply != want {
		t.Errorf("reply = %q, want %q", reply, want)
	}
}

func TestHandleCommandPauseResume(t *testing.T) {
	t.Parallel()
	ctrl := &fakeStrategyControl{}
	d := NewDispatcher(&fakeStatusProvider{}, ctrl)

	d.HandleCommand("pause mirror")
	if !ctrl.paused["mirror"] {
		t.Fatal("expected mirror to be paused")
	}

	d.HandleCommand("resume mirror")
	if ctrl.paused["mirror"] {
		t.Fatal("expected mirror to be resumed")
	}
}

func TestHandleCommandKillRequiresConfirm(t *testing.T) {
	t.Parallel()
	ctrl := &fakeStrategyControl{}
	d := NewDispatcher(&fakeStatusProvider{}, ctrl)

	reply := d.HandleCommand("kill")
	if ctrl.killed {
		t.Fatal("kill switch must not trip without the confirm phrase")
	}
	if !strings.Contains(reply, "kill confirm") {
		t.Errorf("reply = %q, want a prompt for the confirm phrase", reply)
	}

	d.HandleCommand("kill confirm")
	if !ctrl.killed {
		t.Fatal("expected kill switch to trip on \"kill confirm\"")
	}
}

func TestHandleCommandUnrecognized(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(&fakeStatusProvider{}, &fakeStrategyControl{})

	reply := d.HandleCommand("frobnicate")
	if !strings.Contains(reply, "unrecognized") {
		t.Errorf("reply = %q, want an unrecognized-command message", reply)
	}
}

func TestHandleCommandEmpty(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(&fakeStatusProvider{}, &fakeStrategyControl{})

	if reply := d.HandleCommand("   "); reply != "" {
		t.Errorf("reply = %q, want empty for blank input", reply)
	}
}
