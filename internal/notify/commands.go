package notify

import (
	"fmt"
	"strings"
)

// StrategyControl is the subset of the orchestrator the chat command
// surface drives directly: pausing/resuming a named strategy runner and
// confirming a kill-switch activation.
type StrategyControl interface {
	PauseStrategy(name string) error
	ResumeStrategy(name string) error
	TriggerKillSwitch(reason string) error
	DailyPnL() (realized, unrealized float64)
}

// Dispatcher implements CommandHandler, parsing the chat command surface:
// status, pnl, pause [strategy], resume [strategy], kill confirm, help.
type Dispatcher struct {
	status StatusProvider
	ctrl   StrategyControl
}

// NewDispatcher builds the command dispatcher over a status provider and
// strategy controller.
func NewDispatcher(status StatusProvider, ctrl StrategyControl) *Dispatcher {
	return &Dispatcher{status: status, ctrl: ctrl}
}

// HandleCommand implements CommandHandler. It performs no authorization
// itself: WebSocket messages reach it after HandleWebSocket's operator
// principal check (skipped when no principal is configured), and
// HandleKill calls it for any POST to /api/kill without a check.
func (d *Dispatcher) HandleCommand(text string) string {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return ""
	}

	switch strings.ToLower(fields[0]) {
	case "help":
		return "commands: status, pnl, pause [strategy], resume [strategy], kill confirm, help"

	case "status":
		snap := d.status.Status()
		return fmt.Sprintf("mode=%s kill_switch=%v trading_halted=%v daily_loss_halt=%v open_positions=%d",
			snap.TradingMode, snap.KillSwitch, snap.TradingHalted, snap.DailyLossHalt, snap.OpenPositions)

	case "pnl":
		realized, unrealized := d.ctrl.DailyPnL()
		return fmt.Sprintf("realized_today=%.2f unrealized=%.2f", realized, unrealized)

	case "pause":
		name := ""
		if len(fields) > 1 {
			name = fields[1]
		}
		if err := d.ctrl.PauseStrategy(name); err != nil {
			return "error: " + err.Error()
		}
		if name == "" {
			return "all strategies paused"
		}
		return fmt.Sprintf("strategy %q paused", name)

	case "resume":
		name := ""
		if len(fields) > 1 {
			name = fields[1]
		}
		if err := d.ctrl.ResumeStrategy(name); err != nil {
			return "error: " + err.Error()
		}
		if name == "" {
			return "all strategies resumed"
		}
		return fmt.Sprintf("strategy %q resumed", name)

	case "kill":
		if len(fields) < 2 || fields[1] != "confirm" {
			return `kill switch requires "kill confirm"`
		}
		if err := d.ctrl.TriggerKillSwitch("operator chat command"); err != nil {
			return "error: " + err.Error()
		}
		return "kill switch activated"

	default:
		return fmt.Sprintf("unrecognized command %q; try \"help\"", fields[0])
	}
}
