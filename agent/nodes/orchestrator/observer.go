package orchestratornode

import "time"

// Observer receives per-turn and per-tool outcomes, e.g. for metrics.
type Observer interface {
	ObserveTurn(terminal string, cycles int, elapsed time.Duration)
	ObserveTool(tool string, status string)
}

type NopObserver struct{}

func (NopObserver) ObserveTurn(string, int, time.Duration) {}
func (NopObserver) ObserveTool(string, string)             {}
