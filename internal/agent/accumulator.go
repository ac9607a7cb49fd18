package agent

import (
	"bytes"
	"time"

	"github.com/stagelink/chatbot/internal/cache"
	"github.com/stagelink/chatbot/internal/models"
)

// accumulatorTTL bounds how long an actor's result log survives without new
// activity. Long enough to span a working session.
const accumulatorTTL = 30 * time.Minute

// Accumulator is the per-actor append log of executed tool results. It backs
// report generation and the deterministic fallback renderer. Appends
// deduplicate: re-running a tool that produced an identical payload does not
// grow the log, it only refreshes the entry's position as the latest result
// for that tool.
type Accumulator struct {
	c *cache.Cache[[]models.ToolExecution]
}

// NewAccumulator creates an empty accumulation log.
func NewAccumulator() *Accumulator {
	return &Accumulator{c: cache.New[[]models.ToolExecution](accumulatorTTL, 0)}
}

// Close releases the underlying cache.
func (a *Accumulator) Close() {
	a.c.Close()
}

// Append records one execution for the actor, deduplicating identical
// (tool, payload) entries.
func (a *Accumulator) Append(actorID string, exec models.ToolExecution) {
	log, _ := a.c.Get(actorID)
	for i, existing := range log {
		if existing.Tool == exec.Tool && bytes.Equal(existing.Payload, exec.Payload) {
			// Same data again: move it to the tail so the log stays ordered by
			// most recent result.
			log = append(append(log[:i:i], log[i+1:]...), exec)
			a.c.SetDefault(actorID, log)
			return
		}
	}
	a.c.SetDefault(actorID, append(log, exec))
}

// All returns the actor's full log, oldest first.
func (a *Accumulator) All(actorID string) []models.ToolExecution {
	log, _ := a.c.Get(actorID)
	out := make([]models.ToolExecution, len(log))
	copy(out, log)
	return out
}

// Clear drops the actor's log, typically at conversation end.
func (a *Accumulator) Clear(actorID string) {
	a.c.Delete(actorID)
}
