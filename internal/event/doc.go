// Package event provides a pub-sub event bus that decouples the workflow loop
// from its observers (structured logging, Prometheus metrics, the CLI).
//
// # Main Types
//
//   - [Event]: Interface that all events must implement, providing EventType() and Timestamp()
//   - [Bus]: Synchronous pub-sub event dispatcher with thread-safe operations
//   - [Handler]: Function type for event handlers (func(Event))
//
// # Event Categories
//
// Phase:
//   - [PhaseStartedEvent], [PhaseCompletedEvent]
//
// Process:
//   - [ProcessFinishedEvent]: every tool invocation, primary or validator
//   - [ValidatorSettledEvent]: one per validator per validation phase
//
// Loop:
//   - [LoopPausedEvent], [LoopResumedEvent], [StoryCompletedEvent], [LoopFinishedEvent]
//
// Reconciliation:
//   - [DiscrepancyCorrectedEvent]
//
// # Basic Usage
//
//	bus := event.NewBus(logger)
//
//	bus.Subscribe(event.TypeLoopPaused, func(e event.Event) {
//	    paused := e.(event.LoopPausedEvent)
//	    fmt.Printf("paused on %s (%s)\n", paused.AnomalyID, paused.AnomalyType)
//	})
//
//	bus.SubscribeAll(func(e event.Event) {
//	    logger.Debug("event", "type", e.EventType())
//	})
package event
