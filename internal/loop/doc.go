// Package loop is the workflow state machine.
//
// Each story runs CREATE, VALIDATE_CREATE, SYNTHESIZE_CREATE, DEVELOP,
// REVIEW and SYNTHESIZE_REVIEW in that order; each epic ends with one
// RETROSPECTIVE. A Machine executes one phase at a time: single-actor phases
// go to the primary provider, validation phases to the validation
// Coordinator. Every output passes through the Guardian, and a flagged
// output turns into a Pause outcome carrying an anomaly record instead of an
// error.
//
// The state is committed after every phase, whether it advanced or paused,
// before anything else happens. A restarted Machine re-executes the
// committed phase in full.
package loop
