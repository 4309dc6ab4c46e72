// Package validation runs the multi-validator phases of the workflow.
//
// A Coordinator invokes every configured validator concurrently with the
// same prompt, under an optional phase deadline. One validator timing out or
// failing does not affect the others: the phase proceeds with whatever
// subset produced a report, as long as at least MinSuccessful did. Every
// report is written to disk before Validate returns, so a later synthesis
// phase (possibly in a new process after a crash) can load exactly the
// reports that were produced. Failures are published as validator.settled
// events and carried into the synthesis record.
//
// Validators never modify the project. Output that suggests a validator
// tried to is flagged on its report and otherwise ignored.
package validation
