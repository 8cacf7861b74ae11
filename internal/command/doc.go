// Package command turns declarative transform requests into external process
// invocations, runs them with bounded time, and classifies the result.
//
// Pipeline:
//   - Registry.Select picks the first Template whose pattern matches
//     "<sourceExt>:<targetExt>"
//   - Expand substitutes ${name} placeholders and tokenizes SPLIT: fragments
//   - Launcher.Execute starts the process (no shell), drains stdout and
//     stderr concurrently and kills the process group on timeout
//   - Classify maps the result to Success, ExpectedFailure or FatalFailure
//
// Lifecycle of one execution:
//
//	Pending -> Launched -> Completed | TimedOut | LaunchFailed
//
// Completed resolves to a verdict through the template's acceptable exit
// codes. TimedOut and LaunchFailed are always FatalFailure.
//
// Templates and registries are immutable after construction and shared by
// all requests. Nothing in this package logs or retries; every outcome goes
// back to the caller.
package command
