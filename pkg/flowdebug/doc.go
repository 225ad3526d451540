// Package flowdebug runs business flows step by step under a debugger.
//
// A BusinessFlow is a named graph of FlowSteps. A FlowExecutor walks one
// flow for one DebugSession: before each step it checks breakpoints and
// pending pause or single-step requests, runs the step body, appends an
// ExecutionRecord to the session history and merges the step outputs into
// the session context.
//
// # Quick start
//
//	d := flowdebug.NewServiceDebugger("users",
//	    flowdebug.WithLogger(slog.Default()),
//	    flowdebug.WithStepHandler("create_record", createRecord),
//	)
//	if err := d.RegisterFlow(flowdebug.UserRegistrationFlow()); err != nil {
//	    return err
//	}
//	result, sessionID, err := d.ExecuteWithDebug(ctx, "user_registration", input, flowdebug.ModeNormal)
//
// # Step bodies
//
// A StepHandler is resolved by step id, then by step type. Steps with no
// handler run a placeholder body that sleeps for the step delay and returns
// {"validated": true} for validation steps and {"action_completed": true}
// for action steps.
//
// # Branching
//
// Only next_steps[0] is followed after an ordinary step. A decision step
// may declare branches; the first branch whose expr-lang condition is true
// against the session context wins, otherwise next_steps[0] is followed.
// Conditions are compiled when the flow is registered.
//
// # Pausing
//
// Execution pauses before a step that has a breakpoint, after Pause, or
// after Step. The executor waits on a channel until Resume, Step or Stop;
// cancelling the context also releases it. Step runs exactly one step and
// pauses again.
//
// # Sessions
//
// A ServiceDebugger keeps live sessions in a cache bounded by capacity and
// idle TTL. Evicted sessions are stopped and their snapshot archived, and
// every finished execution is archived as well, so GetSession can still
// return them.
//
// # Errors
//
// A failing step body ends the execution with status "error" and a
// *StepError; errors.Is matches the body's own error. Panics become a
// *PanicError inside the *StepError. Callback failures are only logged.
package flowdebug
