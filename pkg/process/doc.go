// Package process runs services and commands on the local machine.
//
// Services are spawned detached in their own process group with output
// appended to <run_dir>/<service>.log and their pid recorded in
// <run_dir>/<service>.pid, so a later modctl invocation can find and stop
// them. Readiness is decided by the service's health check: an HTTP GET,
// a TCP dial, or a command that must exit 0.
//
// Commands run through /bin/sh -c in the module directory, either with
// captured output (value providers) or attached to the terminal (builds,
// migrations, runnables).
package process
