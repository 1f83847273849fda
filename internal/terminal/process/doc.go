// Package process runs login shells on pseudo-terminals.
//
// A Spawner starts the configured shell with creack/pty under the target
// account's uid/gid. Each Process has one reader goroutine that forwards
// output to a Sink in order, holding back an incomplete UTF-8 sequence at a
// read boundary, and one waiter goroutine that reaps the child and delivers
// the ExitStatus exactly once after the last output.
//
// Shell priming is driven by output: the prompt and screen are set up once
// the first prompt marker appears, or after ReadyTimeout if none does.
package process
