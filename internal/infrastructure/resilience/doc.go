/*
Package resilience guards calls to the host's account tools with circuit
breakers.

A Group keeps one circuit per command, so a missing pkill does not stop
useradd. After Threshold consecutive failures a circuit opens and rejects
calls with ErrCircuitOpen. Once Cooldown passes it admits one probe: success
closes it, failure reopens it.

	tools := resilience.NewGroup(resilience.Policy{
		Threshold: 5,
		Cooldown:  30 * time.Second,
		Failure: func(err error) bool {
			// a command that ran and exited non-zero means the tool works
			return err != nil && exitCode(err) < 0
		},
	})

	err := tools.Do(ctx, "useradd", func(ctx context.Context) error {
		_, err := runner.Run(ctx, "useradd", args...)
		return err
	})

States:

	Closed --[Threshold failures]--> Open --[Cooldown]--> Half-Open --[probe ok]--> Closed
	                                  ^                        |
	                                  +-----[probe failed]-----+
*/
package resilience
