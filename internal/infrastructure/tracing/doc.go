/*
Package tracing gives every HTTP request and gateway message a span and
writes finished spans to the structured log.

Spans carry a trace id and a parent span id, propagated through
X-Trace-ID and X-Span-ID. Failed spans log at warn. Successful spans log at
debug, or at info when they take at least Config.SlowThreshold, which is
how slow account provisioning shows up in production logs.

	tracer := tracing.New(tracing.Config{Service: "termhost", SlowThreshold: time.Second}, logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	err := tracer.Trace(ctx, "ws.create-terminal", func(ctx context.Context) error {
		_, err := registry.CreateSession(ctx, req)
		return err
	}, zap.String("user_id", userID))
*/
package tracing
