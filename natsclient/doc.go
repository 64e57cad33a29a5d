// Package natsclient manages the NATS connection used to forward monitoring
// reports off-process.
//
// The client wraps nats.go with a circuit breaker: after a threshold of
// consecutive connect or publish failures (default 5) the circuit opens and
// every call fails fast with ErrCircuitOpen until the backoff elapses. Each
// opening doubles the backoff up to a cap. A successful connect or reconnect
// resets it.
//
//	client, err := natsclient.NewClient("nats://localhost:4222", natsclient.WithName("flexpoint"))
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	err = client.Publish(ctx, "flexpoint.reports.invocation", payload)
//
// ErrNotConnected and ErrCircuitOpen wrap errors.ErrConnectionLost, so retry
// helpers classify them as transient.
//
// The integration suite starts a JetStream-enabled server with
// testcontainers and is skipped under -short.
package natsclient
