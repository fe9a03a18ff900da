// Package engine wires all Herald subsystems together. It creates the
// extension registry, channel dispatcher, template renderer, callback
// registry, middleware chain, and worker pool, and provides the public
// Enqueue/Cancel operations.
//
// This package exists to break the import cycle: the root herald package
// defines Entity (imported by job, notification, etc.) and so cannot
// import those packages back. The engine package sits above all
// subsystem packages and below the application layer.
//
// Typical usage:
//
//	h, _ := herald.New(
//		herald.WithStore(store),
//		herald.WithWorkers(8),
//	)
//	eng, _ := engine.Build(h)
//	eng.RegisterChannel(channel.NewEmail(smtpConfig))
//	eng.RegisterTemplate("welcome", "Hello {{.name}}!")
//	eng.RegisterCallback("audit", auditCallback)
//
//	_ = eng.Start(ctx)
//	defer eng.Stop(ctx)
//
//	j, err := eng.Enqueue(ctx, notification.New("email", "a@example.com", "Hi", "body"))
package engine
