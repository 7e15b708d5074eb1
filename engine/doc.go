// Package engine wires the forensic subsystems together and provides
// the application-level API: submitting searches, querying status and
// errors, cancelling, listing and deleting results, and subscribing to
// the live result stream.
//
// The engine package exists to sit above all subsystem packages (job,
// worker, middleware, the stores) and below the application layer; the
// root forensic package defines Entity and Config and therefore cannot
// import those packages back.
//
// # Building an Engine
//
//	eng, err := engine.New(store, cfg, logger,
//	    engine.WithMiddleware(middleware.Timeout(logger, 10*time.Minute)),
//	)
//
// # Operations
//
//	jobID, err := eng.Submit(ctx, "forensic.search", params)
//	state, err := eng.Status(ctx, jobID)
//	msg, stack, err := eng.Err(ctx, jobID)
//	items, total, err := eng.Results(ctx, jobID, job.ListOpts{SortBy: "score", Desc: true})
//	ch, err := eng.Subscribe(ctx, jobID, true)
//	err = eng.Cancel(ctx, jobID)
//	existed, err := eng.Delete(ctx, jobID)
//
// Start launches the worker pool; Stop shuts it down gracefully.
package engine
