// Package conveyor provides an embeddable CI workflow engine.
//
// Workflows are YAML documents: named jobs connected by needs edges, each
// job a sequential list of steps (run commands or action references such as
// checkout, toolchain and cache). The engine schedules independent jobs in
// parallel, runs the steps of a job strictly in order and stops a job at the
// first failing step unless the step opts into continue-on-error.
//
// End-users typically interact with the engine via the Service facade
// exposed by this package:
//
//	srv := conveyor.New()
//	rt := srv.Runtime()
//	ctx := context.Background()
//	_ = rt.Start(ctx)
//	defer rt.Shutdown(ctx)
//
//	wf, _ := rt.LoadWorkflow(ctx, "ci.yaml")
//	run, _ := rt.StartRun(ctx, wf, model.NewPushEvent("main", ""))
//	out, _ := rt.WaitForRun(ctx, run.ID, time.Minute)
//
// For more details see the README and individual sub-packages.
package conveyor
