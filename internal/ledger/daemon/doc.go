// Package daemon decides when the ledger syncs.
//
// # Architecture
//
//   - Orchestrator: owns the session (signed-in user, first-pull flag),
//     wraps every local mutation with a detached push, and turns lifecycle
//     events into pulls.
//   - Runner: the long-running loop behind `ledger daemon`. It watches the
//     session file with fsnotify and fires foreground pulls on a ticker,
//     on Trigger, and on SIGUSR1 where available.
//
// # Failure isolation
//
// Mutation methods return local errors only. Every push and pull runs on its
// own goroutine with a background context and no timeout; failures and
// panics go to the configured report.Reporter tagged with the operation name
// (pushBook, pullIncremental, ...). Nothing is retried: the next mutation or
// foreground event is the retry.
//
//	orch, err := daemon.NewOrchestrator(database, engine, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	orch.SignIn(userID)
//	if err := orch.CreateTransaction(ctx, tx); err != nil {
//	    // local write failed
//	}
//	orch.Wait()
package daemon
