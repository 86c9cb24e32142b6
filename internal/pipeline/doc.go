// Package pipeline is the orchestration core of gantry.
//
// It executes named tasks in a fixed sequential order, aborts the remaining
// work on the first failure, enforces per-task timeouts, and threads one
// shared run context through every task of a run.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────┐
//	│                      Chain Runner                         │
//	│  - resolves each name right before it runs                │
//	│  - strictly sequential, stops at the first failure        │
//	│  - detects names already on the composition path          │
//	└──────────────────────────────────────────────────────────┘
//	                │ Lookup                │ Invoke
//	                ▼                       ▼
//	┌────────────────────────┐   ┌─────────────────────────────┐
//	│     Task Registry      │   │        Task Invoker          │
//	│  name → body, options  │   │  - runs the body             │
//	└────────────────────────┘   │  - timeout, panic recovery   │
//	                             │  - settle-once Handle        │
//	                             └─────────────────────────────┘
//	                                            │
//	                                            ▼
//	┌──────────────────────────────────────────────────────────┐
//	│                       Run Context                         │
//	│  config lookup, Reparse, shared Flags, logging, Shell     │
//	└──────────────────────────────────────────────────────────┘
//
// # Task Contract
//
// A task body receives the run context and a Settler. It must call exactly
// one of Succeed or Fail, from any goroutine, once its work is finished:
//
//	reg.Register("lint", func(rc *pipeline.Context, s *pipeline.Settler) {
//	    res, err := rc.Shell().Exec("go vet ./...")
//	    if err != nil {
//	        s.Fail(err)
//	        return
//	    }
//	    s.Done(res.Err())
//	}, pipeline.Options{Timeout: 2 * time.Minute})
//
// Synchronous bodies can be written with Func:
//
//	reg.Register("clean", pipeline.Func(func(rc *pipeline.Context) error {
//	    if !rc.Flags().Consume("clean") {
//	        return nil
//	    }
//	    return rc.Shell().Rm("dist")
//	}), pipeline.Options{Writes: []string{"clean"}})
//
// A second settlement is ignored and reported as a contract violation. A
// body that never settles is failed with ErrTaskTimeout when the task has a
// timeout; without one the chain waits for it.
//
// # Chains
//
//	runner := pipeline.NewRunner(reg)
//	rc := runner.NewContext(ctx, pipeline.RunOptions{Args: os.Args[2:]})
//	err := runner.Run(rc, "clean", "lint", "build")
//
// Task bodies compose further work through their context with rc.Chain,
// rc.Run and rc.Task. Registry.RegisterChain registers a task whose body
// runs a fixed sub-chain.
//
// # Cancellation
//
// Each invocation gets its own context.Context, available as rc.Context().
// It is canceled when the task settles, when its timeout fires, or when the
// run's parent context ends. Subprocesses started through rc.Shell() observe
// it; any other work the body started is the body's own responsibility.
//
// # Shared State
//
// The flag bag returned by rc.Flags() is the only channel between tasks of a
// run. Writes by task i are visible to task i+1 because the runner does not
// start i+1 before i has settled.
package pipeline
