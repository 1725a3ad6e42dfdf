// Package automation provides the rule engine for Butler Core.
//
// An automation couples triggers (when), conditions (unless), and an action
// tree (then) under a per-automation concurrency policy. The engine runs a
// periodic evaluation pass over a read-only state snapshot; fired triggers
// run their automation through mode admission, condition gating, and
// sequential action execution.
//
// Architecture:
//
//	┌────────────────────────────────────────────────────────────┐
//	│                    Engine (engine.go)                       │
//	│  Scheduler: snapshot → trigger pass → admission → actions   │
//	│  ┌──────────────┐    ┌──────────────┐                      │
//	│  │   Registry   │───▶│  Repository  │                      │
//	│  │(registry.go) │    │(repository.go)│                     │
//	│  └──────────────┘    └──────────────┘                      │
//	│        │                                                    │
//	│        ▼                                                    │
//	│  ┌────────────────────────────────────────────────┐        │
//	│  │  Evaluation Pass                                │        │
//	│  │  1. Assemble Context (entities, event, sun)     │        │
//	│  │  2. Fire triggers (enabled → cooldown → check)  │        │
//	│  │  3. Admit per mode (single/restart/queued/      │        │
//	│  │     parallel)                                   │        │
//	│  │  4. Evaluate conditions (all must pass)         │        │
//	│  │  5. Execute action tree, collect results        │        │
//	│  │  6. Persist execution, publish fired event      │        │
//	│  └────────────────────────────────────────────────┘        │
//	└────────────────────────────────────────────────────────────┘
//
// # Key Types
//
//   - Automation: triggers + conditions + actions under one mode policy
//   - Trigger/Condition/Action: the component contracts and their variants
//   - Context: per-pass read-only evaluation snapshot
//   - Execution: audit record of one automation run
//   - Blueprint: parameterised template stamped into automation instances
//   - Definition: persisted form, hydrated through the config factory
//   - Registry: thread-safe in-memory cache wrapping Repository
//   - Engine: scheduler that owns the snapshot and drives passes
//
// # Thread Safety
//
// Engine, Registry, Automation, and all trigger/condition/action variants
// are safe for concurrent use. All public methods use appropriate
// synchronisation.
//
// # Usage
//
//	repo := automation.NewSQLiteRepository(db)
//	registry := automation.NewRegistry(repo)
//	registry.SetLogger(log)
//
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	engine := automation.NewEngine(repo, automation.EngineOptions{
//	    Broker:   broker,
//	    Sun:      sunCalc,
//	    Renderer: automation.NewTemplateRenderer(),
//	    Logger:   log,
//	})
//	for _, def := range defs {
//	    if err := engine.Register(&def); err != nil {
//	        return err
//	    }
//	}
//	go engine.Run(ctx)
package automation
