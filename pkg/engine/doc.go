// Package engine resolves mongod server parameters and produces the
// artifacts that describe the desired state of a MongoDB host.
//
// # Pipeline
//
// Generation runs in three steps:
//
//  1. Resolve - merge the caller Input with platform defaults (DefaultFor)
//     and apply platform overrides such as disabling the journal on 32-bit
//     architectures.
//  2. Validate - reject settings that conflict with each other. Violations
//     are reported as *ConfigurationConflictError and abort generation.
//  3. Produce - render the legacy mongod configuration text, the .mongorc.js
//     credentials file, the dbpath/pid/log file states and the optional
//     dbpath ownership repair exec.
//
// # Facts
//
// Defaults depend on the Facts interface. StaticFacts, LocalFacts,
// RemoteFacts (a command runner, usually SSH) and StoredFacts (the sqlite
// cache filled by FactsCollector) implement it.
//
// # Ordering
//
// Artifacts reference each other as File[path] and Exec[name]. Artifacts.Graph
// runs the DAG builder over those references so consumers can apply them
// level by level, and ToDOT renders the graph for Graphviz.
//
// # Example
//
//	g := engine.NewGenerator(engine.WithLogger(log.Logger))
//	a, err := g.Generate(ctx, engine.Input{Port: &port}, engine.LocalFacts{})
//	if engine.IsConfigurationConflict(err) {
//	    // fix the input
//	}
//	fmt.Print(a.Config.Content)
package engine
