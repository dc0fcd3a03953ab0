// Package log provides the leveled, printf-style logger used by ragflow.
//
// The graph executor logs run start and finish at Info, early stops at Warn
// and every step at Debug. Graphs compiled without graph.WithLogger use the
// package-level logger:
//
//	log.SetLogLevel(log.LogLevelDebug)
//
// Two implementations ship with the package: DefaultLogger over the standard
// library logger, and GologLogger over github.com/kataras/golog, which the
// ragflow command uses:
//
//	logger := log.NewGologLoggerTo(os.Stderr, log.LogLevelInfo)
//	compiled, err := g.Compile(graph.WithLogger(logger))
//
// Level names from configuration files are converted with ParseLevel.
package log
