/*
Package log provides structured logging for the daemon using zerolog.

A single global Logger is set up once via Init and shared by every
package. WithComponent builds one child logger per package (scheduler,
rulegraph, events, control, action) so lines from each can be told apart;
per-call fields like service or task name are added with Str() at each
log site rather than through dedicated constructors, since they vary
call to call instead of component to component.

Usage:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	schedulerLog := log.WithComponent("scheduler")
	schedulerLog.Info().Str("service", "web").Msg("running checks")
*/
package log
