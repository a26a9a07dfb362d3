// Package telemetry provides logging, tracing, metrics and event publishing
// for the inspection service.
//
// Logging is built on zerolog, tracing on OpenTelemetry (OTLP over gRPC or
// stdout), and metrics on a private Prometheus registry. The event publisher
// carries execution progress and inventory changes to in-process
// subscribers such as the audit recorder.
//
// Initialize telemetry at startup and shut it down on exit:
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Components that need a logger take a zerolog.Logger:
//
//	hosts := engine.NewHostRegistry(store, tel.Logger.Component("hosts"))
package telemetry
