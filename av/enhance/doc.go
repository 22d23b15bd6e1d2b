// Package enhance implements the real-time voice enhancement engine: echo
// cancellation, adaptive noise suppression and post-processing of a mono
// capture stream before it is encoded and sent to peers.
//
// # Pipeline
//
// Samples are processed in hops of HopSize. Every hop runs, in order:
//
//	echo canceller → frame buffer (Hann window) → FFT → voice activity
//	detector → noise profile → spectral suppressor → inverse FFT and
//	overlap-add → noise gate, high-pass, compressor, limiter
//
// Output lags input by FrameSize samples while enhancement is enabled.
// Disabled engines copy input to output without delay.
//
// # Usage
//
//	cfg := enhance.DefaultConfig()
//	engine, err := enhance.New(cfg, enhance.WithName("mic"))
//	if err != nil {
//	    return err
//	}
//	if err := engine.Init(); err != nil {
//	    return err
//	}
//	defer engine.Close()
//
//	for block := range capture {
//	    if err := engine.ProcessPCM(out, block); err != nil {
//	        return err
//	    }
//	}
//
// # Concurrency
//
// Each engine owns its own noise and speech profiles; several engines can
// run in parallel. ProcessBlock and ProcessPCM must be called from one
// goroutine. Control calls (Enable, Disable, SetIntensity, SetTemplates,
// ResetAdaptation) may come from any goroutine and take effect at the next
// hop boundary. FeedFarEnd may be called from one additional goroutine.
//
// # Failure Handling
//
// Configuration problems fail New with a *ConfigurationError. Everything
// after that fails open: a frame layout that cannot run at the sample
// rate, a stage error or too many consecutive hops with non-finite samples
// switch the engine to pass-through and emit a "bypassed" StatusEvent.
//
// # Metrics
//
// Engines record hop counters, a hop duration histogram and gauges for
// echo convergence and speech presence through OpenTelemetry. Use
// WithMeterProvider to select the provider; the global provider is the
// default.
package enhance
