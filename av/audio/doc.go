// Package audio provides the time-domain building blocks around the
// enhancement engine.
//
// # Architecture Overview
//
// The spectral stages live in subpackages:
//
//	dsp       framing, Hann windowing, FFT analysis and overlap-add synthesis
//	vad       voice activity detection and the speech profile
//	noise     noise profile estimation and noise-type templates
//	aec       NLMS echo canceller and its far-end reference queue
//	suppress  Wiener gain with template shaping and speech protection
//
// This package holds what runs before and after them:
//
//	Capture:  PCM → PCMToFloat → Resampler → engine
//	Engine:   ... → Synthesizer → EffectChain (gate, high-pass, compressor, limiter)
//	Far end:  Opus → FarEndDecoder → Resampler → echo canceller reference
//
// # Effects
//
// Effects implement AudioEffect and process a Block in place:
//
//	chain, err := audio.NewPostChain(44100)
//	block := &audio.Block{Samples: hop, SpeechPresence: p}
//	err = chain.Process(block)
//
// The standard chain contains:
//
//   - NoiseGateEffect: attenuates quiet passages while speech is unlikely
//   - HighPassEffect: single-pole rumble filter at 80 Hz
//   - CompressorEffect: 3:1 above -18 dBFS, no makeup gain
//   - LimiterEffect: tanh soft saturation above 0.9
//
// Effects that follow the engine intensity implement IntensityAware;
// effects with state implement Resettable.
//
// # Thread Safety
//
// Effects, chains, resamplers and decoders keep per-stream state and belong
// to a single goroutine.
//
// # Dependencies
//
//   - github.com/pion/opus: pure Go Opus decoder (no CGO)
//   - github.com/sirupsen/logrus: structured logging
//   - gonum.org/v1/gonum: FFT and vector kernels in the subpackages
package audio
