// Package outbound wires an enhancement engine into the audio sender of a
// WebRTC peer connection.
//
// An Enhancer reads the raw capture stream, resamples it to the engine rate,
// enhances it, resamples to 48 kHz and writes 20 ms Opus samples to a local
// track that replaces the original one on the sender:
//
//	sender, _ := pc.AddTrack(micTrack)
//	enhancer, err := outbound.NewEnhancer(enhance.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	track, err := enhancer.Attach(ctx, sender, openMicrophone)
//	if err != nil {
//	    return err
//	}
//	defer enhancer.Detach()
//
// Remote audio packets passed to FeedRemoteOpus become the echo canceller's
// far-end reference.
//
// Enhancement fails open. When capture cannot be acquired, the engine cannot
// be set up or the stream breaks, the original track remains on the sender
// and a "bypassed" event appears on Events.
package outbound
