// Package config holds the runtime-tunable processing parameters for the
// voice engine. There is no persisted state: every value is either a
// compiled-in default or set for the lifetime of one process via CLI flags
// or a programmatic call.
package config

import "flag"

// Tunables collects every processing parameter an operator can adjust
// without rebuilding the binary.
type Tunables struct {
	AECTaps         int     // echo canceller filter length, in samples
	AECStep         float64 // NLMS step size
	NSSuppressionDB float64 // noise suppressor target attenuation
	VADThreshold    int     // send-side VAD sensitivity, [0,100]
	Bitrate         int     // starting Opus bitrate, kbps
	JitterDepth     int     // starting playback FIFO target depth, 20ms frames
}

// Default returns the Tunables a freshly started engine runs with.
func Default() Tunables {
	return Tunables{
		AECTaps:         1024,
		AECStep:         0.2,
		NSSuppressionDB: -20.0,
		VADThreshold:    50,
		Bitrate:         32,
		JitterDepth:     1,
	}
}

// RegisterFlags binds t's fields to CLI flags on fs, seeded with t's current
// values as defaults. Call Parse or fs.Parse afterward to populate t.
func RegisterFlags(fs *flag.FlagSet, t *Tunables) {
	fs.IntVar(&t.AECTaps, "aec-taps", t.AECTaps, "echo canceller filter length in samples")
	fs.Float64Var(&t.AECStep, "aec-step", t.AECStep, "NLMS adaptation step size")
	fs.Float64Var(&t.NSSuppressionDB, "ns-suppression-db", t.NSSuppressionDB, "noise suppressor target attenuation in dB")
	fs.IntVar(&t.VADThreshold, "vad-threshold", t.VADThreshold, "send-side VAD sensitivity, 0-100")
	fs.IntVar(&t.Bitrate, "bitrate", t.Bitrate, "starting Opus bitrate in kbps")
	fs.IntVar(&t.JitterDepth, "jitter-depth", t.JitterDepth, "starting playback FIFO depth in 20ms frames")
}

// Parse builds a Tunables from Default() overridden by the given CLI
// arguments (typically os.Args[1:] with the three positional arguments
// already stripped by the caller).
func Parse(args []string) (Tunables, error) {
	t := Default()
	fs := flag.NewFlagSet("novaengine", flag.ContinueOnError)
	RegisterFlags(fs, &t)
	if err := fs.Parse(args); err != nil {
		return Tunables{}, err
	}
	return t, nil
}
