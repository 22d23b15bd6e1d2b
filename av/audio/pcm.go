package audio

// PCMToFloat converts 16-bit samples to [-1, 1) floats. dst must be at least
// as long as src; it returns the filled prefix of dst.
func PCMToFloat(dst []float64, src []int16) []float64 {
	dst = dst[:len(src)]
	for i, s := range src {
		dst[i] = float64(s) / 32768.0
	}
	return dst
}

// FloatToPCM converts floats to 16-bit samples with clipping protection.
// dst must be at least as long as src; it returns the filled prefix of dst.
func FloatToPCM(dst []int16, src []float64) []int16 {
	dst = dst[:len(src)]
	for i, f := range src {
		v := f * 32768.0
		switch {
		case v >= 32767.0:
			dst[i] = 32767
		case v <= -32768.0:
			dst[i] = -32768
		case v != v:
			dst[i] = 0
		default:
			dst[i] = int16(v)
		}
	}
	return dst
}
