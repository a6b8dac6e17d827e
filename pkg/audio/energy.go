package audio

import "math"

// maxEnergySamples bounds how many samples RMS inspects per chunk. Barge-in
// detection only needs a cheap estimate of whether the user started talking;
// scanning the whole chunk buys nothing at typical chunk sizes.
const maxEnergySamples = 4096

// RMS computes the root-mean-square energy of little-endian int16 PCM on a
// normalised [0.0, 1.0] amplitude scale. Only the first maxEnergySamples
// samples are inspected. Returns 0 for empty or sub-sample input.
func RMS(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}
	if samples > maxEnergySamples {
		samples = maxEnergySamples
	}

	var sum float64
	for i := range samples {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		n := float64(s) / 32768.0
		sum += n * n
	}
	return math.Sqrt(sum / float64(samples))
}
