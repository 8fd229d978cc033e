package asr

import "encoding/binary"

// PCM format fixed by the device fleet: mono 16 kHz 16-bit linear PCM.
const (
	wavHeaderSize = 44
	pcmChannels   = 1
	pcmSampleRate = 16000
	pcmBitDepth   = 16
)

// WrapPCM prefixes raw linear-PCM samples with a minimal 44-byte RIFF/WAVE
// header so buffered flushes form a self-contained container the external
// provider accepts.
func WrapPCM(samples []byte) []byte {
	byteRate := pcmSampleRate * pcmChannels * pcmBitDepth / 8
	blockAlign := pcmChannels * pcmBitDepth / 8

	out := make([]byte, wavHeaderSize+len(samples))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(samples)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16) // fmt chunk size
	binary.LittleEndian.PutUint16(out[20:22], 1)  // linear PCM
	binary.LittleEndian.PutUint16(out[22:24], pcmChannels)
	binary.LittleEndian.PutUint32(out[24:28], pcmSampleRate)
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], pcmBitDepth)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(samples)))
	copy(out[wavHeaderSize:], samples)
	return out
}
