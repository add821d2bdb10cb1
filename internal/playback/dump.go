package playback

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
)

// WriteWAV stores mono 16-bit PCM as a RIFF/WAVE file.
func WriteWAV(path string, samples []int16, sampleRate int) error {
	data := int16SliceToBytes(samples)

	header := make([]byte, 44)
	copy(header[0:], "RIFF")
	binary.LittleEndian.PutUint32(header[4:], uint32(36+len(data)))
	copy(header[8:], "WAVE")
	copy(header[12:], "fmt ")
	binary.LittleEndian.PutUint32(header[16:], 16)
	binary.LittleEndian.PutUint16(header[20:], 1)
	binary.LittleEndian.PutUint16(header[22:], 1)
	binary.LittleEndian.PutUint32(header[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(header[32:], 2)
	binary.LittleEndian.PutUint16(header[34:], 16)
	copy(header[36:], "data")
	binary.LittleEndian.PutUint32(header[40:], uint32(len(data)))

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := f.Write(header); err != nil {
		f.Close()
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// DumpTurn writes the compressed body and the decoded PCM of one synthesis
// turn into dir as <id>.mp3 and <id>.wav.
func DumpTurn(dir, id string, compressed []byte, samples []int16, sampleRate int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dump directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, id+".mp3"), compressed, 0o644); err != nil {
		return fmt.Errorf("write mp3 dump: %w", err)
	}
	if err := WriteWAV(filepath.Join(dir, id+".wav"), samples, sampleRate); err != nil {
		return fmt.Errorf("write wav dump: %w", err)
	}
	return nil
}

func int16SliceToBytes(samples []int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(s))
	}
	return b
}
