// Command ds16synth is the process-wiring CLI for the voice engine: it
// loads static configuration, decodes a command-byte script through the
// same opcode table the bus-slave hardware would see, and either writes
// the resulting PCM to a WAV file or plays it live. It stands in for the
// out-of-scope I2S driver and bus-slave reception described in spec §1.
package main

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	dsaudio "github.com/saisana299/ds16synth/internal/audio"
	"github.com/saisana299/ds16synth/internal/command"
	"github.com/saisana299/ds16synth/internal/config"
	"github.com/saisana299/ds16synth/internal/engine"
	"github.com/saisana299/ds16synth/internal/wavetable"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "", "path to a YAML engine config (sample_rate, voices, monophonic); defaults baked in if omitted")
		scriptPath = pflag.StringP("script", "s", "", "path to a binary command-byte script (spec §6 opcode stream)")
		outPath    = pflag.StringP("out", "o", "", "write rendered PCM to this 16-bit stereo WAV file")
		seconds    = pflag.Float64P("seconds", "d", 2.0, "seconds of audio to render")
		play       = pflag.BoolP("play", "p", false, "play the rendered audio live instead of (or in addition to) writing -out")
		reset      = pflag.BoolP("reset", "r", false, "call Engine.ResetParams before running the script")
		verbose    = pflag.BoolP("verbose", "v", false, "enable debug logging of dropped/malformed commands")
	)
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "ds16synth - polyphonic voice engine driver\n\n")
		fmt.Fprintf(os.Stderr, "Usage: ds16synth [options]\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatal("loading config", "err", err)
		}
		cfg = loaded
	}

	eng := engine.New(cfg.SampleRate)
	defer eng.Close()
	eng.Alloc.N = cfg.Voices
	eng.SetMonophonic(cfg.Monophonic)
	if *reset {
		eng.ResetParams()
	}

	store := &wavetable.Store{}
	decoder := command.NewDecoder(eng, store)

	if *scriptPath != "" {
		data, err := os.ReadFile(*scriptPath)
		if err != nil {
			log.Fatal("reading script", "path", *scriptPath, "err", err)
		}
		decoder.Feed(data)
		log.Info("decoded command script", "path", *scriptPath, "bytes", len(data))
	}

	frames := int(*seconds * float64(cfg.SampleRate))
	if frames < 0 {
		frames = 0
	}

	if *outPath != "" {
		pcm := make([]int16, frames*2)
		for i := 0; i < frames; i++ {
			l, r := eng.RenderSample()
			pcm[2*i] = l
			pcm[2*i+1] = r
		}
		if err := os.WriteFile(*outPath, encodeWAV16(pcm, cfg.SampleRate, 2), 0o644); err != nil {
			log.Fatal("writing wav", "path", *outPath, "err", err)
		}
		log.Info("wrote wav", "path", *outPath, "frames", frames)
	}

	if *play {
		source := dsaudio.NewEngineSource(eng.RenderSample)
		player, err := dsaudio.NewPlayer(cfg.SampleRate, source)
		if err != nil {
			log.Fatal("starting playback", "err", err)
		}
		player.Play()
		time.Sleep(time.Duration(*seconds * float64(time.Second)))
		if err := player.Stop(); err != nil {
			log.Fatal("stopping playback", "err", err)
		}
	}
}

// encodeWAV16 packs interleaved stereo int16 PCM into a canonical WAV
// container (format 1, 16 bits/sample), the integer-PCM counterpart of
// the teacher's EncodeWAVFloat32LE (offline.go) adapted to spec §6's
// "interleaved stereo signed 16-bit" PCM sink format.
func encodeWAV16(pcm []int16, sampleRate, channels int) []byte {
	dataSize := len(pcm) * 2
	byteRate := sampleRate * channels * 2
	blockAlign := channels * 2
	chunkSize := 36 + dataSize
	out := make([]byte, 44+dataSize)
	copy(out[0:], []byte("RIFF"))
	binary.LittleEndian.PutUint32(out[4:], uint32(chunkSize))
	copy(out[8:], []byte("WAVE"))
	copy(out[12:], []byte("fmt "))
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:], 16)
	copy(out[36:], []byte("data"))
	binary.LittleEndian.PutUint32(out[40:], uint32(dataSize))
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(out[44+i*2:], uint16(s))
	}
	return out
}
