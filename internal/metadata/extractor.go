package metadata

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bogem/id3v2/v2"
	"github.com/dhowden/tag"
	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
	"github.com/sirupsen/logrus"
	"github.com/tcolgate/mp3"

	"audioanchor/internal/cache"
)

// ErrUnsupportedFormat is returned for containers whose duration cannot be read
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// fallbackMP3Bitrate is used to estimate duration when no frame decodes
const fallbackMP3Bitrate = 192000

type container int

const (
	containerUnknown container = iota
	containerMP3
	containerFLAC
	containerWAV
	containerMP4
)

// Extractor probes audio durations. Results are memoized when a cache is set.
type Extractor struct {
	logger *logrus.Logger
	cache  *cache.DurationCache
}

// NewExtractor creates a duration prober. durations may be nil.
func NewExtractor(logger *logrus.Logger, durations *cache.DurationCache) *Extractor {
	return &Extractor{
		logger: logger,
		cache:  durations,
	}
}

// ProbeDuration returns the playback length of the file in milliseconds.
// Callers that must not fail treat any error as a zero duration.
func (e *Extractor) ProbeDuration(path string) (int64, error) {
	startTime := time.Now()

	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}

	key := cache.DurationKey(path, info)
	if e.cache != nil {
		if ms, ok := e.cache.GetDuration(key); ok {
			return ms, nil
		}
	}

	kind, err := detectContainer(path)
	if err != nil {
		return 0, err
	}

	var ms int64
	switch kind {
	case containerMP3:
		ms, err = e.durationMP3(path, info.Size())
	case containerFLAC:
		ms, err = durationFLAC(path)
	case containerWAV:
		ms, err = durationWAV(path)
	case containerMP4:
		ms, err = durationMP4(path)
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
	if err != nil {
		return 0, err
	}

	if e.cache != nil {
		e.cache.SetDuration(key, ms)
	}

	e.logger.WithFields(logrus.Fields{
		"filePath":       path,
		"durationMs":     ms,
		"processingTime": time.Since(startTime),
	}).Debug("Probed duration")

	return ms, nil
}

// detectContainer sniffs the file header and falls back to the extension
// for files without recognizable tags (untagged MP3, WAV).
func detectContainer(path string) (container, error) {
	f, err := os.Open(path)
	if err != nil {
		return containerUnknown, err
	}
	defer f.Close()

	if _, fileType, err := tag.Identify(f); err == nil {
		switch fileType {
		case tag.MP3:
			return containerMP3, nil
		case tag.FLAC:
			return containerFLAC, nil
		case tag.M4A, tag.M4B, tag.M4P, tag.ALAC:
			return containerMP4, nil
		case tag.OGG, tag.DSF:
			return containerUnknown, nil
		}
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return containerMP3, nil
	case ".flac":
		return containerFLAC, nil
	case ".wav":
		return containerWAV, nil
	case ".m4a", ".m4b", ".3gp", ".aac":
		return containerMP4, nil
	default:
		return containerUnknown, nil
	}
}

// durationMP3 prefers the ID3v2 TLEN frame, then decodes frames, then
// estimates from the file size.
func (e *Extractor) durationMP3(path string, size int64) (int64, error) {
	if ms, ok := tlenMillis(path); ok {
		return ms, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := mp3.NewDecoder(f)
	var total time.Duration
	var skipped int
	frames := 0
	for {
		var fr mp3.Frame
		if err := dec.Decode(&fr, &skipped); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if frames == 0 {
				e.logger.WithField("filePath", path).Debug("No decodable MP3 frames, estimating from size")
				return estimateFromSize(size, fallbackMP3Bitrate)
			}
			break // partial decode; use what we have
		}
		total += fr.Duration()
		frames++
	}
	if frames == 0 {
		return estimateFromSize(size, fallbackMP3Bitrate)
	}
	return total.Milliseconds(), nil
}

func tlenMillis(path string) (int64, bool) {
	t, err := id3v2.Open(path, id3v2.Options{Parse: true, ParseFrames: []string{"Length"}})
	if err != nil {
		return 0, false
	}
	defer t.Close()

	frame := t.GetTextFrame(t.CommonID("Length"))
	ms, err := strconv.ParseInt(strings.TrimSpace(frame.Text), 10, 64)
	if err != nil || ms <= 0 {
		return 0, false
	}
	return ms, true
}

func durationFLAC(path string) (int64, error) {
	stream, err := flac.ParseFile(path)
	if err != nil {
		return 0, err
	}
	defer stream.Close()

	si := stream.Info
	if si.NSamples > 0 && si.SampleRate > 0 {
		return int64(si.NSamples) * 1000 / int64(si.SampleRate), nil
	}
	return 0, fmt.Errorf("flac stream missing sample info")
}

func durationWAV(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, fmt.Errorf("invalid wav file")
	}
	if dec.SampleRate == 0 || dec.BitDepth == 0 || dec.NumChans == 0 {
		return 0, fmt.Errorf("invalid wav header")
	}
	if err := dec.FwdToPCM(); err != nil {
		return 0, fmt.Errorf("locate wav data chunk: %w", err)
	}

	bytesPerFrame := int64(dec.BitDepth/8) * int64(dec.NumChans)
	if bytesPerFrame <= 0 {
		return 0, fmt.Errorf("invalid sample frame size")
	}
	frames := dec.PCMLen() / bytesPerFrame
	return frames * 1000 / int64(dec.SampleRate), nil
}

func durationMP4(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return readMVHD(f)
}

// atomHeader is the size and kind prefix of an ISO BMFF atom. body is -1 when
// the atom runs to the end of the file.
type atomHeader struct {
	kind string
	size int64 // header bytes: 8, or 16 with a 64-bit size
	body int64
}

func readAtomHeader(r io.Reader) (atomHeader, error) {
	var head [8]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return atomHeader{}, err
	}
	h := atomHeader{kind: string(head[4:8]), size: 8}

	switch size := binary.BigEndian.Uint32(head[0:4]); size {
	case 0:
		h.body = -1
	case 1:
		var large [8]byte
		if _, err := io.ReadFull(r, large[:]); err != nil {
			return atomHeader{}, err
		}
		n := binary.BigEndian.Uint64(large[:])
		if n < 16 || n > math.MaxInt64 {
			return atomHeader{}, fmt.Errorf("invalid %s atom size %d", h.kind, n)
		}
		h.size = 16
		h.body = int64(n) - 16
	default:
		if size < 8 {
			return atomHeader{}, fmt.Errorf("invalid %s atom size %d", h.kind, size)
		}
		h.body = int64(size) - 8
	}
	return h, nil
}

// readMVHD walks top-level atoms to moov and reads the movie header
// timescale and duration.
func readMVHD(r io.ReadSeeker) (int64, error) {
	for {
		h, err := readAtomHeader(r)
		if err != nil {
			return 0, err
		}
		if h.kind != "moov" {
			if h.body < 0 {
				return 0, fmt.Errorf("moov atom not found")
			}
			if _, err := r.Seek(h.body, io.SeekCurrent); err != nil {
				return 0, err
			}
			continue
		}

		for read := int64(0); h.body < 0 || read < h.body; {
			sub, err := readAtomHeader(r)
			if errors.Is(err, io.EOF) && h.body < 0 {
				break
			}
			if err != nil {
				return 0, err
			}
			if sub.kind == "mvhd" {
				return parseMVHDBody(r)
			}
			if sub.body < 0 {
				break
			}
			if _, err := r.Seek(sub.body, io.SeekCurrent); err != nil {
				return 0, err
			}
			read += sub.size + sub.body
		}
		return 0, fmt.Errorf("mvhd atom not found")
	}
}

func parseMVHDBody(r io.Reader) (int64, error) {
	var version [4]byte // version + flags
	if _, err := io.ReadFull(r, version[:]); err != nil {
		return 0, err
	}

	var timescale uint32
	var units uint64
	if version[0] == 1 {
		var buf [28]byte // creation(8) modification(8) timescale(4) duration(8)
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		timescale = binary.BigEndian.Uint32(buf[16:20])
		units = binary.BigEndian.Uint64(buf[20:28])
	} else {
		var buf [16]byte // creation(4) modification(4) timescale(4) duration(4)
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		timescale = binary.BigEndian.Uint32(buf[8:12])
		units = uint64(binary.BigEndian.Uint32(buf[12:16]))
	}
	if timescale == 0 {
		return 0, fmt.Errorf("invalid timescale")
	}
	return int64(units * 1000 / uint64(timescale)), nil
}

func estimateFromSize(size int64, bitrate int) (int64, error) {
	if bitrate <= 0 {
		return 0, fmt.Errorf("invalid bitrate")
	}
	return size * 8 * 1000 / int64(bitrate), nil
}
