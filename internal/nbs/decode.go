package nbs

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

var (
	ErrTruncated         = errors.New("unexpected end of song data")
	ErrUnknownInstrument = errors.New("unknown instrument")
	ErrPitchOutOfRange   = errors.New("pitch out of range")
)

// DecodeError names the field that could not be read.
type DecodeError struct {
	Field string
	Err   error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("nbs: %s: %v", e.Field, e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

type reader struct {
	r   *bufio.Reader
	buf [4]byte
}

func (r *reader) fail(field string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		err = ErrTruncated
	}
	return &DecodeError{Field: field, Err: err}
}

func (r *reader) u8(field string) (uint8, error) {
	b, err := r.r.ReadByte()
	if err != nil {
		return 0, r.fail(field, err)
	}
	return b, nil
}

func (r *reader) u16(field string) (uint16, error) {
	if _, err := io.ReadFull(r.r, r.buf[:2]); err != nil {
		return 0, r.fail(field, err)
	}
	return binary.LittleEndian.Uint16(r.buf[:2]), nil
}

func (r *reader) u32(field string) (uint32, error) {
	if _, err := io.ReadFull(r.r, r.buf[:4]); err != nil {
		return 0, r.fail(field, err)
	}
	return binary.LittleEndian.Uint32(r.buf[:4]), nil
}

func (r *reader) skip(field string, n int) error {
	if _, err := r.r.Discard(n); err != nil {
		return r.fail(field, err)
	}
	return nil
}

// str reads a u32 length prefixed string. Invalid UTF-8 is replaced, not rejected.
func (r *reader) str(field string) (string, error) {
	n, err := r.u32(field)
	if err != nil {
		return "", err
	}
	// A corrupt length fails on EOF rather than allocating up front.
	var sb strings.Builder
	if _, err := io.CopyN(&sb, r.r, int64(n)); err != nil {
		return "", r.fail(field, err)
	}
	return strings.ToValidUTF8(sb.String(), "\uFFFD"), nil
}

// Decode parses an NBS song. Both the legacy layout and the versioned layout
// (which starts with a zero length field) are accepted.
func Decode(src io.Reader, fileName string) (*Song, error) {
	r := &reader{r: bufio.NewReader(src)}

	length, err := r.u16("length_ticks")
	if err != nil {
		return nil, err
	}
	newFormat := length == 0
	if newFormat {
		// Format version + vanilla instrument count.
		if err := r.skip("format header", 2); err != nil {
			return nil, err
		}
		if length, err = r.u16("length_ticks"); err != nil {
			return nil, err
		}
	}

	s := &Song{
		Unique:      map[Note]struct{}{},
		Notes:       make([]PositionedNote, 0, 1024),
		LengthTicks: length,
		FileName:    fileName,
	}
	if s.Height, err = r.u16("height"); err != nil {
		return nil, err
	}
	if s.Name, err = r.str("name"); err != nil {
		return nil, err
	}
	if s.Author, err = r.str("author"); err != nil {
		return nil, err
	}
	if s.OriginalAuthor, err = r.str("original author"); err != nil {
		return nil, err
	}
	if s.Description, err = r.str("description"); err != nil {
		return nil, err
	}
	if s.Tempo, err = r.u16("tempo"); err != nil {
		return nil, err
	}
	// Auto save (2), time signature (1), editor stats (5 * 4).
	if err := r.skip("editor stats", 23); err != nil {
		return nil, err
	}
	if _, err := r.str("import file name"); err != nil {
		return nil, err
	}
	if newFormat {
		if s.Loop, err = r.u8("loop"); err != nil {
			return nil, err
		}
		if s.MaxLoopCount, err = r.u8("max loop count"); err != nil {
			return nil, err
		}
		if s.LoopStartTick, err = r.u16("loop start tick"); err != nil {
			return nil, err
		}
	}

	// Tick and layer counters wrap on purpose; some songs rely on it.
	tick := int16(-1)
	for {
		jump, err := r.u16("tick jump")
		if err != nil {
			return nil, err
		}
		if jump == 0 {
			break
		}
		tick += int16(jump)

		layer := int16(-1)
		for {
			jump, err := r.u16("layer jump")
			if err != nil {
				return nil, err
			}
			if jump == 0 {
				break
			}
			layer += int16(jump)

			id, err := r.u8("instrument")
			if err != nil {
				return nil, err
			}
			inst, ok := InstrumentFromID(id)
			if !ok {
				return nil, &DecodeError{Field: "instrument", Err: fmt.Errorf("%w: %d", ErrUnknownInstrument, id)}
			}
			key, err := r.u8("note key")
			if err != nil {
				return nil, err
			}
			pitch, ok := PitchFromID(clamp(int(int8(key))-33, 0, PitchCount-1))
			if !ok {
				return nil, &DecodeError{Field: "note key", Err: fmt.Errorf("%w: %d", ErrPitchOutOfRange, key)}
			}
			if newFormat {
				// Velocity, panning, fine pitch.
				if err := r.skip("note extras", 4); err != nil {
					return nil, err
				}
			}

			n := Note{Instrument: inst, Pitch: pitch}
			s.Unique[n] = struct{}{}
			s.Notes = append(s.Notes, PositionedNote{
				Note:  n,
				Tick:  uint16(max(tick, 0)),
				Layer: uint16(max(layer, 0)),
			})
		}
	}
	return s, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// DecodeBytes is Decode over an in-memory file.
func DecodeBytes(b []byte, fileName string) (*Song, error) {
	return Decode(bytes.NewReader(b), fileName)
}

// DecodeFile reads a song from disk. Files ending in .zst are decompressed first.
func DecodeFile(path string) (*Song, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if st.IsDir() {
		return nil, fmt.Errorf("%s: is a directory", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	name := filepath.Base(path)
	var src io.Reader = f
	if strings.EqualFold(filepath.Ext(name), ".zst") {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		defer dec.Close()
		src = dec
	}
	song, err := Decode(src, name)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return song, nil
}

// IsSongFile reports whether name looks like something DecodeFile can read.
func IsSongFile(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".nbs") || strings.HasSuffix(lower, ".nbs.zst")
}
