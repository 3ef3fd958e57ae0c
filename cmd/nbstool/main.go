package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"noteblockdj.ai/internal/dj"
	"noteblockdj.ai/internal/nbs"
	"noteblockdj.ai/internal/persistence/indexdb"
	"noteblockdj.ai/internal/render"
)

const usage = `usage: nbstool <command> [flags] <args>

commands:
  info    print song metadata (--dump for the decoded structure)
  render  mix a song down to a WAV file
  midi    convert a song to a Standard MIDI File
  index   decode a directory of songs into the sqlite index
`

func main() {
	logger := log.New(os.Stderr, "", log.Ldate|log.Ltime)
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(2)
		}
		logger.Fatalf("%v", err)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return pflag.ErrHelp
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "info":
		return runInfo(rest, out)
	case "render":
		return runRender(rest, out)
	case "midi":
		return runMIDI(rest, out)
	case "index":
		return runIndex(rest, out)
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func newFlags(name string, out io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

// outputPath is explicit, or the input with its extension replaced.
func outputPath(explicit, in, ext string) string {
	if explicit != "" {
		return explicit
	}
	return strings.TrimSuffix(in, filepath.Ext(in)) + ext
}

func runInfo(args []string, out io.Writer) error {
	fs := newFlags("info", out)
	dump := fs.BoolP("dump", "d", false, "dump the decoded song structure")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("info: no files given")
	}
	for _, path := range fs.Args() {
		song, err := nbs.DecodeFile(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if *dump {
			spew.Fdump(out, song)
			continue
		}
		fmt.Fprintf(out, "%s\n", song.FriendlyName())
		if song.Author != "" {
			fmt.Fprintf(out, "  author:      %s\n", song.Author)
		}
		fmt.Fprintf(out, "  length:      %s (%s ticks)\n", dj.FormatTimestamp(dj.SongLengthMillis(song), false), humanize.Comma(int64(song.LengthTicks)))
		fmt.Fprintf(out, "  tempo:       %.2f t/s\n", float64(song.Tempo)/100)
		fmt.Fprintf(out, "  notes:       %s (%d unique)\n", humanize.Comma(int64(len(song.Notes))), len(song.Unique))
		fmt.Fprintf(out, "  instruments: %s\n", strings.Join(instrumentNames(song), ", "))
	}
	return nil
}

func instrumentNames(song *nbs.Song) []string {
	seen := map[nbs.Instrument]bool{}
	var insts []nbs.Instrument
	for n := range song.Unique {
		if !seen[n.Instrument] {
			seen[n.Instrument] = true
			insts = append(insts, n.Instrument)
		}
	}
	sort.Slice(insts, func(i, j int) bool { return insts[i] < insts[j] })
	names := make([]string, len(insts))
	for i, inst := range insts {
		names[i] = inst.String()
	}
	return names
}

func runRender(args []string, out io.Writer) error {
	fs := newFlags("render", out)
	output := fs.StringP("output", "o", "", "output wav path (default: input with .wav)")
	rate := fs.IntP("rate", "r", render.DefaultSampleRate, "sample rate in Hz")
	volume := fs.Float64P("volume", "v", 1, "output volume, 1 is unchanged")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("render: want exactly one input file")
	}
	in := fs.Arg(0)
	song, err := nbs.DecodeFile(in)
	if err != nil {
		return fmt.Errorf("%s: %w", in, err)
	}
	dst := outputPath(*output, in, ".wav")
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	opts := render.WAVOptions{SampleRate: *rate, Volume: *volume}
	if err := render.WAV(f, song, opts); err != nil {
		f.Close()
		return fmt.Errorf("render %s: %w", in, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %s (%s, %s frames)\n", dst, render.Duration(song).Round(time.Millisecond), humanize.Comma(int64(render.Samples(song, opts))))
	return nil
}

func runMIDI(args []string, out io.Writer) error {
	fs := newFlags("midi", out)
	output := fs.StringP("output", "o", "", "output mid path (default: input with .mid)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("midi: want exactly one input file")
	}
	in := fs.Arg(0)
	song, err := nbs.DecodeFile(in)
	if err != nil {
		return fmt.Errorf("%s: %w", in, err)
	}
	dst := outputPath(*output, in, ".mid")
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	skipped, err := render.MIDI(f, song)
	if err != nil {
		f.Close()
		return fmt.Errorf("midi %s: %w", in, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %s (%.0f bpm", dst, render.BPM(song))
	if skipped > 0 {
		fmt.Fprintf(out, ", %d notes without a voice skipped", skipped)
	}
	fmt.Fprintln(out, ")")
	return nil
}

func runIndex(args []string, out io.Writer) error {
	fs := newFlags("index", out)
	dbPath := fs.String("db", "./data/index/dj.sqlite", "sqlite index path")
	top := fs.Int("top", 0, "also print the N most played songs")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("index: want exactly one songs directory")
	}
	dir := fs.Arg(0)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	var (
		rows   []indexdb.SongRecord
		failed int
		bytes  uint64
	)
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		song, err := nbs.DecodeFile(path)
		if err != nil {
			fmt.Fprintf(out, "skip %s: %v\n", e.Name(), err)
			failed++
			continue
		}
		var size int64
		if info, err := e.Info(); err == nil {
			size = info.Size()
		}
		bytes += uint64(size)
		rows = append(rows, indexdb.SongRecord{
			File:         song.FileName,
			Name:         song.FriendlyName(),
			Author:       song.Author,
			LengthMillis: dj.SongLengthMillis(song),
			Notes:        len(song.Notes),
			Unique:       len(song.Unique),
			Tempo:        int(song.Tempo),
			Bytes:        size,
		})
	}

	idx, err := indexdb.OpenSQLite(*dbPath)
	if err != nil {
		return err
	}
	defer idx.Close()
	if err := idx.UpsertSongs(rows); err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	fmt.Fprintf(out, "indexed %d songs (%d failed, %s)\n", len(rows), failed, humanize.Bytes(bytes))

	if *top > 0 {
		plays, err := idx.TopSongs(*top)
		if err != nil {
			return err
		}
		for i, p := range plays {
			fmt.Fprintf(out, "%2d. %s (%d)\n", i+1, p.Name, p.Plays)
		}
	}
	return nil
}
