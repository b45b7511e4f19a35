// Command crabsid plays Commodore 64 SID tunes from the command line.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	flag "github.com/spf13/pflag"

	"github.com/mlund/crabsid-go/internal/audio"
	"github.com/mlund/crabsid-go/internal/config"
	"github.com/mlund/crabsid-go/internal/player"
	"github.com/mlund/crabsid-go/internal/playlist"
	"github.com/mlund/crabsid-go/internal/sidchip"
	"github.com/mlund/crabsid-go/internal/sidfile"
)

var (
	song           = flag.Uint16("song", 0, "Subsong to play (1-indexed; 0 uses the tune's default)")
	chip           = flag.Uint16("chip", 0, "Force SID chip model: 6581 or 8580 (0 uses the tune's preference)")
	sampleRate     = flag.Int("sample-rate", 44100, "Audio sample rate (Hz)")
	bufferSize     = flag.Int("buffer", 1024, "Audio buffer size, in samples")
	samplingMethod = flag.String("sampling-method", "interpolate", "SID sampling method: fast or interpolate")
	loop           = flag.Bool("loop", false, "Loop the playlist once it reaches the end")
	noStatus       = flag.Bool("no-status", false, "Suppress the status line")
	info           = flag.Bool("info", false, "Print tune metadata and exit without playing")
	verbose        = flag.Bool("verbose", false, "Enable debug logging")
)

// trackDuration bounds how long a single playlist entry plays before the CLI
// advances to the next one. SID tunes loop their play routine forever, so
// there is no end-of-track signal to wait for; this matches the fixed
// per-track duration jukebox-style SID players default to absent a STIL
// length database.
const trackDuration = 3 * time.Minute

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <file.sid | playlist.m3u>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "crabsid plays Commodore 64 SID tunes.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: false})
	if *verbose {
		logger.SetLevel(log.DebugLevel)
	} else {
		logger.SetLevel(log.InfoLevel)
	}

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	cfg := config.Load()

	sources, err := resolveSources(flag.Arg(0))
	if err != nil {
		logger.Fatal("failed to resolve input", "err", err)
	}
	if len(sources) == 0 {
		logger.Fatal("playlist has no entries", "path", flag.Arg(0))
	}

	method := parseSamplingMethod(*samplingMethod)
	chipOverride := resolveChipOverride(*chip, cfg)

	idx := 0
	tune, entry, err := loadEntry(sources[idx])
	if err != nil {
		logger.Fatal("failed to load tune", "source", sources[idx].Source, "err", err)
	}

	startSong := trackStartSong(tune, entry)

	p, err := player.New(tune, startSong, uint32(*sampleRate), chipOverride, method)
	if err != nil {
		logger.Fatal("failed to initialize player", "err", err)
	}

	printTuneInfo(tune, entry)
	if *info {
		return
	}

	out, err := audio.Open(*sampleRate, *bufferSize, p.FillBuffer)
	if err != nil {
		logger.Fatal("failed to open audio output", "err", err)
	}
	defer out.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	logger.Info("playing", "file", entry.DisplayName, "song", startSong)

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	trackStart := time.Now()

	for {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nstopping")
			return
		case <-ticker.C:
			if statusErr := p.TakeError(); statusErr != nil {
				logger.Warn("playback error", "err", statusErr)
			}
			if !*noStatus {
				printStatus(entry, p)
			}

			if time.Since(trackStart) < trackDuration {
				continue
			}

			nextIdx, loaded, ok := advanceTrack(sources, idx, *loop, logger)
			if !ok {
				fmt.Fprintln(os.Stderr, "\nplaylist finished")
				return
			}
			idx = nextIdx
			tune, entry = loaded.tune, loaded.entry

			startSong := trackStartSong(tune, entry)
			if err := p.LoadTune(tune, startSong, chipOverride); err != nil {
				logger.Warn("failed to load tune, skipping", "source", entry.Source, "err", err)
				trackStart = time.Now().Add(-trackDuration)
				continue
			}
			logger.Info("playing", "file", entry.DisplayName, "song", startSong)
			trackStart = time.Now()
		}
	}
}

type loadedTrack struct {
	tune  *sidfile.Tune
	entry playlist.Entry
}

// advanceTrack walks forward from idx through sources, skipping any entry
// that fails to load, and wraps back to the start when loop is set. ok is
// false when the playlist is exhausted without a loadable entry remaining.
func advanceTrack(sources []playlist.Entry, idx int, loop bool, logger *log.Logger) (int, loadedTrack, bool) {
	for range sources {
		idx++
		if idx >= len(sources) {
			if !loop {
				return 0, loadedTrack{}, false
			}
			idx = 0
		}
		tune, entry, err := loadEntry(sources[idx])
		if err != nil {
			logger.Warn("failed to load tune, skipping", "source", sources[idx].Source, "err", err)
			continue
		}
		return idx, loadedTrack{tune: tune, entry: entry}, true
	}
	return 0, loadedTrack{}, false
}

// trackStartSong resolves which subsong to start at: the playlist entry's
// own @N suffix wins, then the --song flag, then the tune's own default.
func trackStartSong(tune *sidfile.Tune, entry playlist.Entry) uint16 {
	if entry.Subsong != nil {
		return *entry.Subsong
	}
	if *song != 0 {
		return *song
	}
	return tune.StartSong
}

func resolveSources(arg string) ([]playlist.Entry, error) {
	if strings.HasSuffix(strings.ToLower(arg), ".m3u") {
		pl, err := playlist.Load(arg)
		if err != nil {
			return nil, err
		}
		return pl.Entries, nil
	}
	return []playlist.Entry{{Source: arg, DisplayName: filepath.Base(arg)}}, nil
}

func loadEntry(entry playlist.Entry) (*sidfile.Tune, playlist.Entry, error) {
	data, err := os.ReadFile(entry.Source)
	if err != nil {
		return nil, entry, err
	}
	tune, err := sidfile.Decode(data)
	if err != nil {
		return nil, entry, err
	}
	return tune, entry, nil
}

func parseSamplingMethod(s string) sidchip.SamplingMethod {
	if strings.EqualFold(s, "fast") {
		return sidchip.Fast
	}
	return sidchip.Interpolate
}

func resolveChipOverride(flagValue uint16, cfg config.Config) *uint16 {
	if flagValue != 0 {
		v := flagValue
		return &v
	}
	return cfg.DefaultChipOverride
}

func printTuneInfo(tune *sidfile.Tune, entry playlist.Entry) {
	fmt.Printf("File:     %s\n", entry.DisplayName)
	fmt.Printf("Title:    %s\n", tune.Name)
	fmt.Printf("Author:   %s\n", tune.Author)
	fmt.Printf("Released: %s\n", tune.Released)
	standard := "NTSC"
	if tune.IsPAL() {
		standard = "PAL"
	}
	fmt.Printf("Timing:   %s\n", standard)
	fmt.Printf("SIDs:     %d\n", tune.SIDCount())
	fmt.Printf("Songs:    %d (default %d)\n\n", tune.Songs, tune.StartSong)
}

func printStatus(entry playlist.Entry, p *player.Player) {
	state := "playing"
	if p.IsPaused() {
		state = "paused"
	}
	fmt.Printf("\r%-40s [%s]  ", entry.DisplayName, state)
}
