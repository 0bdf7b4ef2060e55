// Program qsointel wires together the WSJT-X UDP listener, the PSKReporter
// MQTT feed, the spectral/pileup engine, and the on-disk stores (grid cache,
// answer recorder), then runs until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"qsointel/config"
	"qsointel/decode"
	"qsointel/engine"
	"qsointel/gridcache"
	"qsointel/pileup"
	"qsointel/pskreporter"
	"qsointel/recorder"
	"qsointel/wsjtx"

	"github.com/dustin/go-humanize"
)

const (
	defaultConfigPath = "data/config.yaml"
	envConfigPath     = "QSOINTEL_CONFIG_PATH"

	statsInterval     = 60 * time.Second
	spotFlushInterval = 2 * time.Second
	adviceInterval    = 15 * time.Second // one FT8 cycle
	purgeInterval     = 6 * time.Hour

	// Underruns on the WSJT-X side arrive as decode bursts right after each
	// cycle; the spot batcher caps a flush at this many spots.
	spotBatchMax = 500
)

var Version = "2.0.0"

func loadIntelConfig() (*config.Config, string, error) {
	candidates := make([]string, 0, 2)
	if envPath := strings.TrimSpace(os.Getenv(envConfigPath)); envPath != "" {
		candidates = append(candidates, envPath)
	}
	flagPath := flag.String("config", "", "path to config file")
	flag.Parse()
	if *flagPath != "" {
		candidates = append([]string{*flagPath}, candidates...)
	}
	candidates = append(candidates, defaultConfigPath)

	var lastErr error
	for _, path := range candidates {
		cfg, err := config.Load(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				lastErr = err
				continue
			}
			return nil, path, err
		}
		return cfg, path, nil
	}
	return nil, "", fmt.Errorf("unable to load config; tried %s (last error: %v)", strings.Join(candidates, ", "), lastErr)
}

// loggingSink reports tracker events through the standard logger. Persistence
// happens inside the engine before events reach this sink.
type loggingSink struct{}

func (loggingSink) PileupUpdated(target string, size int) {
	log.Printf("Pileup: %s now %d callers", target, size)
}

func (loggingSink) AnswerDetected(target string, a pileup.AnsweredCall) {
	log.Printf("Pileup: %s answered %s (rank #%d of %d, %+d dB at %d Hz)",
		target, a.Callsign, a.SNRRank, a.PileupSize, a.SNR, a.FreqHz)
}

func (loggingSink) PatternDetected(target string, p pileup.PickingPattern) {
	log.Printf("Pattern: %s picks %s (%.0f%% confidence, %d answers). %s",
		target, p.Style, p.Confidence*100, p.SampleSize, p.Advice)
}

func (loggingSink) TargetCallingYou(target string, d decode.Decode) {
	log.Printf("*** %s IS CALLING YOU: %s", target, d.Message)
}

func main() {
	cfg, configSource, err := loadIntelConfig()
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	fanout, err := setupLogging(cfg.Logging, os.Stdout)
	if err != nil {
		log.Fatalf("Error setting up logging: %v", err)
	}
	defer fanout.Close()
	log.SetFlags(0)
	log.SetOutput(fanout)

	log.Printf("QSO Intel v%s starting...", Version)
	log.Printf("Loaded configuration from %s", configSource)
	cfg.Print()

	grids, err := gridcache.Open(cfg.Storage.GridDBPath)
	if err != nil {
		log.Fatalf("Error opening grid cache: %v", err)
	}
	defer grids.Close()
	if n, err := grids.Count(); err == nil {
		log.Printf("Gridcache: %s cached locators at %s", humanize.Comma(int64(n)), cfg.Storage.GridDBPath)
	}

	events, err := recorder.New(cfg.Storage.EventsDBPath, cfg.Storage.EventsDailyCap)
	if err != nil {
		log.Fatalf("Error opening answer recorder: %v", err)
	}
	defer events.Close()

	dedupWindow := time.Duration(0)
	if cfg.Dedup.Enabled {
		dedupWindow = time.Duration(cfg.Dedup.WindowSeconds) * time.Second
	}

	eng := engine.New(engine.Options{
		MyCall:          cfg.Station.Callsign,
		MyGrid:          cfg.Station.Grid,
		Spectral:        cfg.Spectral,
		Pileup:          cfg.Pileup,
		DedupWindow:     dedupWindow,
		Sink:            loggingSink{},
		Grids:           grids,
		Events:          events,
		CacheMaxEntries: cfg.Predict.CacheMaxEntries,
		CacheTTLSeconds: cfg.Predict.CacheTTLSeconds,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	listener, err := wsjtx.Listen(cfg.WSJTX.ListenAddr)
	if err != nil {
		log.Fatalf("Error starting WSJT-X listener: %v", err)
	}
	go func() {
		if err := listener.Run(ctx); err != nil {
			log.Printf("WSJT-X: listener stopped: %v", err)
		}
	}()
	go consumeWSJTX(ctx, eng, listener)

	var pskr *pskreporter.Client
	if cfg.PSKReporter.Enabled {
		pskr = pskreporter.NewClient(cfg.PSKReporter.Broker, cfg.PSKReporter.Port, cfg.PSKReporter.Topic)
		if err := pskr.Connect(); err != nil {
			log.Printf("PSKReporter: connect failed, continuing without remote spots: %v", err)
			pskr = nil
		} else {
			go batchSpots(ctx, eng, pskr)
			defer pskr.Stop()
		}
	}

	go reportStats(ctx, eng)
	go adviseOperator(ctx, eng)
	go purgeStores(ctx, cfg, grids, events)

	log.Println("Engine is running. Press Ctrl+C to stop.")
	log.Printf("Listening for WSJT-X on udp://%s", cfg.WSJTX.ListenAddr)
	if pskr != nil {
		log.Printf("Receiving FT8 reception reports from %s:%d", cfg.PSKReporter.Broker, cfg.PSKReporter.Port)
	}
	log.Println("---")

	if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
		log.Printf("Engine stopped: %v", err)
	}

	log.Println("Shutting down gracefully...")
}

// consumeWSJTX feeds decodes and status frames from the UDP listener into
// the engine, tracking the DX target WSJT-X has selected.
func consumeWSJTX(ctx context.Context, eng *engine.Engine, l *wsjtx.Listener) {
	var lastDXCall string
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-l.Decodes():
			eng.IngestFromWSJTX(d, utcMidnight(time.Now()))
		case s := <-l.Statuses():
			eng.HandleStatus(s)
			dx := strings.ToUpper(strings.TrimSpace(s.DXCall))
			if dx != lastDXCall {
				if lastDXCall != "" {
					log.Printf("Target: cleared %s", lastDXCall)
				}
				if dx == "" {
					eng.ClearTarget()
				} else {
					eng.SetTarget(dx, s.DXGrid)
					log.Printf("Target: tracking %s (grid %q)", dx, s.DXGrid)
				}
				lastDXCall = dx
			}
		}
	}
}

// batchSpots drains the MQTT spot channel and hands the engine batches on a
// short ticker. Per-spot ingest would take the engine lock thousands of
// times a minute during contests.
func batchSpots(ctx context.Context, eng *engine.Engine, c *pskreporter.Client) {
	ticker := time.NewTicker(spotFlushInterval)
	defer ticker.Stop()

	pending := make([]pskreporter.Spot, 0, spotBatchMax)
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-c.Spots():
			pending = append(pending, s)
			if len(pending) >= spotBatchMax {
				eng.IngestSpotBatch(pending)
				pending = pending[:0]
			}
		case <-ticker.C:
			if len(pending) > 0 {
				eng.IngestSpotBatch(pending)
				pending = pending[:0]
			}
		}
	}
}

func reportStats(ctx context.Context, eng *engine.Engine) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			decodes, duplicates, spots := eng.Stats()
			line := fmt.Sprintf("Stats: decodes=%s dupes=%s spots=%s",
				humanize.Comma(int64(decodes)), humanize.Comma(int64(duplicates)), humanize.Comma(int64(spots)))
			if target, ok := eng.Target(); ok {
				if info, infoOK := eng.GetPileupInfo(); infoOK {
					line += fmt.Sprintf(" target=%s pileup=%d", target, info.Size)
				} else {
					line += " target=" + target
				}
			}
			log.Println(line)
		}
	}
}

// adviseOperator recomputes the prediction and strategy for the current
// target once per FT8 cycle and logs them when the advice changes.
func adviseOperator(ctx context.Context, eng *engine.Engine) {
	ticker := time.NewTicker(adviceInterval)
	defer ticker.Stop()

	var lastLine string
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			target, ok := eng.Target()
			if !ok {
				lastLine = ""
				continue
			}
			pred, _ := eng.PredictSuccess(nil)
			strat, ok := eng.GetStrategy("")
			if !ok {
				continue
			}
			line := fmt.Sprintf("Advice: %s %.0f%% %s [%s]",
				target, pred.Probability*100, strat.RecommendedAction, strings.Join(strat.Reasons, "; "))
			if strat.RecommendedFreqHz > 0 {
				line += fmt.Sprintf(" try %d Hz", strat.RecommendedFreqHz)
			}
			if line != lastLine {
				log.Println(line)
				lastLine = line
			}
		}
	}
}

// purgeStores enforces the configured retention on both stores.
func purgeStores(ctx context.Context, cfg *config.Config, grids *gridcache.Store, events *recorder.Recorder) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			if days := cfg.Storage.GridRetentionDays; days > 0 {
				if n, err := grids.PurgeOlderThan(now.AddDate(0, 0, -days)); err != nil {
					log.Printf("Gridcache: purge failed: %v", err)
				} else if n > 0 {
					log.Printf("Gridcache: purged %d stale locators", n)
				}
			}
			if days := cfg.Storage.EventRetentionDays; days > 0 {
				if n, err := events.PurgeOlderThan(now.AddDate(0, 0, -days)); err != nil {
					log.Printf("Recorder: purge failed: %v", err)
				} else if n > 0 {
					log.Printf("Recorder: purged %d old answer events", n)
				}
			}
		}
	}
}

// utcMidnight returns the start of t's UTC day. WSJT-X decode timestamps are
// milliseconds since UTC midnight.
func utcMidnight(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
