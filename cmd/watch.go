package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/andresmejia3/vigil/internal/knownfaces"
	"github.com/andresmejia3/vigil/internal/liveness"
	"github.com/andresmejia3/vigil/internal/logger"
	"github.com/andresmejia3/vigil/internal/matcher"
	"github.com/andresmejia3/vigil/internal/recognizer"
	"github.com/andresmejia3/vigil/internal/store"
	"github.com/andresmejia3/vigil/internal/types"
	"github.com/andresmejia3/vigil/internal/utils"
	"github.com/andresmejia3/vigil/internal/worker"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const megabyte = 1024 * 1024

const (
	sessionLabel  = "label"
	sessionShared = "shared"
)

var watchOpts Options

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Recognize faces in a video or camera stream and check they are live",
	Example: `  vigil watch -i door.mp4 --record
  vigil watch -i /dev/video0 --format v4l2 --session-key shared --encodings encodings.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runWatch(cmd.Context(), watchOpts)
	},
}

func init() {
	def := liveness.DefaultConfig()
	f := watchCmd.Flags()
	f.StringVarP(&watchOpts.InputPath, "input", "i", "", "Path to video, capture device or stream URL")
	f.StringVar(&watchOpts.InputFormat, "format", "", "ffmpeg input format (e.g. v4l2 for a webcam)")
	f.IntVarP(&watchOpts.NthFrame, "nth-frame", "n", 1, "Process every nth frame")
	f.IntVarP(&watchOpts.NumEngines, "engines", "e", 1, "Number of parallel extractor processes")
	f.Float64VarP(&watchOpts.MatchThreshold, "match-threshold", "t", matcher.DefaultThreshold, "Maximum embedding distance for a match (lower is stricter)")
	f.Float64Var(&watchOpts.EARThreshold, "ear-threshold", def.EARThreshold, "Eye aspect ratio below which an eye counts as closed")
	f.IntVar(&watchOpts.ClosedFrames, "closed-frames", def.ClosedFrames, "Consecutive closed frames that make a blink")
	f.Float64Var(&watchOpts.PoseThreshold, "pose-threshold", def.PoseThreshold, "Head rotation in degrees (yaw or pitch) that proves liveness")
	f.StringVar(&watchOpts.SessionKey, "session-key", sessionLabel, "Liveness session scope: label (one per identity) or shared (one per stream)")
	f.IntVar(&watchOpts.GraceFrames, "grace-frames", 30, "Frames an identity may be missing before its liveness session is dropped")
	f.StringVar(&watchOpts.EncodingsPath, "encodings", "", "Known-face JSON file (default: load from the database)")
	f.BoolVar(&watchOpts.Record, "record", false, "Record the first verified live sighting of each identity")
	f.BoolVar(&watchOpts.JSONOutput, "json", false, "Print results as JSON lines instead of a table")
	addWorkerFlags(watchCmd, &watchOpts)

	watchCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(watchCmd)
}

// addWorkerFlags registers the extractor settings shared by every command that starts one.
func addWorkerFlags(cmd *cobra.Command, opts *Options) {
	def := worker.DefaultConfig()
	cmd.Flags().IntVar(&opts.Downsample, "downsample", def.Downsample, "Shrink factor for the detection pass")
	cmd.Flags().StringVar(&opts.PredictorPath, "predictor", def.PredictorPath, "Path to the dlib 68-point landmark model")
	cmd.Flags().StringVar(&opts.WorkerScript, "worker-script", def.Script, "Path to the Python extractor")
	cmd.Flags().StringVar(&opts.WorkerTimeout, "worker-timeout", def.ReadTimeout.String(), "Timeout for the extractor to answer a single frame")
}

func workerConfig(opts Options) worker.Config {
	cfg := worker.DefaultConfig()
	cfg.Downsample = opts.Downsample
	if opts.PredictorPath != "" {
		cfg.PredictorPath = opts.PredictorPath
	}
	if opts.WorkerScript != "" {
		cfg.Script = opts.WorkerScript
	}
	if d, err := time.ParseDuration(opts.WorkerTimeout); err == nil {
		cfg.ReadTimeout = d
	}
	return cfg
}

func livenessConfig(opts Options) liveness.Config {
	cfg := liveness.DefaultConfig()
	cfg.EARThreshold = opts.EARThreshold
	cfg.ClosedFrames = opts.ClosedFrames
	cfg.PoseThreshold = opts.PoseThreshold
	return cfg
}

// startWorker wraps worker.New with the user-facing error reporting.
func startWorker(ctx context.Context, id int, opts Options) (*worker.Worker, error) {
	w, err := worker.New(ctx, id, workerConfig(opts))
	if err != nil {
		if errors.Is(err, worker.ErrLandmarkModelMissing) {
			utils.ShowError("Landmark model missing. Download it from http://dlib.net/files/shape_predictor_68_face_landmarks.dat.bz2", err, nil)
		} else {
			utils.ShowError("Worker startup failed", err, nil)
		}
		return nil, err
	}
	return w, nil
}

// frameResult is one extractor answer on its way to the in-order aggregator.
type frameResult struct {
	Frame types.Frame
	Faces []types.DetectedFace
}

func runWatch(ctx context.Context, opts Options) error {
	// Kills FFmpeg and the extractors if we return early
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := validateWatchFlags(&opts); err != nil {
		utils.ShowError("Invalid flags", err, nil)
		return err
	}

	known := loadKnownFaces(ctx, opts)
	if opts.Record && DB == nil {
		if err := connectDB(ctx); err != nil {
			utils.ShowError("--record needs the database", err, nil)
			return err
		}
	}

	proc := recognizer.New(known, opts.MatchThreshold)
	sess := newSessions(opts.SessionKey, livenessConfig(opts), opts.GraceFrames)
	runID := uuid.New().String()

	fmt.Fprintf(os.Stderr, "📼 Run %s: %d known faces, %s liveness sessions\n", runID, known.Len(), opts.SessionKey)
	fmt.Fprintf(os.Stderr, "⚙️  Spawning %d Worker Engines...\n", opts.NumEngines)

	// Extractors start before FFmpeg so a missing landmark model fails fast
	workers := make([]*worker.Worker, 0, opts.NumEngines)
	defer func() {
		for _, w := range workers {
			w.Close()
		}
	}()
	for i := 0; i < opts.NumEngines; i++ {
		w, err := startWorker(ctx, i, opts)
		if err != nil {
			return err
		}
		workers = append(workers, w)
	}

	totalFrames := -1
	if opts.InputFormat == "" {
		if n := utils.GetTotalFrames(ctx, opts.InputPath); n > 0 {
			totalFrames = n
		}
	}
	bar := progressbar.NewOptions(totalFrames,
		progressbar.OptionSetDescription("👁️  Vigil Watching"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	ffmpeg := utils.NewFFmpegCmd(ctx, opts.InputPath, opts.InputFormat)
	var stderrBuf bytes.Buffer
	ffmpeg.Stderr = &stderrBuf
	ffmpegOut, err := ffmpeg.StdoutPipe()
	if err != nil {
		utils.ShowError("Failed to create FFmpeg stdout pipe", err, nil)
		return err
	}
	if err := ffmpeg.Start(); err != nil {
		utils.ShowError("Failed to start FFmpeg", err, nil)
		return err
	}

	tasks := make(chan types.FrameTask, opts.NumEngines)
	results := make(chan frameResult, opts.NumEngines*2)
	g, gctx := errgroup.WithContext(ctx)

	var readFrames int
	g.Go(func() error {
		defer close(tasks)

		scanner := bufio.NewScanner(ffmpegOut)
		scanner.Buffer(make([]byte, megabyte), 64*megabyte)
		scanner.Split(utils.SplitJpeg)

		for scanner.Scan() {
			readFrames++
			bar.Add(1)
			if readFrames%opts.NthFrame != 0 {
				continue
			}
			data := append([]byte(nil), scanner.Bytes()...)
			select {
			case tasks <- types.FrameTask{Index: readFrames, Data: data}:
			case <-gctx.Done():
				ffmpeg.Process.Kill()
				ffmpeg.Wait()
				return gctx.Err()
			}
		}
		if err := scanner.Err(); err != nil {
			ffmpeg.Process.Kill()
			ffmpeg.Wait()
			return fmt.Errorf("frame scanner failed: %w", err)
		}
		if err := ffmpeg.Wait(); err != nil {
			if stderrBuf.Len() > 0 {
				fmt.Fprintf(os.Stderr, "\nFFmpeg Logs:\n%s\n", stderrBuf.String())
			}
			return fmt.Errorf("ffmpeg execution failed: %w", err)
		}
		return nil
	})

	var engines sync.WaitGroup
	for _, w := range workers {
		engines.Add(1)
		g.Go(func() error {
			defer engines.Done()
			return runEngine(gctx, w, tasks, results)
		})
	}
	go func() {
		engines.Wait()
		close(results)
	}()

	// Liveness is temporal, so frames must reach the processor in stream order
	orderer := newFrameOrderer(opts.NthFrame)
	report := newReporter(os.Stdout, opts.JSONOutput)
	summary := newWatchSummary()
	processed := 0

	for res := range results {
		for _, fr := range orderer.Push(res) {
			recs := proc.Process(fr.Frame, fr.Faces, sess.Resolver())
			sess.Observe(fr.Frame.Index, recs)
			summary.Add(fr.Frame.Index, recs)
			report.Write(fr.Frame.Index, recs)
			if opts.Record {
				recordSightings(ctx, DB, runID, fr.Frame.Index, recs)
			}
			processed++
		}
	}

	err = g.Wait()
	bar.Finish()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "\n🛑 Interrupted.\n")
	}

	summary.Print(os.Stderr)
	fmt.Fprintf(os.Stderr, "\n🏁 Watch Complete. Processed %d keyframes out of %d total.\n", processed, readFrames)
	return nil
}

// runEngine feeds frames to one extractor. A per-frame extractor error yields
// an empty detection list so the aggregator keeps moving; a broken process
// stops the pipeline.
func runEngine(ctx context.Context, w *worker.Worker, tasks <-chan types.FrameTask, results chan<- frameResult) error {
	for task := range tasks {
		frame, faces, err := w.ProcessFrame(task.Data)
		if err != nil {
			var extErr *worker.ExtractorError
			if !errors.As(err, &extErr) {
				// Drain the process so its stderr is complete
				w.Close()
				utils.ShowError(fmt.Sprintf("Worker %d crashed", w.ID), err, w.Cmd)
				return err
			}
			logger.Warning("extractor failed on frame",
				logger.LoggerOptions{Key: "worker", Data: w.ID},
				logger.LoggerOptions{Key: "frame", Data: task.Index},
				logger.LoggerOptions{Key: "error", Data: extErr.Msg})
			faces = []types.DetectedFace{}
		}
		frame.Index = task.Index

		select {
		case results <- frameResult{Frame: frame, Faces: faces}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// loadKnownFaces reads the encodings file when given, otherwise the database.
// Failures are not fatal: every face then resolves to Unknown.
func loadKnownFaces(ctx context.Context, opts Options) matcher.KnownFaceSet {
	if opts.EncodingsPath != "" {
		return knownfaces.LoadOrEmpty(opts.EncodingsPath)
	}
	if DB == nil {
		if err := connectDB(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  No known faces: %v\n", err)
			logger.Warning("database unavailable, starting with no known faces",
				logger.LoggerOptions{Key: "error", Data: err.Error()})
			return matcher.KnownFaceSet{}
		}
	}
	set, err := DB.KnownFaces(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  No known faces: %v\n", err)
		logger.Warning("failed to load known faces, starting empty",
			logger.LoggerOptions{Key: "error", Data: err.Error()})
		return matcher.KnownFaceSet{}
	}
	return set
}

func recordSightings(ctx context.Context, db *store.Store, runID string, index int, results []types.RecognitionResult) {
	for _, r := range results {
		if !r.Alive || r.Label == types.UnknownLabel {
			continue
		}
		written, err := db.RecordSighting(ctx, store.Sighting{
			RunID:      runID,
			Label:      r.Label,
			Confidence: r.Confidence,
			FrameIndex: index,
		})
		if err != nil {
			logger.Error("failed to record sighting",
				logger.LoggerOptions{Key: "label", Data: r.Label},
				logger.LoggerOptions{Key: "error", Data: err.Error()})
			continue
		}
		if written {
			fmt.Fprintf(os.Stderr, "\n📝 %s verified live at frame %d\n", r.Label, index)
		}
	}
}

// --- Ordering & Sessions ---

// frameOrderer re-sequences results from parallel engines. Engine 2 may
// finish before engine 1.
type frameOrderer struct {
	step    int
	next    int
	pending map[int]frameResult
}

func newFrameOrderer(step int) *frameOrderer {
	return &frameOrderer{step: step, next: step, pending: make(map[int]frameResult)}
}

// Push buffers res and returns every result that is now next in line.
func (o *frameOrderer) Push(res frameResult) []frameResult {
	o.pending[res.Frame.Index] = res
	var ready []frameResult
	for {
		r, ok := o.pending[o.next]
		if !ok {
			return ready
		}
		delete(o.pending, o.next)
		ready = append(ready, r)
		o.next += o.step
	}
}

// sessions owns the liveness state for a run: either one shared state or a
// registry keyed by label whose idle entries expire after grace frames.
type sessions struct {
	shared   *liveness.State
	registry *liveness.Registry
	grace    int
	lastSeen map[string]int
}

func newSessions(key string, cfg liveness.Config, grace int) *sessions {
	if key == sessionShared {
		return &sessions{shared: liveness.New(cfg)}
	}
	return &sessions{
		registry: liveness.NewRegistry(cfg),
		grace:    grace,
		lastSeen: make(map[string]int),
	}
}

func (s *sessions) Resolver() recognizer.Resolver {
	if s.shared != nil {
		return recognizer.Shared(s.shared)
	}
	return recognizer.ByLabel(s.registry)
}

// Observe marks the labels seen at frame index and drops sessions that have
// been missing for longer than the grace period. A subject who leaves and
// comes back has to prove liveness again.
func (s *sessions) Observe(index int, results []types.RecognitionResult) {
	if s.registry == nil {
		return
	}
	for _, r := range results {
		s.lastSeen[r.Label] = index
	}
	for label, last := range s.lastSeen {
		if index-last > s.grace {
			s.registry.Forget(label)
			delete(s.lastSeen, label)
			logger.Debug("liveness session expired",
				logger.LoggerOptions{Key: "label", Data: label},
				logger.LoggerOptions{Key: "frame", Data: index})
		}
	}
}

// --- Output ---

type reporter struct {
	json       *json.Encoder
	table      *tabwriter.Writer
	headerDone bool
}

func newReporter(out io.Writer, asJSON bool) *reporter {
	r := &reporter{}
	if asJSON {
		r.json = json.NewEncoder(out)
	} else {
		r.table = tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	}
	return r
}

type frameRecord struct {
	Frame   int                       `json:"frame"`
	Results []types.RecognitionResult `json:"results"`
}

// Write prints the results of one frame. Frames without faces are skipped.
func (r *reporter) Write(index int, results []types.RecognitionResult) {
	if len(results) == 0 {
		return
	}
	if r.json != nil {
		r.json.Encode(frameRecord{Frame: index, Results: results})
		return
	}
	if !r.headerDone {
		fmt.Fprintln(r.table, "FRAME\tLABEL\tCONFIDENCE\tDISTANCE\tEAR\tBLINKS\tYAW\tPITCH\tSTATUS")
		fmt.Fprintln(r.table, "-----\t-----\t----------\t--------\t---\t------\t---\t-----\t------")
		r.headerDone = true
	}
	for _, res := range results {
		fmt.Fprintf(r.table, "%d\t%s\t%.0f%%\t%.3f\t%.3f\t%d\t%.1f\t%.1f\t%s\n",
			index, res.Label, res.Confidence*100, res.Distance,
			res.Stats.EAR, res.Stats.Blinks, res.Stats.Yaw, res.Stats.Pitch, res.Status())
	}
	r.table.Flush()
}

// watchSummary collects per-label appearances for the end-of-run report.
type watchSummary struct {
	labels map[string]*labelSummary
}

type labelSummary struct {
	FirstFrame int
	LastFrame  int
	LiveFrame  int // first frame with liveness confirmed, 0 if never
	Detections int
}

func newWatchSummary() *watchSummary {
	return &watchSummary{labels: make(map[string]*labelSummary)}
}

func (s *watchSummary) Add(index int, results []types.RecognitionResult) {
	for _, r := range results {
		ls, ok := s.labels[r.Label]
		if !ok {
			ls = &labelSummary{FirstFrame: index}
			s.labels[r.Label] = ls
		}
		ls.LastFrame = index
		ls.Detections++
		if r.Alive && ls.LiveFrame == 0 {
			ls.LiveFrame = index
		}
	}
}

func (s *watchSummary) Print(out io.Writer) {
	fmt.Fprintf(out, "\n---------------------------------------------------------\n")
	fmt.Fprintf(out, "📊 WATCH SUMMARY\n")
	fmt.Fprintf(out, "---------------------------------------------------------\n")

	labels := make([]string, 0, len(s.labels))
	for l := range s.labels {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	for _, l := range labels {
		ls := s.labels[l]
		live := "never confirmed live"
		if ls.LiveFrame > 0 {
			live = fmt.Sprintf("live from frame %d", ls.LiveFrame)
		}
		fmt.Fprintf(out, "\n👤 %s: frames %d -> %d (%d detections), %s\n", l, ls.FirstFrame, ls.LastFrame, ls.Detections, live)
	}
	fmt.Fprintf(out, "---------------------------------------------------------\n")
}

// validateWatchFlags ensures all CLI arguments are valid before starting heavy processes.
func validateWatchFlags(opts *Options) error {
	// Devices and stream URLs are left to FFmpeg
	if opts.InputFormat == "" && !strings.Contains(opts.InputPath, "://") {
		info, err := os.Stat(opts.InputPath)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("input file does not exist: %w", err)
			}
			return fmt.Errorf("unable to access input file: %w", err)
		}
		if info.IsDir() {
			return fmt.Errorf("input path is a directory, expected a video file")
		}
	}
	if opts.NthFrame < 1 {
		return fmt.Errorf("nth-frame must be >= 1, got %d", opts.NthFrame)
	}
	if opts.NumEngines < 1 {
		opts.NumEngines = 1
	}
	if err := validateMatchThreshold(opts.MatchThreshold); err != nil {
		return err
	}
	if opts.EARThreshold <= 0 {
		return fmt.Errorf("ear threshold must be positive, got %f", opts.EARThreshold)
	}
	if opts.ClosedFrames < 1 {
		return fmt.Errorf("closed-frames must be >= 1, got %d", opts.ClosedFrames)
	}
	if opts.PoseThreshold <= 0 {
		return fmt.Errorf("pose threshold must be positive, got %f", opts.PoseThreshold)
	}
	if opts.GraceFrames < 0 {
		return fmt.Errorf("grace-frames must be >= 0, got %d", opts.GraceFrames)
	}
	if opts.SessionKey != sessionLabel && opts.SessionKey != sessionShared {
		return fmt.Errorf("session-key must be %q or %q, got %q", sessionLabel, sessionShared, opts.SessionKey)
	}
	return validateWorkerFlags(opts)
}

func validateMatchThreshold(t float64) error {
	if t <= 0 || t > 1.0 {
		return fmt.Errorf("match threshold must be between 0.0 and 1.0, got %f", t)
	}
	return nil
}

func validateWorkerFlags(opts *Options) error {
	if opts.Downsample < 1 {
		return fmt.Errorf("downsample must be >= 1, got %d", opts.Downsample)
	}
	if _, err := time.ParseDuration(opts.WorkerTimeout); err != nil {
		return fmt.Errorf("invalid worker-timeout format (use '30s', '500ms'): %w", err)
	}
	return nil
}
