package pipeline

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"gocv.io/x/gocv"

	"edgemon-go/model"
	"edgemon-go/service/config"
	"edgemon-go/service/lgr"
)

// A live camera gets this many consecutive failed reads before the
// source is declared dead.
const maxConsecutiveReadFailures = 3

// FrameSource supplies frames from a camera index or a video file.
// File sources optionally loop on end-of-stream and pace playback to a
// target FPS; cameras block on the device until a frame arrives.
type FrameSource struct {
	source   string
	deviceID int
	isFile   bool

	width     int
	height    int
	fps       int
	targetFPS float64
	loop      bool

	cap       *gocv.VideoCapture
	seq       uint64
	lastFrame time.Time
	failures  int
	stats     model.SourceStats
}

func OpenSource(cfgsvc config.IService) (*FrameSource, error) {
	s := &FrameSource{
		source:    cfgsvc.GetVideoSource(),
		width:     cfgsvc.GetVideoWidth(),
		height:    cfgsvc.GetVideoHeight(),
		fps:       cfgsvc.GetVideoFPS(),
		targetFPS: cfgsvc.GetVideoTargetFPS(),
	}

	if id, err := strconv.Atoi(s.source); err == nil {
		s.deviceID = id
	} else {
		s.isFile = true
		s.loop = cfgsvc.GetLoopVideo()
	}

	if err := s.open(); err != nil {
		return nil, err
	}

	lgr.Logger.Info(
		"video source opened",
		slog.String("source", s.source),
		slog.Bool("file", s.isFile),
		slog.Bool("loop", s.loop),
		slog.Float64("targetFPS", s.targetFPS),
	)

	return s, nil
}

func (s *FrameSource) open() error {
	var cap *gocv.VideoCapture
	var err error

	if s.isFile {
		cap, err = gocv.VideoCaptureFile(s.source)
	} else {
		cap, err = gocv.VideoCaptureDevice(s.deviceID)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", model.ErrSourceUnavailable, s.source, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return fmt.Errorf("%w: %s", model.ErrSourceUnavailable, s.source)
	}

	cap.Set(gocv.VideoCaptureFrameWidth, float64(s.width))
	cap.Set(gocv.VideoCaptureFrameHeight, float64(s.height))
	if !s.isFile {
		cap.Set(gocv.VideoCaptureFPS, float64(s.fps))
		// Smallest buffer keeps the live view close to real time
		cap.Set(gocv.VideoCaptureBufferSize, 1)
	}

	s.cap = cap
	return nil
}

func (s *FrameSource) reopen() error {
	if s.cap != nil {
		s.cap.Close()
		s.cap = nil
	}
	s.stats.Reopens++
	s.lastFrame = time.Time{}
	return s.open()
}

// Next blocks until a frame is available. The caller owns the returned
// Frame and must Close it.
func (s *FrameSource) Next() (Frame, error) {
	img := gocv.NewMat()

	for {
		s.pace()

		if ok := s.cap.Read(&img); !ok || img.Empty() {
			if s.isFile {
				if s.loop {
					lgr.Logger.Info("video file finished, looping", slog.String("source", s.source))
					if err := s.reopen(); err != nil {
						img.Close()
						return Frame{}, err
					}
					continue
				}
				img.Close()
				return Frame{}, model.ErrEndOfStream
			}

			s.failures++
			s.stats.Errors++
			if s.failures >= maxConsecutiveReadFailures {
				img.Close()
				return Frame{}, fmt.Errorf("%w: %d consecutive read failures", model.ErrReadFrame, s.failures)
			}
			lgr.Logger.Warn(
				"camera read failed, reconnecting",
				slog.Int("failures", s.failures),
			)
			if err := s.reopen(); err != nil {
				img.Close()
				return Frame{}, err
			}
			continue
		}

		s.failures = 0
		s.seq++
		s.stats.Frames++
		return Frame{Mat: img, Seq: s.seq, Timestamp: time.Now()}, nil
	}
}

// pace sleeps the difference between the desired and the actual frame
// interval. Cameras pace themselves; this only applies to file sources
// with a playback cap.
func (s *FrameSource) pace() {
	if !s.isFile || s.targetFPS <= 0 {
		return
	}
	interval := time.Duration(float64(time.Second) / s.targetFPS)
	if !s.lastFrame.IsZero() {
		if elapsed := time.Since(s.lastFrame); elapsed < interval {
			time.Sleep(interval - elapsed)
		}
	}
	s.lastFrame = time.Now()
}

func (s *FrameSource) Stats() model.SourceStats {
	stats := s.stats
	stats.Name = s.source
	stats.Timestamp = time.Now().Unix()
	return stats
}

func (s *FrameSource) Close() error {
	if s.cap == nil {
		return nil
	}
	err := s.cap.Close()
	s.cap = nil
	return err
}
