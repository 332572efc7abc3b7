package main

import (
	"gocv.io/x/gocv"

	"edgemon-go/model"
)

// windowSink renders annotated frames into a desktop window. WaitKey is
// what pumps the HighGUI event loop, so it must be called every frame.
type windowSink struct {
	window *gocv.Window
}

func newWindowSink(title string) *windowSink {
	return &windowSink{
		window: gocv.NewWindow(title),
	}
}

func (s *windowSink) Render(frame *gocv.Mat, _ model.AlertState) (bool, error) {
	s.window.IMShow(*frame)

	key := s.window.WaitKey(1)
	if key == 'q' || key == 27 {
		return true, nil
	}
	return false, nil
}

func (s *windowSink) Close() error {
	return s.window.Close()
}
