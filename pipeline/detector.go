package pipeline

import (
	"fmt"
	"image"
	"log/slog"
	"os"
	"strings"

	"gocv.io/x/gocv"

	"edgemon-go/model"
	"edgemon-go/service/config"
	"edgemon-go/service/lgr"
)

// Detector wraps a YOLOv5 ONNX network restricted to the person class.
// Construction is the only place it can fail hard; Detect errors are
// frame-local and the loop just skips the frame.
type Detector struct {
	net                 gocv.Net
	labels              []string
	objectConfThreshold float32
}

var allowedClasses = map[string]bool{
	model.PersonLabel: true,
}

func NewDetector(cfgsvc config.IService) (*Detector, error) {
	modelPath := cfgsvc.GetModelPath()
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: no model at %s", model.ErrModelLoad, modelPath)
	}

	labels, err := loadLabels(cfgsvc.GetLabelsPath())
	if err != nil {
		return nil, fmt.Errorf("%w: labels: %v", model.ErrModelLoad, err)
	}

	// WARNING: net is not thread-safe. The monitor calls Detect from a
	// single goroutine, which is what keeps this safe.
	net := gocv.ReadNet(modelPath, "")
	if net.Empty() {
		return nil, fmt.Errorf("%w: error reading %s", model.ErrModelLoad, modelPath)
	}

	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, fmt.Errorf("%w: setting backend: %v", model.ErrModelLoad, err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, fmt.Errorf("%w: setting target: %v", model.ErrModelLoad, err)
	}

	lgr.Logger.Info(
		"detector loaded",
		slog.String("model", modelPath),
		slog.String("openCV", gocv.Version()),
	)

	return &Detector{
		net:                 net,
		labels:              labels,
		objectConfThreshold: cfgsvc.GetObjectConfidenceThreshold(),
	}, nil
}

// Detect runs one synchronous inference and returns the person boxes
// scoring at or above confThreshold. Boxes below threshold are
// excluded, not flagged.
func (d *Detector) Detect(frame Frame, confThreshold float32) (det model.Detection, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("detector panic: %v", r)
		}
	}()

	det.Label = model.PersonLabel

	if frame.Mat.Empty() {
		return det, fmt.Errorf("empty frame at seq %d", frame.Seq)
	}

	blob := gocv.BlobFromImage(frame.Mat, 1.0/255.0, image.Pt(640, 640), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")

	output := d.net.Forward("")
	defer output.Close()

	dims := output.Size()
	if len(dims) != 3 {
		return det, fmt.Errorf("unexpected DNN output dims: %v", dims)
	}

	reshaped := output.Reshape(1, dims[1])
	if reshaped.Empty() || reshaped.Rows() == 0 || reshaped.Cols() < 5 {
		reshaped.Close()
		return det, fmt.Errorf("reshape failed or invalid dimensions")
	}
	defer reshaped.Close()

	for i := 0; i < reshaped.Rows(); i++ {
		row := reshaped.RowRange(i, i+1)
		data, rowErr := row.DataPtrFloat32()
		row.Close()

		if rowErr != nil || data == nil || len(data) < 5 {
			continue
		}
		if data[4] < d.objectConfThreshold {
			continue
		}

		rect, score, ok := d.extractPerson(frame.Mat, data, confThreshold)
		if !ok {
			continue
		}
		det.Boxes = append(det.Boxes, rect)
		det.Scores = append(det.Scores, score)
	}

	return det, nil
}

func (d *Detector) extractPerson(frame gocv.Mat, data []float32, confThreshold float32) (image.Rectangle, float32, bool) {
	objectConfidence := data[4] // objectness
	classScores := data[5:]

	if len(classScores) != len(d.labels) {
		return image.Rectangle{}, 0, false
	}

	classID := -1
	classConfidence := float32(0.0)
	for j, score := range classScores {
		if !allowedClasses[strings.ToLower(d.labels[j])] {
			continue
		}
		if score > classConfidence {
			classConfidence = score
			classID = j
		}
	}

	finalConf := objectConfidence * classConfidence
	if classID == -1 || finalConf < confThreshold {
		return image.Rectangle{}, 0, false
	}

	cx := data[0] * float32(frame.Cols())
	cy := data[1] * float32(frame.Rows())
	w := data[2] * float32(frame.Cols())
	h := data[3] * float32(frame.Rows())
	x := int(cx - w/2)
	y := int(cy - h/2)

	return image.Rect(x, y, x+int(w), y+int(h)), finalConf, true
}

func (d *Detector) Close() {
	d.net.Close()
}

func loadLabels(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n"), nil
}
