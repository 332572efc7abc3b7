package pipeline

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// EncodeUploadImage shrinks a frame to a padded square of targetSize
// pixels and JPEG-encodes it at the given quality. At 640px and quality
// 80 typical frames land around the ~50KB the analyzer request targets.
func EncodeUploadImage(mat gocv.Mat, targetSize, quality int) ([]byte, error) {
	w := mat.Cols()
	h := mat.Rows()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("cannot encode empty image")
	}

	scale := float64(targetSize) / float64(w)
	if s := float64(targetSize) / float64(h); s < scale {
		scale = s
	}
	newW := int(float64(w) * scale)
	newH := int(float64(h) * scale)

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(mat, &resized, image.Pt(newW, newH), 0, 0, gocv.InterpolationArea)

	out := resized
	if newW != targetSize || newH != targetSize {
		// Letterbox onto a black square so the analyzer always sees a
		// fixed geometry
		padded := gocv.NewMatWithSize(targetSize, targetSize, gocv.MatTypeCV8UC3)
		defer padded.Close()

		xOff := (targetSize - newW) / 2
		yOff := (targetSize - newH) / 2
		roi := padded.Region(image.Rect(xOff, yOff, xOff+newW, yOff+newH))
		resized.CopyTo(&roi)
		roi.Close()

		out = padded
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, out, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, err
	}
	defer buf.Close()

	return append([]byte(nil), buf.GetBytes()...), nil
}
