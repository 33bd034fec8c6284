package annotate

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"
)

var ErrEmptyImage = errors.New("decoded image is empty or unsupported format")

// DecodeImage decodes an encoded image (JPEG, PNG, ...) into a BGR Mat.
func DecodeImage(buf []byte) (gocv.Mat, error) {
	if len(buf) == 0 {
		return gocv.NewMat(), ErrEmptyImage
	}
	mat, err := gocv.IMDecode(buf, gocv.IMReadColor)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("%w: %v", ErrEmptyImage, err)
	}
	if mat.Empty() {
		_ = mat.Close()
		return gocv.NewMat(), ErrEmptyImage
	}
	return mat, nil
}

// EncodeJPEG returns frame as JPEG bytes.
func EncodeJPEG(frame gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, frame)
	if err != nil {
		return nil, err
	}
	defer buf.Close()
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
