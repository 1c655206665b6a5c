package train

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"cvae_lib/tensor"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

const idxImagesMagic = 2051

// Dataset is an in-memory stack of NHWC images with values in [0,1].
type Dataset struct {
	Images *tensor.Tensor // [N, H, W, C]
}

// Len is the number of images.
func (d *Dataset) Len() int { return d.Images.Shape[0] }

// SampleShape is the (height, width, channels) of one image.
func (d *Dataset) SampleShape() []int { return append([]int(nil), d.Images.Shape[1:]...) }

// Batch copies the images at indices into a new [len(indices), H, W, C] tensor.
func (d *Dataset) Batch(indices []int) *tensor.Tensor {
	per := tensor.Volume(d.Images.Shape[1:])
	out := tensor.New(append([]int{len(indices)}, d.Images.Shape[1:]...)...)
	for i, idx := range indices {
		copy(out.Data[i*per:(i+1)*per], d.Images.Data[idx*per:(idx+1)*per])
	}
	return out
}

// LoadMNISTImages reads an IDX3 image file (optionally gzip-compressed,
// detected by a .gz suffix). limit > 0 caps the number of images read.
func LoadMNISTImages(path string, limit int) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = bufio.NewReader(f)
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}
	ds, err := ReadIDXImages(r, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ds, nil
}

// ReadIDXImages decodes IDX3 unsigned-byte images, normalized to [0,1].
func ReadIDXImages(r io.Reader, limit int) (*Dataset, error) {
	var header struct {
		Magic, Count, Rows, Cols int32
	}
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, fmt.Errorf("reading idx header: %w", err)
	}
	if header.Magic != idxImagesMagic {
		return nil, fmt.Errorf("invalid magic number: %d", header.Magic)
	}
	if header.Count < 0 || header.Rows <= 0 || header.Cols <= 0 {
		return nil, fmt.Errorf("invalid idx dimensions %dx%dx%d", header.Count, header.Rows, header.Cols)
	}

	n := int(header.Count)
	if limit > 0 && limit < n {
		n = limit
	}
	rows, cols := int(header.Rows), int(header.Cols)
	images := tensor.New(n, rows, cols, 1)
	buf := make([]byte, rows*cols)

	for i := 0; i < n; i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		img := images.Data[i*rows*cols : (i+1)*rows*cols]
		for j, b := range buf {
			img[j] = float64(b) / 255.0 // Normalize to 0-1
		}
	}
	return &Dataset{Images: images}, nil
}

// SyntheticBlobs renders n single-channel images, each holding one
// Gaussian blob at a random position and width.
func SyntheticBlobs(n, height, width int, src rand.Source) *Dataset {
	cy := distuv.Uniform{Min: float64(height) / 4, Max: float64(height) * 3 / 4, Src: src}
	cx := distuv.Uniform{Min: float64(width) / 4, Max: float64(width) * 3 / 4, Src: src}
	sigma := distuv.Uniform{Min: 1.5, Max: 4, Src: src}

	images := tensor.New(n, height, width, 1)
	for i := 0; i < n; i++ {
		y0, x0, s := cy.Rand(), cx.Rand(), sigma.Rand()
		img := images.Data[i*height*width : (i+1)*height*width]
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				dy, dx := float64(y)-y0, float64(x)-x0
				img[y*width+x] = math.Exp(-(dy*dy + dx*dx) / (2 * s * s))
			}
		}
	}
	return &Dataset{Images: images}
}
