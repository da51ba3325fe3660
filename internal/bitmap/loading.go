package bitmap

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// LoadImage reads and decodes the image at path. SVG files are rasterised at
// their view box size on a white background; everything else goes through the
// registered image decoders.
func LoadImage(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: Couldn't read %s:\n%w", ErrImageLoad, path, err)
	}

	var img image.Image
	if strings.EqualFold(filepath.Ext(path), ".svg") {
		img, err = DecodeSVG(bytes.NewReader(data))
	} else {
		img, err = Decode(bytes.NewReader(data))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: Couldn't decode %s:\n%w", ErrImageLoad, path, err)
	}
	return img, nil
}

// Decode decodes any raster format with a registered decoder.
func Decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, err
	}
	return img, nil
}

func DecodeSVG(r io.Reader) (image.Image, error) {
	svgIcon, err := oksvg.ReadIconStream(r)
	if err != nil {
		return nil, err
	}

	viewBoxW := svgIcon.ViewBox.W
	viewBoxH := svgIcon.ViewBox.H
	width, height := int(viewBoxW), int(viewBoxH)
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("SVG view box is empty (%vx%v)", viewBoxW, viewBoxH)
	}

	svgIcon.SetTarget(0, 0, viewBoxW, viewBoxH)

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	scanner := rasterx.NewScannerGV(width, height, img, img.Bounds())
	scanner.SetClip(img.Bounds())
	raster := rasterx.NewDasher(width, height, scanner)

	svgIcon.Draw(raster, 1.0)
	return img, nil
}
