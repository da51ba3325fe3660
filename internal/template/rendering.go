package template

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

type Measure struct {
	X, Y          int
	Width, Height int
	OutOfBounds   bool
}

func wrapText(text string, maxWidth int, face font.Face) []string {
	var lines []string
	words := strings.Fields(text)
	if len(words) == 0 {
		return lines
	}

	var line string
	for _, word := range words {
		testLine := line
		if len(line) > 0 {
			testLine += " "
		}
		testLine += word

		width := font.MeasureString(face, testLine).Ceil()
		if width > maxWidth && len(line) > 0 && maxWidth > 0 {
			lines = append(lines, line)
			line = word
		} else {
			line = testLine
		}
	}

	if len(line) > 0 {
		lines = append(lines, line)
	}
	return lines
}

// Measures a text element and draws it onto i unless i is nil. Lines are
// wrapped to the element's width; text taller than its height is flagged out
// of bounds.
func measureAndDrawChildText(text *Text, i draw.Image) Measure {
	wrappedText := wrapText(text.FilledText, text.Width, text.FontFace)
	metrics := text.FontFace.Metrics()
	var width, height int
	for _, line := range wrappedText {
		width = max(width, font.MeasureString(text.FontFace, line).Ceil())
		height += metrics.Height.Ceil()
	}

	m := Measure{
		X:      text.X,
		Y:      text.Y,
		Width:  width,
		Height: height,
	}

	if height > text.Height && text.Height > 0 {
		m.OutOfBounds = true
		return m
	}

	if i != nil {
		d := &font.Drawer{
			Dst:  i,
			Src:  image.NewUniform(color.Black),
			Face: text.FontFace,
		}
		d.Dot = fixed.Point26_6{X: fixed.I(m.X), Y: fixed.I(m.Y)}
		for _, line := range wrappedText {
			d.Dot.X = fixed.I(m.X)
			d.Dot.Y += metrics.Ascent
			d.DrawString(line)
			d.Dot.Y += metrics.Descent
		}
	}
	return m
}

func measureAndDrawChildImage(img *Image, i draw.Image) Measure {
	m := Measure{
		X:      img.X,
		Y:      img.Y,
		Width:  img.Width,
		Height: img.Height,
	}
	if m.Width <= 0 || m.Height <= 0 {
		b := img.LoadedImage.Bounds()
		m.Width, m.Height = b.Dx(), b.Dy()
	}
	if i != nil {
		bounds := image.Rect(m.X, m.Y, m.X+m.Width, m.Y+m.Height)
		draw.CatmullRom.Scale(i, bounds, img.LoadedImage, img.LoadedImage.Bounds(), draw.Over, nil)
	}
	return m
}

// Measure the elements to be drawn and work out the size of the canvas. A
// template with a fixed size fails if anything falls outside it.
func measureAndCheckBounds(t *Template) (int, int, error) {
	var width, height int
	grow := func(m Measure) {
		width = max(width, m.X+m.Width)
		height = max(height, m.Y+m.Height)
	}

	for i := range t.Images {
		grow(measureAndDrawChildImage(&t.Images[i], nil))
	}
	for i := range t.Texts {
		m := measureAndDrawChildText(&t.Texts[i], nil)
		if m.OutOfBounds {
			return 0, 0, fmt.Errorf("%w: text %q is %dpx tall, limit is %dpx", ErrOutOfBounds, t.Texts[i].FilledText, m.Height, t.Texts[i].Height)
		}
		grow(m)
	}

	if t.Width > 0 {
		if width > t.Width {
			return 0, 0, fmt.Errorf("%w: content is %dpx wide, label is %dpx", ErrOutOfBounds, width, t.Width)
		}
		width = t.Width
	}
	if t.Height > 0 {
		if height > t.Height {
			return 0, 0, fmt.Errorf("%w: content is %dpx tall, label is %dpx", ErrOutOfBounds, height, t.Height)
		}
		height = t.Height
	}
	if width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("%w: label %q has nothing to draw", ErrOutOfBounds, t.Name)
	}

	return width, height, nil
}
