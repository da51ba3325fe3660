// Package template renders text labels: a fixed layout of texts and images in
// which {param} placeholders are filled in at render time. The result is an
// ordinary image that gets engraved like any other.
package template

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
)

var (
	ErrMissingParameter = errors.New("missing template parameter")
	ErrParameterTooLong = errors.New("template parameter too long")
	ErrOutOfBounds      = errors.New("template content out of bounds")
)

// Template is a label layout in pixels. A zero Width or Height grows to fit
// the content.
type Template struct {
	Name          string
	Width, Height int
	Parameters    []Parameter
	Texts         []Text
	Images        []Image
}

type Parameter struct {
	Name string
	// MaxLength limits the value in runes; zero means no limit.
	MaxLength int
}

// Font is either one of the built in Go fonts, by name, or TrueType/OpenType
// data.
type Font struct {
	BuiltinName string
	FontData    []byte
}

type Text struct {
	Text          string
	X, Y          int
	Width, Height int
	Font          Font
	FontSize      int

	FilledText string
	FontFace   font.Face
}

type Image struct {
	Image         []byte
	X, Y          int
	Width, Height int

	LoadedImage image.Image
}

// Fill substitutes {name} placeholders in s.
func Fill(s string, params map[string]string) string {
	pairs := make([]string, 0, 2*len(params))
	for k, v := range params {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(s)
}

func (t *Template) checkParameters(params map[string]string) error {
	for _, p := range t.Parameters {
		v, ok := params[p.Name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingParameter, p.Name)
		}
		if p.MaxLength > 0 && len([]rune(v)) > p.MaxLength {
			return fmt.Errorf("%w: %s is %d characters, limit is %d", ErrParameterTooLong, p.Name, len([]rune(v)), p.MaxLength)
		}
	}
	return nil
}

// Render fills in the parameters and draws the label in black on white.
func Render(t *Template, params map[string]string) (image.Image, error) {
	if err := t.checkParameters(params); err != nil {
		return nil, err
	}

	// work on a copy so a template can be rendered concurrently
	r := *t
	r.Texts = append([]Text(nil), t.Texts...)
	r.Images = append([]Image(nil), t.Images...)
	for i := range r.Texts {
		r.Texts[i].FilledText = Fill(r.Texts[i].Text, params)
	}

	if err := loadFontsForTemplate(&r); err != nil {
		return nil, err
	}
	if err := loadImagesForTemplate(&r); err != nil {
		return nil, err
	}

	width, height, err := measureAndCheckBounds(&r)
	if err != nil {
		return nil, err
	}

	img := image.NewRGBA64(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	for i := range r.Images {
		measureAndDrawChildImage(&r.Images[i], img)
	}
	for i := range r.Texts {
		measureAndDrawChildText(&r.Texts[i], img)
	}
	return img, nil
}
