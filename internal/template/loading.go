package template

import (
	"bytes"
	"fmt"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"tomgalvin.uk/lasergrave/internal/bitmap"
)

const defaultFontSize = 24

func loadImagesForTemplate(t *Template) error {
	for i := range t.Images {
		if t.Images[i].LoadedImage != nil {
			continue
		}
		loadedImage, err := bitmap.Decode(bytes.NewReader(t.Images[i].Image))
		if err != nil {
			return fmt.Errorf("Couldn't load image for template image at index %v:\n%w", i, err)
		}
		t.Images[i].LoadedImage = loadedImage
	}
	return nil
}

func loadFontsForTemplate(t *Template) error {
	for i := range t.Texts {
		size := t.Texts[i].FontSize
		if size <= 0 {
			size = defaultFontSize
		}
		loadedFontFace, err := loadFont(&t.Texts[i].Font, size)
		if err != nil {
			return fmt.Errorf("Couldn't load font for template text at index %v:\n%w", i, err)
		}
		t.Texts[i].FontFace = loadedFontFace
	}
	return nil
}

func getFontData(f *Font) ([]byte, error) {
	if len(f.FontData) > 0 {
		return f.FontData, nil
	}
	switch f.BuiltinName {
	case "", "goregular":
		return goregular.TTF, nil
	case "gomono":
		return gomono.TTF, nil
	case "gobold":
		return gobold.TTF, nil
	default:
		return nil, fmt.Errorf(`Unrecognised default font "%s"`, f.BuiltinName)
	}
}

func loadFont(f *Font, size int) (font.Face, error) {
	fontData, err := getFontData(f)
	if err != nil {
		return nil, fmt.Errorf("Couldn't get font data:\n%w", err)
	}
	parsedFont, err := opentype.Parse(fontData)
	if err != nil {
		return nil, fmt.Errorf("Couldn't parse font %q:\n%w", f.BuiltinName, err)
	}

	fontFace, err := opentype.NewFace(parsedFont, &opentype.FaceOptions{
		Size:    float64(size),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("Couldn't create font face:\n%w", err)
	}

	return fontFace, nil
}
