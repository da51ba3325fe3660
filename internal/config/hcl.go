package config

import (
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
)

// hclFile is the top level of a configuration file. Every attribute is
// optional so a file only has to mention what it changes.
type hclFile struct {
	Machine  *hclMachine   `hcl:"machine,block"`
	Profiles []*hclProfile `hcl:"profile,block"`
	Labels   []*hclLabel   `hcl:"label,block"`
}

type hclMachine struct {
	Port            *string  `hcl:"port,optional"`
	Baud            *int     `hcl:"baud,optional"`
	Transport       *string  `hcl:"transport,optional"`
	WakeDelay       *string  `hcl:"wake_delay,optional"`
	ReadTimeout     *string  `hcl:"read_timeout,optional"`
	ResponseTimeout *string  `hcl:"response_timeout,optional"`
	KeepOpen        *bool    `hcl:"keep_open,optional"`
	OffsetFeed      *float64 `hcl:"offset_feed,optional"`
	Database        *string  `hcl:"database,optional"`
}

type hclProfile struct {
	Name        string   `hcl:"name,label"`
	Mode        *string  `hcl:"mode,optional"`
	PixelsPerMM *float64 `hcl:"ppmm,optional"`
	Gamma       *float64 `hcl:"gamma,optional"`
	MaxPower    *int     `hcl:"max_power,optional"`
	MinPower    *int     `hcl:"min_power,optional"`
	EngraveFeed *float64 `hcl:"engrave_feed,optional"`
	TravelFeed  *float64 `hcl:"travel_feed,optional"`
	Overscan    *float64 `hcl:"overscan,optional"`
	Invert      *bool    `hcl:"invert,optional"`
	Resampler   *string  `hcl:"resampler,optional"`
}

type hclLabel struct {
	Name       string          `hcl:"name,label"`
	Width      int             `hcl:"width,optional"`
	Height     int             `hcl:"height,optional"`
	Parameters []*hclParameter `hcl:"param,block"`
	Texts      []*hclText      `hcl:"text,block"`
	Images     []*hclImage     `hcl:"image,block"`
}

type hclParameter struct {
	Name      string `hcl:"name,label"`
	MaxLength int    `hcl:"max_length,optional"`
}

type hclText struct {
	Value    string `hcl:"value"`
	X        int    `hcl:"x,optional"`
	Y        int    `hcl:"y,optional"`
	Width    int    `hcl:"width,optional"`
	Height   int    `hcl:"height,optional"`
	Font     string `hcl:"font,optional"`
	FontFile string `hcl:"font_file,optional"`
	Size     int    `hcl:"size,optional"`
}

type hclImage struct {
	Path   string `hcl:"path"`
	X      int    `hcl:"x,optional"`
	Y      int    `hcl:"y,optional"`
	Width  int    `hcl:"width,optional"`
	Height int    `hcl:"height,optional"`
}

// evalContext exposes the process environment as env.NAME. Variables whose
// names aren't valid identifiers can't be referenced and are left out.
func evalContext() *hcl.EvalContext {
	env := map[string]cty.Value{}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok && hclsyntax.ValidIdentifier(k) {
			env[k] = cty.StringVal(v)
		}
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": cty.ObjectVal(env),
		},
	}
}
