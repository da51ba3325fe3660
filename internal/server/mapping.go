package server

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"tomgalvin.uk/lasergrave/internal/bitmap"
	"tomgalvin.uk/lasergrave/internal/config"
	"tomgalvin.uk/lasergrave/internal/model"
)

func mapJobRequest(j *model.JobRequest) (config.JobRequest, error) {
	req := config.JobRequest{
		Name:        j.Name,
		Profile:     j.Profile,
		Label:       j.Label,
		LabelParams: j.Params,
		WidthMM:     j.WidthMM,
		HeightMM:    j.HeightMM,
		OffsetX:     j.OffsetX,
		OffsetY:     j.OffsetY,
		Port:        j.Port,
	}

	switch {
	case j.Image != "" && j.Label != "":
		return req, fmt.Errorf("%w: give either an image or a label", bitmap.ErrInvalidParameters)
	case j.Image != "":
		data, err := base64.StdEncoding.DecodeString(j.Image)
		if err != nil {
			return req, fmt.Errorf("%w: Couldn't decode image data:\n%w", bitmap.ErrImageLoad, err)
		}
		if req.Image, err = bitmap.Decode(bytes.NewReader(data)); err != nil {
			return req, fmt.Errorf("%w: Couldn't decode image:\n%w", bitmap.ErrImageLoad, err)
		}
	case j.Label == "":
		return req, fmt.Errorf("%w: an image or a label is needed", bitmap.ErrInvalidParameters)
	}
	return req, nil
}
