package server

import (
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/dasmlab/m2mserve/pkg/predictor"
)

// ErrMalformedRequest marks a request body that cannot be mapped onto the
// translation payload.
var ErrMalformedRequest = errors.New("malformed translation request")

// translationBody is the POST /translation body:
//
//	{"payload": {"fromLang": "en", "toLang": "ja", "records": [{"id": "1", "text": "..."}]}}
type translationBody struct {
	Payload *translationPayload `json:"payload" binding:"required"`
}

type translationPayload struct {
	FromLang string       `json:"fromLang" binding:"required"`
	ToLang   string       `json:"toLang" binding:"required"`
	Records  []recordBody `json:"records" binding:"required,dive"`
}

// recordBody uses pointers so that a missing field is told apart from an
// empty string.
type recordBody struct {
	ID   *string `json:"id" binding:"required"`
	Text *string `json:"text" binding:"required"`
}

type translationResponse struct {
	Result []predictor.Result `json:"result"`
}

// translationRequest is a validated translation payload.
type translationRequest struct {
	FromLang string
	ToLang   string
	Records  []predictor.Record
}

// parseTranslationRequest binds and validates the JSON body. Any failure is
// wrapped in ErrMalformedRequest.
func parseTranslationRequest(c *gin.Context) (*translationRequest, error) {
	var body translationBody
	if err := c.ShouldBindJSON(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}

	p := body.Payload
	records := make([]predictor.Record, len(p.Records))
	for i, r := range p.Records {
		records[i] = predictor.Record{ID: *r.ID, Text: *r.Text}
	}

	return &translationRequest{
		FromLang: p.FromLang,
		ToLang:   p.ToLang,
		Records:  records,
	}, nil
}
