// Package generation validates content requests and produces content through
// a model backend.
package generation

import (
	"fmt"
	"strings"

	"copyforge/internal/types"
)

// Field length limits, in characters.
const (
	MaxTopicLength             = 500
	MaxAudienceLength          = 200
	MaxKeywordsLength          = 500
	MaxAdditionalContextLength = 2000
)

// Request is the body of POST /v1/generate.
type Request struct {
	ContentType       types.ContentType `json:"contentType" validate:"required,content_type"`
	Topic             string            `json:"topic" validate:"required,max=500"`
	Audience          string            `json:"audience" validate:"required,max=200"`
	Tone              types.Tone        `json:"tone" validate:"required,tone"`
	Keywords          string            `json:"keywords,omitempty" validate:"max=500"`
	AdditionalContext string            `json:"additionalContext,omitempty" validate:"max=2000"`
	EmojiPolicy       types.EmojiPolicy `json:"emojiPolicy,omitempty" validate:"emoji_policy"`
}

// StructValidator is satisfied by core.Validator.
type StructValidator interface {
	ValidateStruct(s any) error
}

// Normalize trims every free-text field, lowercases the enum fields and fills
// in the default emoji policy. A whitespace-only field becomes empty and so
// fails the required rule.
func (r *Request) Normalize() {
	r.ContentType = types.ContentType(strings.ToLower(strings.TrimSpace(string(r.ContentType))))
	r.Tone = types.Tone(strings.ToLower(strings.TrimSpace(string(r.Tone))))
	r.EmojiPolicy = types.EmojiPolicy(strings.ToLower(strings.TrimSpace(string(r.EmojiPolicy))))
	if r.EmojiPolicy == "" {
		r.EmojiPolicy = types.EmojiNone
	}

	r.Topic = strings.TrimSpace(r.Topic)
	r.Audience = strings.TrimSpace(r.Audience)
	r.Keywords = strings.TrimSpace(r.Keywords)
	r.AdditionalContext = strings.TrimSpace(r.AdditionalContext)
}

// Validate normalizes req and checks it. It never touches the ledger, so a
// rejected request costs no credit.
func Validate(v StructValidator, req *Request) error {
	if req == nil {
		return types.NewAppError(types.ErrCodeValidationInvalidRequest, "request body is required", nil)
	}
	req.Normalize()
	return v.ValidateStruct(req)
}

// Summary is the short description stored in generation history.
func (r Request) Summary() string {
	return fmt.Sprintf("Topic: %s, Audience: %s, Tone: %s", r.Topic, r.Audience, r.Tone)
}
