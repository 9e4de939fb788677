package generation

import (
	"fmt"
	"strings"

	"copyforge/internal/types"
)

// Prompt is the pair sent to a model: standing instructions plus the task.
type Prompt struct {
	System string
	User   string
}

type format struct {
	noun         string
	requirements []string
	// emojiLine marks formats where the emoji instruction is part of the
	// task list rather than only the system instruction.
	emojiLine bool
}

var formats = map[types.ContentType]format{
	types.ContentTwitterThread: {
		noun: "an X (Twitter) thread",
		requirements: []string{
			"Open with a hook post",
			"5 to 8 posts, each under 280 characters",
			"Number each post (1/N, 2/N, ...)",
			"Close with a call to action",
		},
		emojiLine: true,
	},
	types.ContentTwitterPost: {
		noun: "a single X (Twitter) post",
		requirements: []string{
			"Under 280 characters",
			"Include relevant hashtags",
		},
		emojiLine: true,
	},
	types.ContentLinkedInPost: {
		noun: "a LinkedIn post",
		requirements: []string{
			"One to three short paragraphs separated by blank lines",
			"Include a call to action",
			"Relevant hashtags at the end",
		},
	},
	types.ContentBlogOutline: {
		noun: "a blog post outline",
		requirements: []string{
			"A working title and an introduction hook",
			"5 to 8 main sections with sub-points",
			"A conclusion with a call to action",
		},
	},
	types.ContentEmailCampaign: {
		noun: "a marketing email",
		requirements: []string{
			"Subject line, greeting and sign-off",
			"A clear value proposition in two or three points",
			"One strong call to action",
		},
	},
	types.ContentAdCopy: {
		noun: "advertising copy",
		requirements: []string{
			"A headline and a clear statement of benefits",
			"Under 100 words",
			"End with a call to action",
		},
	},
	types.ContentInstagramCaption: {
		noun: "an Instagram caption",
		requirements: []string{
			"A hook in the first line",
			"Two or three short paragraphs",
			"10 to 15 relevant hashtags",
		},
		emojiLine: true,
	},
	types.ContentYouTubeDescription: {
		noun: "a YouTube video description",
		requirements: []string{
			"Make the first two lines count; they show before \"more\"",
			"Timestamps where they fit",
			"A call to subscribe and relevant tags",
		},
	},
}

const (
	systemBase    = "You are an experienced content marketer and copywriter. Write clear, specific, persuasive copy for the requested format."
	systemNoEmoji = " Do not use any emoji anywhere in the response. Use letters, digits and standard punctuation only."
	systemEmoji   = " Emoji are welcome where they help the message."
)

// BuildPrompt renders req for a model. req must already be validated.
func BuildPrompt(req Request) Prompt {
	f, ok := formats[req.ContentType]
	if !ok {
		f = format{noun: string(req.ContentType)}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Write %s about %q for %s.\n", f.noun, req.Topic, req.Audience)
	fmt.Fprintf(&b, "Tone: %s\n", req.Tone)
	fmt.Fprintf(&b, "Keywords: %s\n", orDefault(req.Keywords, "none specified"))
	fmt.Fprintf(&b, "Additional context: %s\n", orDefault(req.AdditionalContext, "none"))
	b.WriteString("\nRequirements:\n")
	for _, r := range f.requirements {
		fmt.Fprintf(&b, "- %s\n", r)
	}
	if f.emojiLine {
		if req.EmojiPolicy.Allows() {
			b.WriteString("- Use emoji where they add to the message\n")
		} else {
			b.WriteString("- No emoji\n")
		}
	}

	system := systemBase + systemNoEmoji
	if req.EmojiPolicy.Allows() {
		system = systemBase + systemEmoji
	}
	return Prompt{System: system, User: b.String()}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
