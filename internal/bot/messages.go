package bot

import (
	"fmt"

	"github.com/stupiduntilnot/zyro/internal/model"
)

// User-visible texts.
const (
	textPromptForInput = "Hi! 😄 Say something for me to answer!"
	textThinking       = "✏️ Thinking..."
	textTimeout        = "⏰ The model took too long to answer!"
	textNoPermission   = "🚫 You need the Manage Channels permission to do that."
)

const maxErrorBodyChars = 300

func usageText(prefix, command string) string {
	return fmt.Sprintf("Usage: %s%s <question>", prefix, command)
}

func lockedText(label string) string {
	return fmt.Sprintf("🔒 Channel %s locked: read-only for members.", label)
}

func unlockedText(label string) string {
	return fmt.Sprintf("🔓 Channel %s unlocked: members can send messages.", label)
}

func unknownChannelText(arg string) string {
	return fmt.Sprintf("⚠️ Unknown channel: %s", model.Truncate(arg, model.MaxDetailChars))
}

// failureText renders a completion failure for the channel.
func failureText(err error) string {
	f := model.AsFailure(err)
	switch f.Kind {
	case model.KindAPIError:
		return fmt.Sprintf("⚠️ Error %d: %s", f.Status, model.Truncate(f.Body, maxErrorBodyChars))
	case model.KindTimeout:
		return textTimeout
	default:
		return errorText(f.Detail)
	}
}

func errorText(detail string) string {
	return "⚠️ Error: " + model.Truncate(detail, model.MaxDetailChars)
}
