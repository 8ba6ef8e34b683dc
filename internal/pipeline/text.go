package pipeline

import (
	"regexp"
	"strings"
)

var (
	// Pictographic emoji blocks plus the common symbol range.
	emojiRunRE = regexp.MustCompile(`[\x{1F300}-\x{1F64F}\x{1F680}-\x{1FAFF}\x{2600}-\x{27BF}\x{FE0F}]+`)
	// Kaomoji like (｡>﹏<) or (笑), ASCII or fullwidth parens, short body.
	kaomojiRE = regexp.MustCompile(`[(（][^()（）\n]{1,18}[)）]`)

	thinkBlockRE    = regexp.MustCompile(`(?s)<think>.*?</think>`)
	parentheticalRE = regexp.MustCompile(`[(（][^()（）\n]*[)）]`)
)

// ExtractEmoji pulls a trailing emoji or kaomoji out of a reply text for the
// outbound chat message. The last line wins when it is wholly an emoji or
// kaomoji; otherwise a trailing emoji run on the final line is taken.
func ExtractEmoji(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) == 0 {
		return ""
	}
	last := strings.TrimSpace(lines[len(lines)-1])
	if last == "" {
		return ""
	}

	// A last line that is nothing but an emoji run or a kaomoji is sent as-is.
	if m := emojiRunRE.FindString(last); m == last {
		return m
	}
	if m := kaomojiRE.FindString(last); m == last {
		return m
	}

	// Otherwise take a trailing emoji run, e.g. "今天也要加油哦！🎉✨".
	runs := emojiRunRE.FindAllStringIndex(last, -1)
	if len(runs) > 0 {
		start, end := runs[len(runs)-1][0], runs[len(runs)-1][1]
		if end == len(last) {
			return last[start:end]
		}
	}
	// Or a trailing kaomoji, e.g. "晚安啦(｡･ω･｡)".
	kms := kaomojiRE.FindAllStringIndex(last, -1)
	if len(kms) > 0 {
		start, end := kms[len(kms)-1][0], kms[len(kms)-1][1]
		if end == len(last) {
			return last[start:end]
		}
	}
	return ""
}

// cleanForSpeech strips text the TTS voice should not read out loud: chain of
// thought blocks, stage-direction parentheticals and emoji.
func cleanForSpeech(text string) string {
	text = thinkBlockRE.ReplaceAllString(text, "")
	text = parentheticalRE.ReplaceAllString(text, "")
	text = emojiRunRE.ReplaceAllString(text, "")
	return strings.TrimSpace(strings.Join(strings.Fields(text), " "))
}
