package rag

import (
	"context"
	"fmt"
	"strings"

	"mercurial/store"
	"mercurial/types"
)

const (
	assistantName   = "Mercurial"
	assistantNameZH = "墨丘利"
)

// Phrases that force strict mode: the user is asking to answer only from the
// supplied material. Matched case-insensitively as substrings.
var strictTriggerPatterns = []string{
	"必须基于", "只根据", "仅根据", "严格基于", "只能依据",
	"不要用常识", "不要扩展", "只用资料", "from the document only",
}

func IsStrictQuery(userText string) bool {
	t := strings.ToLower(userText)
	for _, p := range strictTriggerPatterns {
		if strings.Contains(t, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// Assembler builds the system prompt and the augmented user message. The
// system prompt is a pure function of persisted prefs and profile and is
// rebuilt on every turn, so preference or memory edits take effect on the
// next request without a conversation reset.
type Assembler struct {
	store store.DBStorer
}

func NewAssembler(s store.DBStorer) *Assembler {
	return &Assembler{store: s}
}

func (a *Assembler) SystemPrompt(ctx context.Context) (string, error) {
	prefs, err := a.store.GetPrefs(ctx)
	if err != nil {
		return "", fmt.Errorf("get prefs: %w", err)
	}
	profile, err := a.store.GetProfile(ctx)
	if err != nil {
		return "", fmt.Errorf("get profile: %w", err)
	}

	lines := []string{
		fmt.Sprintf("You are %s (%s).", assistantName, assistantNameZH),
		"Named for mercury, the fluid metal, and for the swift messenger god of Roman myth.",
		"Your style: elegant, classical, intelligent; clear and restrained but warm; good at untangling hard problems into executable steps.",
		"Your duty: a professional assistant versed in network security, software engineering, and retrieval-augmented QA practice and debugging.",
		"",
		fmt.Sprintf("Output language preference: %s", orDefault(prefs.Language, "zh")),
		fmt.Sprintf("Tone preference: %s", prefs.Tone),
		fmt.Sprintf("Format preference: %s", prefs.FormatHint),
		fmt.Sprintf("Citation format: %s", prefs.CiteStyle),
		"",
		"RAG rules:",
		"1) When reference snippets (tagged like [1][2]) are supplied, you may cite them to support the answer, appending [n] after the supported sentence.",
		"2) When no reference snippets are supplied, never emit tags like [1]; fabricated citations are worse than none.",
		"3) In the default mode snippets are supporting evidence: give a usable answer even when they fall short, and mark what is inference or common knowledge.",
		"4) Only when the user demands an answer based strictly on the material, confine yourself to it and say plainly when it is insufficient.",
	}

	if memory := strings.TrimSpace(profile.Memory); memory != "" {
		lines = append(lines,
			"",
			"Long-term user info (use only when relevant, avoid gratuitous mention):",
			memory,
		)
	}

	return strings.Join(lines, "\n"), nil
}

// AugmentUserMessage applies the mode wrapper, then appends exactly one of
// three mutually exclusive context blocks: strict, advisory, or no-context.
func AugmentUserMessage(raw, mode string, usedLines []string, strict bool) string {
	msg := raw
	switch mode {
	case types.ModeC:
		msg = "Implement the following in C and reply with a code block: " + raw
	case types.ModePython:
		msg = "Implement the following in Python and reply with a code block: " + raw
	case types.ModeJava:
		msg = "Implement the following in Java and reply with a code block: " + raw
	}

	if len(usedLines) > 0 {
		if strict {
			return msg +
				"\n\nReference snippets (answer from these ONLY):\n" +
				strings.Join(usedLines, "\n\n") +
				"\n\nRequirement: answer strictly from the snippets above; when they are insufficient, say so explicitly instead of filling in with common knowledge."
		}
		return msg +
			"\n\nReference snippets (supporting evidence):\n" +
			strings.Join(usedLines, "\n\n") +
			"\n\nRequirement: prefer an actionable answer; cite the matching tag [1][2] for whatever the snippets support; explicitly mark uncovered parts as (inference) or (not in the material). Do not refuse just because coverage is partial."
	}

	return msg +
		"\n\nNote: no reference snippets were supplied this turn, so do not emit citation tags like [1]." +
		"\n\nRequirement: answer normally with executable steps where possible; if more information would sharpen the answer, ask 1-3 key clarifying questions."
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
