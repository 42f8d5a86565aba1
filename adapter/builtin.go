package adapter

import "time"

// Builtins returns descriptor presets for a few well-known chat UIs. Their
// selectors drift with every frontend release, which is exactly why each
// role carries an ordered candidate list; a YAML adapter file overrides
// these wholesale.
func Builtins() []Adapter {
	return []Adapter{
		{
			Name:    "chatgpt",
			URLHint: "https://chatgpt.com",
			Input: []string{
				"#prompt-textarea",
				"div[contenteditable='true']",
				"textarea[data-testid='prompt-textarea']",
			},
			Send: []string{
				"button[data-testid='send-button']",
				"button[aria-label='Send prompt']",
			},
			Stop: []string{
				"button[data-testid='stop-button']",
				"button[aria-label='Stop generating']",
			},
			ResponseContainer: []string{
				"div[data-message-author-role='assistant']",
			},
			ResponseContent: []string{
				"div.markdown",
				"div[class*='markdown']",
			},
			DefaultTimeout: 120 * time.Second,
		},
		{
			Name:    "claude",
			URLHint: "https://claude.ai",
			Input: []string{
				"div[contenteditable='true'].ProseMirror",
				"div[contenteditable='true']",
			},
			Send: []string{
				"button[aria-label='Send Message']",
				"button[aria-label='Send message']",
			},
			Stop: []string{
				"button[aria-label='Stop Response']",
				"button[aria-label='Stop response']",
			},
			ResponseContainer: []string{
				"div[data-testid='assistant-message']",
				"div.font-claude-message",
			},
			ResponseContent: []string{
				"div.prose",
				"div[class*='prose']",
			},
			DefaultTimeout: 120 * time.Second,
		},
		{
			Name:    "gemini",
			URLHint: "https://gemini.google.com",
			Input: []string{
				"rich-textarea div[contenteditable='true']",
				"div[contenteditable='true']",
			},
			Send: []string{
				"button[aria-label='Send message']",
				"button.send-button",
			},
			Stop: []string{
				"button[aria-label='Stop response']",
			},
			ResponseContainer: []string{
				"model-response",
				"div.response-container",
			},
			ResponseContent: []string{
				"message-content",
				"div.markdown",
			},
			DefaultTimeout: 120 * time.Second,
		},
	}
}
