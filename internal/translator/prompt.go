package translator

import (
	_ "embed"
	"os"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// The desktop context prompt is harvested from a client installation and
// dropped under prompts/. The embedded copy keeps the gateway functional on a
// fresh checkout before any harvest has run.
//
//go:embed codex_desktop.md
var embeddedDesktopPrompt string

var (
	promptOnce   sync.Once
	promptCached string
)

// DesktopPrompt returns the context prompt prepended to every instructions
// payload. The on-disk copy at path wins; it is read once per process.
func DesktopPrompt(path string) string {
	promptOnce.Do(func() {
		promptCached = strings.TrimSpace(embeddedDesktopPrompt)
		if path == "" {
			return
		}
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				log.Warnf("cannot read desktop prompt at %s: %v", path, err)
			}
			return
		}
		if text := strings.TrimSpace(string(data)); text != "" {
			promptCached = text
		}
	})
	return promptCached
}

// Instructions joins the desktop prompt with the request's system text.
func Instructions(promptPath, systemText string) string {
	prompt := DesktopPrompt(promptPath)
	systemText = strings.TrimSpace(systemText)
	if systemText == "" {
		return prompt
	}
	return prompt + "\n\n" + systemText
}
