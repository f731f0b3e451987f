package pipeline

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"shelfmark/internal/models"
	"shelfmark/internal/schema"
)

// DefaultSystemPrompt is the built-in instruction set. An external prompt
// file, when configured, replaces it and is hot-reloaded on change.
const DefaultSystemPrompt = `You are a document archival assistant. Analyze the document provided by the user and extract metadata for filing it.

WHAT TO EXTRACT:
1. **Title**: short and descriptive, no filename artifacts, no trailing dates
2. **Tags**: topics and themes of the document, most specific first
3. **Correspondent**: the institution or person the document came from, not the archive owner
4. **Document type**: the kind of document, e.g. Invoice, Contract, Letter
5. **Created date**: the date printed on the document, YYYY-MM-DD
6. **Language**: ISO 639-1 code of the document's language

RULES:
- Answer with a single JSON object matching the provided schema, nothing else
- Use an empty string when a value cannot be determined from the document
- Prefer names listed in the request over inventing new ones
- Never state facts that are not visible in the document
- Keep titles under 128 characters`

// PromptSource supplies the current system prompt. With a configured prompt
// file it loads that file and watches it for changes; without one it serves
// the built-in default.
type PromptSource struct {
	path    string
	watcher *fsnotify.Watcher

	mu      sync.RWMutex
	current string
}

func NewPromptSource(path string) *PromptSource {
	ps := &PromptSource{path: path, current: DefaultSystemPrompt}
	if path == "" {
		return ps
	}
	ps.reload()
	ps.startWatcher()
	return ps
}

// Current returns the active system prompt.
func (ps *PromptSource) Current() string {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.current
}

// Close stops the file watcher.
func (ps *PromptSource) Close() {
	if ps.watcher != nil {
		ps.watcher.Close()
	}
}

func (ps *PromptSource) reload() {
	data, err := os.ReadFile(ps.path)
	if err != nil {
		log.Printf("⚠️ [PROMPT] Could not read %s, keeping previous prompt: %v", ps.path, err)
		return
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		log.Printf("⚠️ [PROMPT] %s is empty, keeping previous prompt", ps.path)
		return
	}

	ps.mu.Lock()
	ps.current = text
	ps.mu.Unlock()
	log.Printf("✅ [PROMPT] Loaded system prompt from %s (%d bytes)", ps.path, len(text))
}

func (ps *PromptSource) startWatcher() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("⚠️ [PROMPT] Failed to create file watcher: %v", err)
		return
	}

	absPath, err := filepath.Abs(ps.path)
	if err != nil {
		log.Printf("⚠️ [PROMPT] Failed to get absolute path for %s: %v", ps.path, err)
		watcher.Close()
		return
	}

	// Watch the directory containing the file (more reliable than watching
	// the file directly)
	dir := filepath.Dir(absPath)
	filename := filepath.Base(absPath)

	if err := watcher.Add(dir); err != nil {
		log.Printf("⚠️ [PROMPT] Failed to watch directory %s: %v", dir, err)
		watcher.Close()
		return
	}
	ps.watcher = watcher

	log.Printf("👁️ [PROMPT] Watching %s for changes (hot-reload enabled)", ps.path)

	go func() {
		// Debounce timer to avoid multiple reloads for rapid file changes
		var debounceTimer *time.Timer
		debounceDuration := 500 * time.Millisecond

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != filename {
					continue
				}
				if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
					if debounceTimer != nil {
						debounceTimer.Stop()
					}
					debounceTimer = time.AfterFunc(debounceDuration, ps.reload)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("⚠️ [PROMPT] File watcher error: %v", err)
			}
		}
	}()
}

// promptFragments assembles the auxiliary prompt pieces that ride along with
// every request: restricted catalog listings, custom field documentation and
// the answer-language hint. Each fragment becomes its own message part and is
// budgeted with per-message overhead.
func promptFragments(caps models.Capabilities, policy models.RestrictionPolicy, cat schema.Catalogs, answerLanguage string) []string {
	var fragments []string

	if caps.Tags && policy.Tags && len(cat.Tags) > 0 {
		fragments = append(fragments, "Available tags (use only these):\n"+strings.Join(cat.Tags, ", "))
	}
	if caps.Correspondent && policy.Correspondents && len(cat.Correspondents) > 0 {
		fragments = append(fragments, "Available correspondents (use only these, or an empty string):\n"+strings.Join(cat.Correspondents, ", "))
	}
	if caps.DocumentType && policy.DocumentTypes && len(cat.DocumentTypes) > 0 {
		fragments = append(fragments, "Available document types (use only these, or an empty string):\n"+strings.Join(cat.DocumentTypes, ", "))
	}
	if caps.CustomFields && len(cat.CustomFields) > 0 {
		var b strings.Builder
		b.WriteString("Custom fields to fill, answer null where the document gives no value:")
		for _, def := range cat.CustomFields {
			fmt.Fprintf(&b, "\n- %s (%s)", def.Name, def.DataType)
			if opts := def.Options(); len(opts) > 0 {
				b.WriteString(": one of " + strings.Join(opts, ", "))
			}
		}
		fragments = append(fragments, b.String())
	}
	if answerLanguage != "" {
		fragments = append(fragments, "Write the title and tag values in "+answerLanguage+".")
	}

	return fragments
}
