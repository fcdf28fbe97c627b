// Package locale loads the embedded translations used for overlay texts and
// API messages.
package locale

import (
	"embed"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"ppe-sentinel/internal/core/processor"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	log "github.com/sirupsen/logrus"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

// Translator holds one localizer per embedded language
type Translator struct {
	bundle          *i18n.Bundle
	localizers      map[string]*i18n.Localizer
	defaultLanguage string
}

// NewTranslator loads every embedded locale file
func NewTranslator(defaultLanguage string) (*Translator, error) {
	if defaultLanguage == "" {
		defaultLanguage = "en"
	}

	tag, err := language.Parse(defaultLanguage)
	if err != nil {
		return nil, fmt.Errorf("invalid default language %q: %w", defaultLanguage, err)
	}

	bundle := i18n.NewBundle(tag)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	t := &Translator{
		bundle:          bundle,
		localizers:      make(map[string]*i18n.Localizer),
		defaultLanguage: defaultLanguage,
	}

	files, err := localeFS.ReadDir("locales")
	if err != nil {
		return nil, err
	}

	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}
		if _, err := bundle.LoadMessageFileFS(localeFS, path.Join("locales", file.Name())); err != nil {
			return nil, fmt.Errorf("failed to load locale %s: %w", file.Name(), err)
		}
		lang := strings.TrimSuffix(file.Name(), ".json")
		t.localizers[lang] = i18n.NewLocalizer(bundle, lang, defaultLanguage)
	}

	if _, ok := t.localizers[defaultLanguage]; !ok {
		return nil, fmt.Errorf("no translations for default language %q", defaultLanguage)
	}

	log.Debugf("Loaded %d locales, default %s", len(t.localizers), defaultLanguage)
	return t, nil
}

// DefaultLanguage returns the fallback language
func (t *Translator) DefaultLanguage() string {
	return t.defaultLanguage
}

// Supports reports whether lang has translations
func (t *Translator) Supports(lang string) bool {
	_, ok := t.localizers[lang]
	return ok
}

// T translates id into lang. Unknown languages use the default language and
// unknown ids are returned unchanged.
func (t *Translator) T(lang, id string, data map[string]interface{}) string {
	localizer, ok := t.localizers[lang]
	if !ok {
		localizer = t.localizers[t.defaultLanguage]
	}

	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    id,
		TemplateData: data,
	})
	if err != nil {
		return id
	}
	return msg
}

// Overlay returns the overlay texts of lang
func (t *Translator) Overlay(lang string) processor.OverlayTexts {
	return overlayTexts{t: t, lang: lang}
}

type overlayTexts struct {
	t    *Translator
	lang string
}

// Countdown shows the whole seconds left, rounded up so it never reads 0
func (o overlayTexts) Countdown(remaining time.Duration) string {
	seconds := int(remaining.Seconds()) + 1
	return o.t.T(o.lang, "overlay.countdown", map[string]interface{}{"Seconds": seconds})
}

func (o overlayTexts) Recorded() string {
	return o.t.T(o.lang, "overlay.recorded", nil)
}

func (o overlayTexts) AlreadyRecorded() string {
	return o.t.T(o.lang, "overlay.already_recorded", nil)
}
