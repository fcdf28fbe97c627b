package middleware

import (
	"ppe-sentinel/internal/locale"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"golang.org/x/text/language"
)

const (
	languageKey   = "language"
	translatorKey = "translator"
)

// I18n selects the response language from the lang query parameter, the
// session or the Accept-Language header, in that order. A supported lang
// parameter is remembered in the session.
func I18n(translator *locale.Translator) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		lang := c.Query("lang")

		if lang != "" && translator.Supports(lang) {
			session.Set(languageKey, lang)
			if err := session.Save(); err != nil {
				log.Debugf("Failed to save language in session: %v", err)
			}
		} else if sessionLang, ok := session.Get(languageKey).(string); ok && translator.Supports(sessionLang) {
			lang = sessionLang
		} else {
			lang = acceptLanguage(c.GetHeader("Accept-Language"), translator)
		}

		c.Set(languageKey, lang)
		c.Set(translatorKey, translator)
		c.Next()
	}
}

func acceptLanguage(header string, translator *locale.Translator) string {
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil {
		return translator.DefaultLanguage()
	}
	for _, tag := range tags {
		base, _ := tag.Base()
		if translator.Supports(base.String()) {
			return base.String()
		}
	}
	return translator.DefaultLanguage()
}

// Language returns the language selected for the request
func Language(c *gin.Context) string {
	return c.GetString(languageKey)
}

// T translates id for the request's language
func T(c *gin.Context, id string, data map[string]interface{}) string {
	v, ok := c.Get(translatorKey)
	if !ok {
		return id
	}
	return v.(*locale.Translator).T(Language(c), id, data)
}
