package locale

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslatorLoadsEmbeddedLocales(t *testing.T) {
	tr, err := NewTranslator("en")
	require.NoError(t, err)

	assert.True(t, tr.Supports("en"))
	assert.True(t, tr.Supports("tr"))
	assert.False(t, tr.Supports("de"))
	assert.Equal(t, "en", tr.DefaultLanguage())
}

func TestTranslatorFallsBack(t *testing.T) {
	tr, err := NewTranslator("en")
	require.NoError(t, err)

	assert.Equal(t, "RECORDED!", tr.T("de", "overlay.recorded", nil))
	assert.Equal(t, "missing.key", tr.T("en", "missing.key", nil))
	assert.Equal(t, "Evidence record 7 deleted", tr.T("en", "api.evidence_deleted", map[string]interface{}{"ID": 7}))
}

func TestTranslatorRejectsUnknownDefault(t *testing.T) {
	_, err := NewTranslator("de")
	assert.Error(t, err)
}

func TestOverlayTexts(t *testing.T) {
	tr, err := NewTranslator("en")
	require.NoError(t, err)

	en := tr.Overlay("en")
	assert.Equal(t, "VIOLATION DETECTED: 5", en.Countdown(4500*time.Millisecond))
	assert.Equal(t, "VIOLATION DETECTED: 1", en.Countdown(200*time.Millisecond))
	assert.Equal(t, "ALREADY RECORDED!", en.AlreadyRecorded())

	turkish := tr.Overlay("tr")
	assert.Equal(t, "IHLAL TESPIT EDILIYOR: 5", turkish.Countdown(4*time.Second+time.Millisecond))
	assert.Equal(t, "KAYDEDILDI!", turkish.Recorded())
	assert.Equal(t, "KAYITLI!", turkish.AlreadyRecorded())
}
