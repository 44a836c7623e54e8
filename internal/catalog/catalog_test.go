package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowedForUnknownStage(t *testing.T) {
	assert.Empty(t, AllowedFor(Stage("NO_SUCH_STAGE")))
}

func TestEveryStageIsKnown(t *testing.T) {
	for _, s := range Stages() {
		assert.True(t, Known(s), "stage %s", s)
	}
	assert.False(t, Known(Stage("NO_SUCH_STAGE")))
}

func TestFilterDropsForeignTokens(t *testing.T) {
	in := []Entry{
		{Token: "RESOLVED", Label: "spoofed label"},
		{Token: "BTN_HALLUCINATED"},
		{Token: "NOT_RESOLVED"},
		{Token: "BTN_ACCEPT"}, // valid elsewhere, not in this stage
	}
	out := Filter(StageDiagnosticStep, in)
	require.Len(t, out, 2)
	assert.Equal(t, "RESOLVED", out[0].Token)
	assert.Equal(t, "NOT_RESOLVED", out[1].Token)
	// Labels come from the catalog, not from the generator.
	assert.Equal(t, "Se solucionó", out[0].Label)
}

func TestFallbackIsSubsetOfAllowed(t *testing.T) {
	for _, s := range Stages() {
		for _, e := range Fallback(s) {
			assert.True(t, Contains(s, e.Token), "fallback %s not allowed for %s", e.Token, s)
		}
	}
}

func TestFallbackDiagnosticStep(t *testing.T) {
	fb := Fallback(StageDiagnosticStep)
	require.Len(t, fb, 2)
	assert.Equal(t, "RESOLVED", fb[0].Token)
	assert.Equal(t, "NOT_RESOLVED", fb[1].Token)
}

func TestMatchAliases(t *testing.T) {
	cases := []struct {
		stage Stage
		text  string
		want  string
	}{
		{StageAskConsent, "acepto", "BTN_ACCEPT"},
		{StageAskConsent, "  Sí ", "BTN_ACCEPT"},
		{StageAskConsent, "no", "BTN_DECLINE"},
		{StageAskLanguage, "english", "BTN_LANG_EN"},
		{StageAskLanguage, "argentina", "BTN_LANG_ES_AR"},
		{StageAskDevice, "mikrotik", "BTN_DEVICE_NETWORK"},
		{StageAskDevice, "compu", "BTN_DEVICE_NOTEBOOK"},
		{StageDiagnosticStep, "sigue igual", "NOT_RESOLVED"},
	}
	for _, tc := range cases {
		got, ok := Match(tc.stage, tc.text)
		require.True(t, ok, "%s %q", tc.stage, tc.text)
		assert.Equal(t, tc.want, got, "%s %q", tc.stage, tc.text)
	}
}

func TestMatchMisses(t *testing.T) {
	if _, ok := Match(StageAskConsent, ""); ok {
		t.Fatal("empty text must not match")
	}
	if _, ok := Match(StageAskConsent, "mi compu no enciende"); ok {
		t.Fatal("free prose must not match a consent token")
	}
}
