package captcha

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rorqualx/flathunter-go/internal/types"
)

func TestExtractGeeTestParams(t *testing.T) {
	params, err := ExtractGeeTestParams(geetestPage)
	require.NoError(t, err)
	assert.Equal(t, &GeeTestParams{GT: "g1", Challenge: "c1", Data: "abc123"}, params)
}

func TestExtractGeeTestParams_Compact(t *testing.T) {
	html := `initGeetest({gt:"g9",challenge:"c9"},cb);` +
		`x({geetest_validate: obj.geetest_validate,` + "\n" + `data: "d9"})`

	params, err := ExtractGeeTestParams(html)
	require.NoError(t, err)
	assert.Equal(t, "g9", params.GT)
	assert.Equal(t, "c9", params.Challenge)
	assert.Equal(t, "d9", params.Data)
}

func TestExtractGeeTestParams_Missing(t *testing.T) {
	tests := []struct {
		name string
		html string
		code string
	}{
		{"empty page", "<html></html>", "DATA_NOT_FOUND"},
		{"no init", `geetest_validate: obj.geetest_validate, data: "x"`, "INIT_NOT_FOUND"},
		{"no challenge", `geetest_validate: obj.geetest_validate, data: "x" initGeetest({gt: "g"})`, "INIT_INCOMPLETE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ExtractGeeTestParams(tt.html)
			require.ErrorIs(t, err, types.ErrCaptchaParamsNotFound)

			var cerr *types.CaptchaError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.code, cerr.Code)
		})
	}
}

func TestScripts_Quoting(t *testing.T) {
	script := geeTestCallbackScript("solvedCaptcha",
		&GeeTestResponse{Challenge: `c"1`, Validate: "v", SecCode: "s|jordan"}, `a\b`)
	assert.Equal(t,
		`solvedCaptcha({geetest_challenge: "c\"1",geetest_seccode: "s|jordan",geetest_validate: "v",data: "a\\b"});`,
		script)

	assert.Equal(t, `cb("t\"k");`, recaptchaCallbackScript("cb", `t"k`))
}
