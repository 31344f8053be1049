package captcha

import (
	"encoding/json"
	"strings"
)

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// geeTestCallbackScript builds the call that hands a solved GeeTest back to
// the page's own success handler.
func geeTestCallbackScript(callback string, resp *GeeTestResponse, data string) string {
	var b strings.Builder
	b.WriteString(callback)
	b.WriteString("({geetest_challenge: ")
	b.WriteString(jsString(resp.Challenge))
	b.WriteString(",geetest_seccode: ")
	b.WriteString(jsString(resp.SecCode))
	b.WriteString(",geetest_validate: ")
	b.WriteString(jsString(resp.Validate))
	b.WriteString(",data: ")
	b.WriteString(jsString(data))
	b.WriteString("});")
	return b.String()
}

// recaptchaResponseScript fills the hidden response field the widget submits.
func recaptchaResponseScript(fieldID, token string) string {
	return "document.getElementById(" + jsString(fieldID) + ").innerHTML = " + jsString(token) + ";"
}

// recaptchaCallbackScript notifies the page that the token is in place.
func recaptchaCallbackScript(callback, token string) string {
	return callback + "(" + jsString(token) + ");"
}
