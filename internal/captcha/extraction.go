package captcha

import (
	"regexp"

	"github.com/Rorqualx/flathunter-go/internal/types"
)

var (
	// The data payload lives in the page's own success handler, after the
	// validate value is passed through.
	geetestDataPattern = regexp.MustCompile(`(?s)geetest_validate:\s*obj\.geetest_validate,.*?data:\s*"([^"]*)"`)
	geetestInitPattern = regexp.MustCompile(`(?s)initGeetest\(\{(.*?)\}`)
	geetestGTPattern   = regexp.MustCompile(`gt:\s*"([^"]*)"`)
	geetestChallenge   = regexp.MustCompile(`challenge:\s*"([^"]*)"`)
)

// ExtractGeeTestParams scrapes the GeeTest identifiers and callback payload
// from page source. It returns types.ErrCaptchaParamsNotFound if any of
// them is missing.
func ExtractGeeTestParams(html string) (*GeeTestParams, error) {
	data := geetestDataPattern.FindStringSubmatch(html)
	if data == nil {
		return nil, &types.CaptchaError{
			Code:    "DATA_NOT_FOUND",
			Message: "GeeTest callback data not found in page source",
			Err:     types.ErrCaptchaParamsNotFound,
		}
	}

	init := geetestInitPattern.FindStringSubmatch(html)
	if init == nil {
		return nil, &types.CaptchaError{
			Code:    "INIT_NOT_FOUND",
			Message: "initGeetest call not found in page source",
			Err:     types.ErrCaptchaParamsNotFound,
		}
	}

	gt := geetestGTPattern.FindStringSubmatch(init[1])
	challenge := geetestChallenge.FindStringSubmatch(init[1])
	if gt == nil || challenge == nil {
		return nil, &types.CaptchaError{
			Code:    "INIT_INCOMPLETE",
			Message: "initGeetest call is missing gt or challenge",
			Err:     types.ErrCaptchaParamsNotFound,
		}
	}

	return &GeeTestParams{
		GT:        gt[1],
		Challenge: challenge[1],
		Data:      data[1],
	}, nil
}
