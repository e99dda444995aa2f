package geetest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	strconv2 "github.com/savsgio/gotils/strconv"
)

const DefaultURL = "https://gcaptcha4.geetest.com/validate"

// Request 前端极验组件回传的参数
type Request struct {
	LotNumber     string `json:"lot_number"`
	CaptchaOutput string `json:"captcha_output"`
	PassToken     string `json:"pass_token"`
	GenTime       string `json:"gen_time"`
}

// Client 极验四代服务端校验，captchaId 为空时视为未启用
type Client struct {
	URL       string
	CaptchaId string
	Key       string
	HTTP      *http.Client
}

func New(captchaId, key string) *Client {
	return &Client{
		URL:       DefaultURL,
		CaptchaId: captchaId,
		Key:       key,
		HTTP:      &http.Client{Timeout: time.Second * 5},
	}
}

func (c *Client) Enabled() bool {
	return c != nil && c.CaptchaId != ""
}

// Validate 验证请求 token 是否有效，调用极验官方接口。极验服务不可用时放行
func (c *Client) Validate(ctx context.Context, req Request, userIP string) bool {
	if !c.Enabled() {
		return true
	}
	if req.LotNumber == "" || req.PassToken == "" {
		return false
	}
	data := url.Values{}
	data.Set("lot_number", req.LotNumber)
	data.Set("captcha_output", req.CaptchaOutput)
	data.Set("pass_token", req.PassToken)
	data.Set("gen_time", req.GenTime)
	data.Set("captcha_id", c.CaptchaId)
	data.Set("sign_token", hmacEncode(c.Key, req.LotNumber))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, strings.NewReader(data.Encode()))
	if err != nil {
		log.Warn().Err(err).Msg("geetest request build failed")
		return true
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		log.Warn().Err(err).Msg("geetest unreachable, letting request through")
		return true
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Warn().Int("status", resp.StatusCode).Msg("geetest unavailable, letting request through")
		return true
	}

	var res response
	ret, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(ret, &res); err != nil {
		log.Warn().Err(err).Msg("geetest response unreadable")
		return true
	}
	if res.Status == "success" && res.Result == "success" {
		return true
	}
	log.Warn().Str("ip", userIP).Any("res", res).Msg("captcha rejected")
	return false
}

func hmacEncode(key string, data string) string {
	mac := hmac.New(sha256.New, strconv2.S2B(key))
	mac.Write(strconv2.S2B(data))
	return hex.EncodeToString(mac.Sum(nil))
}

type response struct {
	Status      string `json:"status"`
	Code        string `json:"code"`
	Msg         string `json:"msg"`
	Result      string `json:"result"`
	Reason      string `json:"reason"`
	CaptchaArgs struct {
		UsedType  string `json:"used_type"`
		UserIp    string `json:"user_ip"`
		LotNumber string `json:"lot_number"`
		Scene     string `json:"scene"`
		Referer   string `json:"referer"`
	} `json:"captcha_args"`
}
