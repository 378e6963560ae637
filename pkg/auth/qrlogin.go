package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mdp/qrterminal/v3"
	qrcode "github.com/skip2/go-qrcode"

	errs "bilicrawl/pkg/errors"
	"bilicrawl/pkg/logger"
)

const (
	// PassportBaseURL is the login service host
	PassportBaseURL = "https://passport.bilibili.com"

	qrGenerateEndpoint = "/x/passport-login/web/qrcode/generate"
	qrPollEndpoint     = "/x/passport-login/web/qrcode/poll"

	// qrSource tags requests the way the web frontend does
	qrSource = "main-fe-header"

	// poll codes reported by the login service
	qrCodeConfirmed = 0
	qrCodeExpired   = 86038
	qrCodeScanned   = 86090
	qrCodeWaiting   = 86101
)

// QRLogin drives the web QR login flow: generate a QR code, render it
// to the terminal (and optionally a PNG), poll until the user confirms
// on their phone, then extract the session cookie.
type QRLogin struct {
	httpClient *http.Client
	baseURL    string
	out        io.Writer
	pngPath    string
	interval   time.Duration
	logger     logger.Logger
}

// NewQRLogin creates a login flow writing the terminal QR to out.
// pngPath, when non-empty, additionally saves the code as a PNG for
// terminals that cannot render block characters.
func NewQRLogin(out io.Writer, pngPath string, log logger.Logger) *QRLogin {
	if log == nil {
		log = logger.GetLogger()
	}
	if out == nil {
		out = os.Stderr
	}
	return &QRLogin{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    PassportBaseURL,
		out:        out,
		pngPath:    pngPath,
		interval:   time.Second,
		logger:     log,
	}
}

// SetBaseURL points the flow at a different login host.
func (q *QRLogin) SetBaseURL(base string) {
	q.baseURL = base
}

type qrGenerateData struct {
	URL       string `json:"url"`
	QrcodeKey string `json:"qrcode_key"`
}

type qrPollData struct {
	URL     string `json:"url"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Login runs the full flow and returns the minted account. It blocks
// until the user confirms, the QR code expires, or ctx is cancelled.
func (q *QRLogin) Login(ctx context.Context) (*Account, error) {
	gen, err := q.generate(ctx)
	if err != nil {
		return nil, err
	}

	q.render(gen.URL)

	scanned := false
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		poll, err := q.poll(ctx, gen.QrcodeKey)
		if err != nil {
			return nil, err
		}

		switch poll.Code {
		case qrCodeWaiting:
			continue
		case qrCodeScanned:
			if !scanned {
				q.logger.Info("QR code scanned, confirm on your device")
				scanned = true
			}
			continue
		case qrCodeExpired:
			return nil, errs.New(errs.ErrorTypeAuth, qrCodeExpired, "QR code expired, run login again")
		case qrCodeConfirmed:
			return accountFromLoginURL(poll.URL)
		default:
			return nil, errs.New(errs.ErrorTypeAuth, poll.Code, "unexpected login status: %s", poll.Message)
		}
	}
}

func (q *QRLogin) generate(ctx context.Context) (*qrGenerateData, error) {
	u := fmt.Sprintf("%s%s?source=%s", q.baseURL, qrGenerateEndpoint, qrSource)

	var data qrGenerateData
	if err := q.getJSON(ctx, u, &data); err != nil {
		return nil, err
	}
	if data.URL == "" || data.QrcodeKey == "" {
		return nil, errs.New(errs.ErrorTypeParsing, 0, "login service returned no QR code")
	}
	return &data, nil
}

func (q *QRLogin) poll(ctx context.Context, qrcodeKey string) (*qrPollData, error) {
	u := fmt.Sprintf("%s%s?qrcode_key=%s&source=%s", q.baseURL, qrPollEndpoint, url.QueryEscape(qrcodeKey), qrSource)

	var data qrPollData
	if err := q.getJSON(ctx, u, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// render draws the QR code to the terminal and, when configured, to a
// PNG file.
func (q *QRLogin) render(loginURL string) {
	qrterminal.GenerateWithConfig(loginURL, qrterminal.Config{
		Level:     qrterminal.M,
		Writer:    q.out,
		BlackChar: qrterminal.BLACK,
		WhiteChar: qrterminal.WHITE,
		QuietZone: 2,
	})
	fmt.Fprintln(q.out, "Scan the QR code with the mobile app to log in.")

	if q.pngPath != "" {
		if err := qrcode.WriteFile(loginURL, qrcode.Medium, 256, q.pngPath); err != nil {
			q.logger.WarnWithFields("failed to save QR code PNG", map[string]interface{}{
				"path":  q.pngPath,
				"error": err.Error(),
			})
		} else {
			fmt.Fprintf(q.out, "QR code also saved to %s\n", q.pngPath)
		}
	}
}

func (q *QRLogin) getJSON(ctx context.Context, u string, target interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return errs.New(errs.ErrorTypeUnknown, 0, "failed to create request: %v", err)
	}

	resp, err := q.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errs.New(errs.ErrorTypeNetwork, 0, "network error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errs.New(errs.ErrorTypeServerError, resp.StatusCode, "login service returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.New(errs.ErrorTypeNetwork, resp.StatusCode, "failed to read response: %v", err)
	}

	var env struct {
		Code    int64           `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return errs.New(errs.ErrorTypeParsing, resp.StatusCode, "failed to parse JSON: %v", err)
	}
	if env.Code != 0 {
		return errs.New(errs.ErrorTypeAuth, int(env.Code), "login service error: %s", env.Message)
	}

	if err := json.Unmarshal(env.Data, target); err != nil {
		return errs.New(errs.ErrorTypeParsing, resp.StatusCode, "unexpected data shape: %v", err)
	}
	return nil
}

// accountFromLoginURL builds an Account from the confirmed poll URL,
// whose query string carries the session cookie fields (SESSDATA,
// bili_jct, DedeUserID and friends).
func accountFromLoginURL(rawURL string) (*Account, error) {
	idx := strings.Index(rawURL, "?")
	if idx < 0 {
		return nil, errs.New(errs.ErrorTypeParsing, 0, "login URL carries no cookie fields")
	}
	query := rawURL[idx+1:]

	values, err := url.ParseQuery(query)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeParsing, 0, "failed to parse login URL: %v", err)
	}
	if values.Get("SESSDATA") == "" {
		return nil, errs.New(errs.ErrorTypeParsing, 0, "login URL carries no SESSDATA")
	}
	csrf := values.Get("bili_jct")
	if csrf == "" {
		return nil, errs.New(errs.ErrorTypeParsing, 0, "login URL carries no bili_jct")
	}

	// The cookie string is the query string itself with parameter
	// separators swapped for cookie separators.
	cookie := strings.ReplaceAll(query, "&", "; ")

	return &Account{
		Name:      "default",
		Cookie:    cookie,
		CSRFToken: csrf,
	}, nil
}
