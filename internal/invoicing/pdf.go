package invoicing

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/platform/observability"
)

// PDFConverter prints an HTML document to PDF.
type PDFConverter interface {
	Convert(ctx context.Context, html []byte) ([]byte, error)
}

// ChromeConfig configures the headless Chrome converter.
type ChromeConfig struct {
	ExecPath string
	Timeout  time.Duration
	Logger   *zap.Logger
}

// ChromePDFConverter renders HTML through a headless Chrome instance started per conversion.
type ChromePDFConverter struct {
	execPath string
	timeout  time.Duration
	logger   *zap.Logger
}

var chromeCandidates = []string{
	"/usr/bin/chromium",
	"/usr/bin/chromium-browser",
	"/usr/bin/google-chrome",
	"/usr/bin/google-chrome-stable",
}

// NewChromePDFConverter constructs the converter. An empty ExecPath searches common install locations and
// falls back to chromedp's own lookup.
func NewChromePDFConverter(cfg ChromeConfig) *ChromePDFConverter {
	path := strings.TrimSpace(cfg.ExecPath)
	if path == "" {
		path = detectChromePath()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChromePDFConverter{execPath: path, timeout: timeout, logger: logger.Named("pdf")}
}

// Convert loads html into a blank page and prints it on A4 with background graphics.
func (c *ChromePDFConverter) Convert(ctx context.Context, html []byte) ([]byte, error) {
	if len(html) == 0 {
		return nil, errors.New("invoicing: html document is empty")
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.NoSandbox)
	if c.execPath != "" {
		opts = append(opts, chromedp.ExecPath(c.execPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()

	printf := observability.NewPrintfAdapter(c.logger)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(printf.Printf))
	defer browserCancel()

	var pdf []byte
	err := chromedp.Run(browserCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(tree.Frame.ID, string(html)).Do(ctx)
		}),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			// A4: 210mm x 297mm.
			pdf, _, err = page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(8.27).
				WithPaperHeight(11.69).
				WithMarginTop(0.4).
				WithMarginBottom(0.4).
				WithMarginLeft(0.4).
				WithMarginRight(0.4).
				Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("invoicing: print pdf: %w", err)
	}
	return pdf, nil
}

func detectChromePath() string {
	if env := strings.TrimSpace(os.Getenv("CHROME_PATH")); env != "" {
		return env
	}
	for _, candidate := range chromeCandidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}
