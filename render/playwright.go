package render

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/playwright-community/playwright-go"
)

// PlaywrightConverter prints the SVG from headless Chromium. Colors are
// reproduced faithfully but text may be outlined, so it comes last.
type PlaywrightConverter struct {
	// Install downloads the browser on first use when it is missing.
	Install bool

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
}

func NewPlaywrightConverter(install bool) *PlaywrightConverter {
	return &PlaywrightConverter{Install: install}
}

func (c *PlaywrightConverter) Name() string {
	return "playwright"
}

// Available is optimistic, the driver is only started on first use.
func (c *PlaywrightConverter) Available() bool {
	return true
}

func (c *PlaywrightConverter) SupportedFormats() []string {
	return []string{"pdf", "png"}
}

func (c *PlaywrightConverter) start() error {
	if c.browser != nil {
		return nil
	}
	if c.Install {
		if err := playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}}); err != nil {
			return NewConverterError(c.Name(), "install browsers", err)
		}
	}
	pw, err := playwright.Run()
	if err != nil {
		return NewConverterError(c.Name(), "start playwright", err)
	}
	browser, err := pw.Chromium.Launch()
	if err != nil {
		_ = pw.Stop()
		return NewConverterError(c.Name(), "launch browser", err)
	}
	c.pw, c.browser = pw, browser
	return nil
}

func (c *PlaywrightConverter) Convert(ctx context.Context, svgPath, outputPath string, opts Options) error {
	opts = opts.withDefaults()
	format := strings.ToLower(opts.Format)
	if format != "pdf" && format != "png" {
		return NewConverterError(c.Name(), "convert", fmt.Errorf("unsupported format: %s", format))
	}
	if err := ctx.Err(); err != nil {
		return NewConverterError(c.Name(), "convert", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.start(); err != nil {
		return err
	}

	content, err := os.ReadFile(svgPath)
	if err != nil {
		return NewConverterError(c.Name(), "read SVG", err)
	}
	page, err := c.browser.NewPage()
	if err != nil {
		return NewConverterError(c.Name(), "create page", err)
	}
	defer page.Close()

	if err := page.SetContent(wrapHTML(content)); err != nil {
		return NewConverterError(c.Name(), "set content", err)
	}
	if opts.Width > 0 && opts.Height > 0 {
		if err := page.SetViewportSize(opts.Width, opts.Height); err != nil {
			return NewConverterError(c.Name(), "set viewport", err)
		}
	}

	if format == "png" {
		if _, err := page.Screenshot(playwright.PageScreenshotOptions{
			Path: &outputPath,
			Type: playwright.ScreenshotTypePng,
		}); err != nil {
			return NewConverterError(c.Name(), "screenshot PNG", err)
		}
		return nil
	}

	pdfOpts := playwright.PagePdfOptions{
		Path:            &outputPath,
		PrintBackground: playwright.Bool(true),
	}
	if opts.Width > 0 && opts.Height > 0 {
		pdfOpts.Width = playwright.String(fmt.Sprintf("%dpx", opts.Width))
		pdfOpts.Height = playwright.String(fmt.Sprintf("%dpx", opts.Height))
	}
	if _, err := page.PDF(pdfOpts); err != nil {
		return NewConverterError(c.Name(), "generate PDF", err)
	}
	return nil
}

func wrapHTML(svg []byte) string {
	return `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
  @page { margin: 0; }
  body { margin: 0; padding: 0; }
  svg { display: block; }
</style>
</head>
<body>
` + string(svg) + `
</body>
</html>`
}

// Close stops the browser and the driver.
func (c *PlaywrightConverter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browser != nil {
		if err := c.browser.Close(); err != nil {
			return err
		}
		c.browser = nil
	}
	if c.pw != nil {
		if err := c.pw.Stop(); err != nil {
			return err
		}
		c.pw = nil
	}
	return nil
}
