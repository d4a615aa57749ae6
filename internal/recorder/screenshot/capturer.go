// File: internal/recorder/screenshot/capturer.go

// Package screenshot attaches best-effort visual captures to recorded
// actions. The primary path rasterizes through the browser backend; when
// that fails for any reason the geometric fallback produces a bounding-box
// descriptor instead. Neither path is allowed to abort action recording.
package screenshot

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webtrace-cli/api/schemas"
)

// Rasterizer is the backend capability needed for raster captures.
type Rasterizer interface {
	CaptureViewport(ctx context.Context) ([]byte, error)
	CaptureElement(ctx context.Context, xpath string) ([]byte, error)
}

// BoundsSource is the backend capability needed for the geometry fallback.
type BoundsSource interface {
	ElementBounds(ctx context.Context, xpath string) (schemas.Rect, error)
	ViewportBounds(ctx context.Context) (schemas.Rect, error)
}

// Capturer produces a screenshot descriptor for the viewport or a specific
// element.
type Capturer interface {
	Viewport(ctx context.Context) (*schemas.ScreenshotRef, error)
	Element(ctx context.Context, xpath string) (*schemas.ScreenshotRef, error)
}

// RasterCapturer captures PNG screenshots through the browser backend.
type RasterCapturer struct {
	backend Rasterizer
}

// NewRasterCapturer wraps a rasterizing backend.
func NewRasterCapturer(backend Rasterizer) *RasterCapturer {
	return &RasterCapturer{backend: backend}
}

func (c *RasterCapturer) Viewport(ctx context.Context) (ref *schemas.ScreenshotRef, err error) {
	defer recoverCapture(&err)
	data, err := c.backend.CaptureViewport(ctx)
	if err != nil {
		return nil, err
	}
	return rasterRef(data), nil
}

func (c *RasterCapturer) Element(ctx context.Context, xpath string) (ref *schemas.ScreenshotRef, err error) {
	defer recoverCapture(&err)
	data, err := c.backend.CaptureElement(ctx, xpath)
	if err != nil {
		return nil, err
	}
	return rasterRef(data), nil
}

// GeometryCapturer produces bounding-box descriptors when rasterization is
// unavailable.
type GeometryCapturer struct {
	backend BoundsSource
}

// NewGeometryCapturer wraps a bounds-reporting backend.
func NewGeometryCapturer(backend BoundsSource) *GeometryCapturer {
	return &GeometryCapturer{backend: backend}
}

func (c *GeometryCapturer) Viewport(ctx context.Context) (ref *schemas.ScreenshotRef, err error) {
	defer recoverCapture(&err)
	bounds, err := c.backend.ViewportBounds(ctx)
	if err != nil {
		return nil, err
	}
	return geometryRef(bounds), nil
}

func (c *GeometryCapturer) Element(ctx context.Context, xpath string) (ref *schemas.ScreenshotRef, err error) {
	defer recoverCapture(&err)
	bounds, err := c.backend.ElementBounds(ctx, xpath)
	if err != nil {
		return nil, err
	}
	return geometryRef(bounds), nil
}

// FallbackCapturer composes a primary capturer with a fallback for the same
// target. A primary failure is logged at debug level and absorbed.
type FallbackCapturer struct {
	primary  Capturer
	fallback Capturer
	logger   *zap.Logger
}

// NewFallbackCapturer composes primary and fallback.
func NewFallbackCapturer(primary, fallback Capturer, logger *zap.Logger) *FallbackCapturer {
	return &FallbackCapturer{primary: primary, fallback: fallback, logger: logger.Named("screenshot")}
}

func (c *FallbackCapturer) Viewport(ctx context.Context) (*schemas.ScreenshotRef, error) {
	if c.primary != nil {
		if ref, err := c.primary.Viewport(ctx); err == nil {
			return ref, nil
		} else {
			c.logger.Debug("Viewport raster capture failed, using geometry fallback.", zap.Error(err))
		}
	}
	return c.fallback.Viewport(ctx)
}

func (c *FallbackCapturer) Element(ctx context.Context, xpath string) (*schemas.ScreenshotRef, error) {
	if c.primary != nil {
		if ref, err := c.primary.Element(ctx, xpath); err == nil {
			return ref, nil
		} else {
			c.logger.Debug("Element raster capture failed, using geometry fallback.",
				zap.String("xpath", xpath), zap.Error(err))
		}
	}
	return c.fallback.Element(ctx, xpath)
}

func rasterRef(png []byte) *schemas.ScreenshotRef {
	return &schemas.ScreenshotRef{
		Kind:       schemas.ScreenshotRaster,
		Format:     "png",
		Data:       base64.StdEncoding.EncodeToString(png),
		CapturedAt: time.Now(),
	}
}

func geometryRef(bounds schemas.Rect) *schemas.ScreenshotRef {
	b := bounds
	return &schemas.ScreenshotRef{
		Kind:       schemas.ScreenshotGeometry,
		Bounds:     &b,
		CapturedAt: time.Now(),
	}
}

// recoverCapture converts a backend panic into a capture error so a
// misbehaving page can never take down the recording flow.
func recoverCapture(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("capture panicked: %v", r)
	}
}
