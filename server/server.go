// Package server exposes a loaded Predictor over HTTP.
//
//	GET  /health          status and the run id being served
//	POST /api/v1/predict  {"features": {"GridStatus": "Available", ...}}
package server

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/clinix/sourceorder/dataset"
	"github.com/clinix/sourceorder/pipeline"
	"github.com/clinix/sourceorder/pkg/errors"
	"github.com/clinix/sourceorder/pkg/log"
)

const shutdownTimeout = 5 * time.Second

// PredictRequest is the body of POST /api/v1/predict. Feature values may be
// JSON strings or numbers.
type PredictRequest struct {
	Features map[string]any `json:"features"`
}

// PredictResponse is returned on success.
type PredictResponse struct {
	RunID string `json:"run_id"`
	pipeline.Prediction
}

// Handler holds the shared read-only predictor.
type Handler struct {
	predictor *pipeline.Predictor
	logger    log.Logger
}

// New builds the fiber app serving p.
func New(p *pipeline.Predictor, logger log.Logger) *fiber.App {
	if logger == nil {
		logger = log.GetLoggerWithName("server")
	}
	h := &Handler{predictor: p, logger: logger}

	app := fiber.New(fiber.Config{
		AppName:               "sourceorder",
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		DisableStartupMessage: true,
		ErrorHandler:          h.errorHandler,
	})
	app.Use(recover.New())
	app.Use(h.accessLog)

	app.Get("/health", h.HealthCheck)
	api := app.Group("/api/v1")
	api.Post("/predict", h.Predict)
	return app
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, app *fiber.App, addr string) error {
	errCh := make(chan error, 1)
	go func() { errCh <- app.Listen(addr) }()

	select {
	case err := <-errCh:
		return errors.Wrapf(err, "server: listen %s", addr)
	case <-ctx.Done():
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			return errors.Wrap(err, "server: shutdown")
		}
		return nil
	}
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"service": "sourceorder",
		"run_id":  h.predictor.RunID(),
		"classes": h.predictor.Classes(),
	})
}

// Predict classifies one record.
func (h *Handler) Predict(c *fiber.Ctx) error {
	var req PredictRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if len(req.Features) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "features must not be empty")
	}

	rec := make(dataset.Record, len(req.Features))
	for k, v := range req.Features {
		switch val := v.(type) {
		case string:
			rec[k] = val
		case float64:
			rec[k] = strconv.FormatFloat(val, 'f', -1, 64)
		default:
			return fiber.NewError(fiber.StatusBadRequest, "feature "+k+" must be a string or a number")
		}
	}

	pred, err := h.predictor.Predict(rec)
	if err != nil {
		return err
	}
	return c.JSON(PredictResponse{RunID: h.predictor.RunID(), Prediction: pred})
}

func (h *Handler) errorHandler(c *fiber.Ctx, err error) error {
	var (
		uce *errors.UnknownCategoryError
		se  *errors.SchemaError
		fe  *fiber.Error
	)
	switch {
	case errors.As(err, &uce):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":   true,
			"message": err.Error(),
			"column":  uce.Column,
			"value":   uce.Value,
		})
	case errors.As(err, &se):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": err.Error(),
			"column":  se.Column,
		})
	case errors.As(err, &fe):
		return c.Status(fe.Code).JSON(fiber.Map{
			"error":   true,
			"message": fe.Message,
		})
	}

	h.logger.Error("Request failed", log.ErrAttrKey, err, "path", c.Path())
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error":   true,
		"message": "Internal Server Error",
	})
}

func (h *Handler) accessLog(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	if err != nil {
		// ステータスを確定させる
		if herr := c.App().Config().ErrorHandler(c, err); herr != nil {
			return herr
		}
	}
	h.logger.Info("Request",
		"method", c.Method(),
		"path", c.Path(),
		"status", c.Response().StatusCode(),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}
