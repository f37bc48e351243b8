package handlers

import (
	"context"
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/example/cakeshop/internal/services"
)

// PaymeHandler answers the Payme merchant API.
type PaymeHandler struct {
	methods map[string]paymeMethod
	log     *logrus.Entry
}

type paymeMethod func(ctx context.Context, params json.RawMessage, id any) (any, error)

// rpc adapts a typed service call to a paymeMethod.
func rpc[P, R any](call func(context.Context, P, any) (R, error)) paymeMethod {
	return func(ctx context.Context, raw json.RawMessage, id any) (any, error) {
		var params P
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, &services.TransactionError{Info: services.PaymeErrorInvalidRequest, ID: id}
		}
		return call(ctx, params, id)
	}
}

func NewPaymeHandler(payme *services.PaymeService) *PaymeHandler {
	return &PaymeHandler{
		log: logrus.WithField("component", "payme"),
		methods: map[string]paymeMethod{
			"CheckPerformTransaction": rpc(func(ctx context.Context, p services.CheckPerformParams, id any) (any, error) {
				if err := payme.CheckPerformTransaction(ctx, p, id); err != nil {
					return nil, err
				}
				return fiber.Map{"allow": true}, nil
			}),
			"CheckTransaction":   rpc(payme.CheckTransaction),
			"CreateTransaction":  rpc(payme.CreateTransaction),
			"PerformTransaction": rpc(payme.PerformTransaction),
			"CancelTransaction":  rpc(payme.CancelTransaction),
			"GetStatement": rpc(func(ctx context.Context, p services.StatementParams, _ any) (any, error) {
				txns, err := payme.GetStatement(ctx, p)
				if err != nil {
					return nil, err
				}
				return fiber.Map{"transactions": txns}, nil
			}),
		},
	}
}

type paymeRPCRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	ID     any             `json:"id"`
}

// Pay handles Payme JSON-RPC calls. Protocol errors are returned with HTTP
// 200 in the JSON-RPC error envelope.
func (h *PaymeHandler) Pay(c *fiber.Ctx) error {
	var req paymeRPCRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		h.log.WithError(err).Warn("unparseable rpc body")
		return writePaymeError(c, &services.TransactionError{Info: services.PaymeErrorInvalidRequest})
	}

	method, ok := h.methods[req.Method]
	if !ok {
		return writePaymeError(c, &services.TransactionError{Info: services.PaymeErrorMethodNotFound, ID: req.ID, Data: req.Method})
	}

	h.log.WithFields(logrus.Fields{"method": req.Method, "params": string(req.Params)}).Debug("rpc call")
	result, err := method(c.UserContext(), req.Params, req.ID)
	if err != nil {
		return writePaymeError(c, err)
	}
	return c.JSON(fiber.Map{"result": result, "id": req.ID})
}

func writePaymeError(c *fiber.Ctx, err error) error {
	var txErr *services.TransactionError
	if !errors.As(err, &txErr) {
		return err
	}
	return c.JSON(fiber.Map{
		"error": fiber.Map{
			"code":    txErr.Info.Code,
			"message": txErr.Info.Message,
			"data":    txErr.Data,
		},
		"id": txErr.ID,
	})
}
