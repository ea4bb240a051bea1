package main

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	. "github.com/alexdcox/cardano-chain-go"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/pkg/errors"
)

func NewHttpServer(config *_config, cc ChainContext) (server *HttpServer) {
	server = &HttpServer{
		config: config,
		cc:     cc,
	}
	return
}

type HttpServer struct {
	app    *fiber.App
	config *_config
	cc     ChainContext
}

func (s *HttpServer) Start() (err error) {
	s.app = fiber.New(fiber.Config{
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		IdleTimeout:           120 * time.Second,
		DisableStartupMessage: true,
	})
	s.app.Use(recover.New())
	s.app.Use(func(c *fiber.Ctx) error {
		rsp := c.Next()
		log.Info().Msgf("http response: [%d] %s - %s %s", c.Response().StatusCode(), c.IP(), c.Method(), c.Path())
		return rsp
	})

	s.app.Get("/utxo/:address", s.getUtxos)
	s.app.Get("/stake/:address", s.getStakeAddressInfo)
	s.app.Get("/protocol-parameters", s.getProtocolParameters)
	s.app.Get("/genesis", s.getGenesisParameters)
	s.app.Get("/tip", s.getTip)
	s.app.Post("/tx/submit", s.postSubmit)
	s.app.Post("/tx/evaluate", s.postEvaluate)

	log.Info().Msgf("chainrpc listening on %s, backend %s", s.config.HostPort, s.config.Backend)

	return errors.WithStack(s.app.Listen(s.config.HostPort))
}

func (s *HttpServer) Stop() (err error) {
	return s.app.Shutdown()
}

func (s *HttpServer) errorResponse(c *fiber.Ctx, err error) error {
	return c.Status(http.StatusInternalServerError).JSON(map[string]any{"error": fmt.Sprintf("%+v", err)})
}

func (s *HttpServer) getUtxos(c *fiber.Ctx) error {
	utxos, err := s.cc.Utxos(c.Context(), c.Params("address"))
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(utxos)
}

func (s *HttpServer) getStakeAddressInfo(c *fiber.Ctx) error {
	infos, err := s.cc.StakeAddressInfo(c.Context(), c.Params("address"))
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(infos)
}

func (s *HttpServer) getProtocolParameters(c *fiber.Ctx) error {
	params, err := s.cc.ProtocolParameters(c.Context())
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(params)
}

func (s *HttpServer) getGenesisParameters(c *fiber.Ctx) error {
	genesis, err := s.cc.GenesisParameters(c.Context())
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(genesis)
}

func (s *HttpServer) getTip(c *fiber.Ctx) error {
	epoch, err := s.cc.Epoch(c.Context())
	if err != nil {
		return s.errorResponse(c, err)
	}
	slot, err := s.cc.LastBlockSlot(c.Context())
	if err != nil {
		return s.errorResponse(c, err)
	}
	era, err := s.cc.Era(c.Context())
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(map[string]any{
		"epoch": epoch,
		"slot":  slot,
		"era":   era,
	})
}

type submitIn struct {
	Tx string `json:"tx"`
}

func (s *HttpServer) postSubmit(c *fiber.Ctx) error {
	var in submitIn
	if err := c.BodyParser(&in); err != nil {
		return c.SendStatus(http.StatusBadRequest)
	}

	id, err := SubmitTx(c.Context(), s.cc, in.Tx)
	if err != nil {
		return s.errorResponse(c, err)
	}

	return c.JSON(map[string]any{"txId": id})
}

func (s *HttpServer) postEvaluate(c *fiber.Ctx) error {
	var in submitIn
	if err := c.BodyParser(&in); err != nil {
		return c.SendStatus(http.StatusBadRequest)
	}

	raw, err := hex.DecodeString(in.Tx)
	if err != nil {
		return c.SendStatus(http.StatusBadRequest)
	}

	units, err := s.cc.EvaluateTxCBOR(c.Context(), raw)
	if err != nil {
		return s.errorResponse(c, err)
	}

	return c.JSON(units)
}
