package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	. "github.com/alexdcox/cardano-chain-go"
	"github.com/rs/zerolog"
)

type _config struct {
	Backend      string
	Network      string
	HostPort     string
	BlockfrostId string
	KoiosUrl     string
	OgmiosUrl    string
	SocketPath   string
	GenesisFile  string
	CliPath      string
	LogLevel     string
}

func (c *_config) Load() (err error) {
	flag.StringVar(&c.Backend, "backend", "blockfrost", "Chain data backend (blockfrost|koios|ogmios|cli)")
	flag.StringVar(&c.Network, "network", "mainnet", "Set network (mainnet|preprod|preview|guild|sancho)")
	flag.StringVar(&c.HostPort, "hostport", "localhost:3002", "Set host:port for the http listener")
	flag.StringVar(&c.BlockfrostId, "blockfrostid", "", "Blockfrost project id (or BLOCKFROST_PROJECT_ID)")
	flag.StringVar(&c.KoiosUrl, "koiosurl", "", "Koios base url override (or KOIOS_URL)")
	flag.StringVar(&c.OgmiosUrl, "ogmiosurl", "", "Ogmios websocket url (or OGMIOS_URL)")
	flag.StringVar(&c.SocketPath, "socketpath", "", "Path to the node socket (or CARDANO_NODE_SOCKET_PATH)")
	flag.StringVar(&c.GenesisFile, "genesisfile", "", "Path to the shelley genesis file (cli backend)")
	flag.StringVar(&c.CliPath, "clipath", "", "Path to the cardano-cli binary (or CARDANO_CLI_PATH)")
	flag.StringVar(&c.LogLevel, "loglevel", "", "Set the log level (trace|debug|info|warn|error|fatal)")
	flag.Parse()
	return
}

var log = Log()

var config *_config

func newContext() (cc ChainContext, err error) {
	network := Network(config.Network)

	switch config.Backend {
	case "blockfrost":
		return NewBlockfrostContext(&BlockfrostOptions{
			Network:   network,
			ProjectId: config.BlockfrostId,
		})
	case "koios":
		return NewKoiosContext(&KoiosOptions{
			Network: network,
			BaseUrl: config.KoiosUrl,
		})
	case "ogmios":
		return NewOgmiosContext(&OgmiosOptions{
			Network: network,
			Url:     config.OgmiosUrl,
		})
	case "cli":
		return NewCliNodeContext(&CliNodeOptions{
			Network:     network,
			BinaryPath:  config.CliPath,
			SocketPath:  config.SocketPath,
			GenesisFile: config.GenesisFile,
		})
	}

	log.Fatal().Msgf("invalid backend '%s'", config.Backend)
	return
}

func main() {
	config = &_config{}

	if err := config.Load(); err != nil {
		log.Fatal().Msgf("%+v", err)
	}

	if config.LogLevel != "" {
		logLevel, err := zerolog.ParseLevel(config.LogLevel)
		if err != nil {
			log.Fatal().Msgf("invalid log level '%s'", config.LogLevel)
		}
		zerolog.SetGlobalLevel(logLevel)
	}

	cc, err := newContext()
	if err != nil {
		log.Fatal().Msgf("%+v", err)
	}

	server := NewHttpServer(config, cc)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatal().Msgf("%+v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	if err := server.Stop(); err != nil {
		log.Error().Msgf("%+v", err)
	}
}
