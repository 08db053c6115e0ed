// Command w5500demo brings up a W5500 network stack and runs a UDP
// echo service on it, either against real hardware through the Linux
// SPI and GPIO devices or against the built-in device simulation.
// Configuration defaults may be placed in a .env file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"periph.io/x/host/v3"

	"github.com/zynaptic/w5500go/hal/periphhal"
	"github.com/zynaptic/w5500go/hal/simhal"
	"github.com/zynaptic/w5500go/kernel"
	"github.com/zynaptic/w5500go/monitoring"
	"github.com/zynaptic/w5500go/trace"
	"github.com/zynaptic/w5500go/w5500"
)

const echoPort = 7

var opts struct {
	simulate     bool
	spiBus       string
	selectPin    string
	resetPin     string
	interruptPin string
	monitorPort  int
	traceDB      string
	maxSockets   int
	verbose      bool
}

var rootCmd = &cobra.Command{
	Use:   "w5500demo",
	Short: "Run a UDP echo service on a W5500 TCP/IP offload device.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDemo()
	},
}

func init() {
	// Flag defaults may come from the environment, optionally loaded
	// from a .env file in the working directory.
	_ = godotenv.Load()
	envOr := func(name, fallback string) string {
		if v := os.Getenv(name); v != "" {
			return v
		}
		return fallback
	}

	flags := rootCmd.Flags()
	flags.BoolVar(&opts.simulate, "sim", false,
		"run against the built-in device simulation")
	flags.StringVar(&opts.spiBus, "spi-bus",
		envOr("W5500_SPI_BUS", "SPI0.0"), "SPI port name")
	flags.StringVar(&opts.selectPin, "select-pin",
		envOr("W5500_SELECT_PIN", "GPIO8"), "chip select GPIO name")
	flags.StringVar(&opts.resetPin, "reset-pin",
		envOr("W5500_RESET_PIN", "GPIO24"), "reset GPIO name")
	flags.StringVar(&opts.interruptPin, "interrupt-pin",
		envOr("W5500_INT_PIN", "GPIO25"), "interrupt GPIO name")
	flags.IntVar(&opts.monitorPort, "monitor-port", 0,
		"monitoring server port, 0 for a random port")
	flags.StringVar(&opts.traceDB, "trace-db", "",
		"record bus transactions to the named SQLite database")
	flags.IntVar(&opts.maxSockets, "max-sockets", 4,
		"number of hardware sockets to configure")
	flags.BoolVar(&opts.verbose, "verbose", false,
		"enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runDemo() error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Sugar()

	cfg := w5500.Config{
		MACAddr:    [6]byte{0x02, 0x00, 0x00, 0x55, 0x00, 0x01},
		MaxSockets: opts.maxSockets,
		Log:        log,
	}

	var model *simhal.Model
	if opts.simulate {
		model = simhal.NewModel()
		cfg.Bus = model
		cfg.Device = model
		cfg.ResetPin = model.ResetPin()
		cfg.InterruptPin = model.InterruptPin()
	} else {
		if _, err := host.Init(); err != nil {
			return fmt.Errorf("initialising periph host: %w", err)
		}
		hw, err := periphhal.Open(periphhal.Config{
			SPIBus:       opts.spiBus,
			SelectPin:    opts.selectPin,
			ResetPin:     opts.resetPin,
			InterruptPin: opts.interruptPin,
		})
		if err != nil {
			return err
		}
		defer hw.Close()
		cfg.Bus = hw.Bus()
		cfg.Device = hw.Device()
		cfg.ResetPin = hw.ResetPin()
		cfg.InterruptPin = hw.InterruptPin()
	}

	if opts.traceDB != "" {
		recorder, err := trace.New(opts.traceDB)
		if err != nil {
			return err
		}
		defer recorder.Close()
		cfg.Trace = recorder
	}

	engine := kernel.NewEngine(log)
	driver, err := w5500.New(engine, cfg)
	if err != nil {
		return err
	}

	monitor := monitoring.NewMonitor().WithPortNumber(opts.monitorPort)
	monitor.RegisterDriver(driver)
	if err := monitor.StartServer(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	driver.Start()
	go runEchoService(engine, driver, log)

	if model != nil {
		go exerciseSimulation(model, log)
	}
	return engine.Run(ctx)
}

func newLogger() (*zap.Logger, error) {
	if opts.verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// runEchoService waits for the device bring-up to complete, opens a
// UDP socket on the echo port and reflects every received datagram
// back to its sender.
func runEchoService(
	engine *kernel.Engine, driver *w5500.Driver, log *zap.SugaredLogger) {
	for !driver.PhyLinkUp() {
		time.Sleep(100 * time.Millisecond)
	}

	var sock *w5500.Socket
	echoTask := engine.NewTask("udp-echo", func() kernel.Status {
		for {
			buffer, addr, port, status := sock.ReceiveFrom()
			if status != w5500.StatusSuccess {
				return kernel.Suspend()
			}
			log.Infof("echoing %d bytes to %d.%d.%d.%d:%d",
				buffer.Len(), addr[0], addr[1], addr[2], addr[3], port)
			if sock.SendTo(buffer, addr, port) != w5500.StatusSuccess {
				log.Warnf("echo transmit failed, datagram dropped")
			}
		}
	})

	sock = driver.OpenUDP(echoPort, echoTask, func(event w5500.Notification) {
		log.Infof("echo socket event: %s", event)
	})
	if sock == nil {
		log.Errorf("no free socket for the echo service")
		return
	}
	echoTask.Start()
}

// exerciseSimulation feeds a datagram through the simulated device so
// the echo path is visible without hardware.
func exerciseSimulation(model *simhal.Model, log *zap.SugaredLogger) {
	time.Sleep(2 * time.Second)
	socketID := opts.maxSockets - 1
	model.InjectUDPDatagram(
		socketID, [4]byte{192, 168, 1, 99}, 4096, []byte("hello, world"))

	time.Sleep(time.Second)
	for i, frame := range model.SentFrames(socketID) {
		log.Infof("simulated device sent frame %d: %q", i, frame)
	}
}
