// Grounded on thiagojdb-adoctl's cmd/root.go (cobra root command,
// PersistentPreRunE wiring logger.SetLevel) and on the teacher's
// cmd/inventoryd/main.go flag set (-c/--config, --endpoint), adapted from
// a single flag.Parse call to a cobra.Command tree.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"lwm2mclient/pkg/clierr"
	"lwm2mclient/pkg/config"
	"lwm2mclient/pkg/dispatch"
	"lwm2mclient/pkg/handlers"
	"lwm2mclient/pkg/logger"
	"lwm2mclient/pkg/model"
	"lwm2mclient/pkg/observe"
	"lwm2mclient/pkg/register"
	"lwm2mclient/pkg/transport"
)

const version = "0.1.0"

var (
	addressFlag    string
	serverHostFlag string
	portFlag       int
	rootPath       string
	settingsPath   string
	endpointFlag   string
	logLevelFlag   string
)

// deviceResourceCurrentTime is the Device object's CurrentTime resource
// (/3/0/13), the only resource this client drives with a live producer
// rather than a stored value.
var deviceResourceCurrentTime = []uint16{3, 0, 13}

// Object and executable-resource IDs the handler registry is keyed by.
// pkg/handlers does not define these; they are only needed for wiring.
const (
	deviceResReboot         uint16 = 4
	deviceResFactoryReset   uint16 = 5
	deviceResErrorCodeReset uint16 = 12
	deviceObjectID          uint16 = 3

	firmwareObjectID       uint16 = 5
	firmwareResUpdate      uint16 = 2
	serverObjectID         uint16 = 1
	serverResDisable       uint16 = 4
	serverResUpdateTrigger uint16 = 8
)

var rootCmd = &cobra.Command{
	Use:     "lwm2mclient",
	Short:   "LWM2M device-management client",
	Long:    `A Lightweight M2M (OMA LWM2M) client core: registers with a server, answers Read/Write/Execute/Observe requests against an in-memory object model, and keeps its registration alive.`,
	Version: version,
	RunE:    runClient,
}

func init() {
	rootCmd.Flags().StringVar(&addressFlag, "address", "::", "Client bind address")
	rootCmd.Flags().StringVar(&serverHostFlag, "server", "", "LWM2M server host (overrides the settings file)")
	rootCmd.Flags().IntVar(&portFlag, "port", 5683, "LWM2M server port")
	rootCmd.Flags().StringVarP(&settingsPath, "config", "c", "", "Path to the client settings YAML file (endpoint/server/log-level defaults otherwise)")
	rootCmd.Flags().StringVar(&rootPath, "root", ".", "Directory holding the object-definitions and data YAML files (objects.yaml, resources.yaml)")
	rootCmd.Flags().StringVar(&endpointFlag, "endpoint", "", "Endpoint client name (overrides the settings file)")
	rootCmd.Flags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error, fatal, panic (overrides the settings file)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		clierr.Handle(err)
	}
}

func runClient(cmd *cobra.Command, args []string) error {
	settings := config.DefaultSettings()
	if settingsPath != "" {
		loaded, err := config.LoadSettings(settingsPath)
		if err != nil {
			return err
		}
		settings = loaded
	}
	if endpointFlag != "" {
		settings.Endpoint = endpointFlag
	}
	if cmd.Flags().Changed("server") || cmd.Flags().Changed("port") {
		host := serverHostFlag
		if host == "" {
			host, _, _ = net.SplitHostPort(settings.ServerAddr)
		}
		settings.ServerAddr = fmt.Sprintf("%s:%d", host, portFlag)
	}
	if logLevelFlag != "" {
		settings.LogLevel = logLevelFlag
	}
	logger.SetLevel(settings.LogLevel)

	defs, err := config.LoadDefinitions(filepath.Join(rootPath, "objects.yaml"))
	if err != nil {
		return err
	}
	data, err := config.LoadData(filepath.Join(rootPath, "resources.yaml"), defs)
	if err != nil {
		return err
	}
	m, err := model.New(defs, data)
	if err != nil {
		return clierr.ConfigError(fmt.Sprintf("building model: %v", err))
	}

	var conn *transport.UDP
	if cmd.Flags().Changed("address") {
		conn, err = transport.DialFrom(net.JoinHostPort(addressFlag, "0"), settings.ServerAddr)
	} else {
		conn, err = transport.Dial(settings.ServerAddr)
	}
	if err != nil {
		return clierr.NewWithError(clierr.ExitCodeTransport, "dialing LWM2M server", err)
	}
	defer conn.Close()

	controller := handlers.NewController()
	obsMgr := observe.New(m)
	obsMgr.RegisterProducer(deviceResourceCurrentTime, handlers.CurrentTimeProducer)

	disp := dispatch.New(m, obsMgr)
	disp.RegisterHandler(deviceObjectID, deviceResReboot, handlers.Reboot())
	disp.RegisterHandler(deviceObjectID, deviceResFactoryReset, handlers.FactoryReset())
	disp.RegisterHandler(deviceObjectID, deviceResErrorCodeReset, handlers.ResetErrorCode())
	disp.RegisterHandler(firmwareObjectID, firmwareResUpdate, handlers.FirmwareUpdate())
	disp.RegisterHandler(serverObjectID, serverResDisable, handlers.Disable())
	disp.RegisterHandler(serverObjectID, serverResUpdateTrigger, handlers.UpdateTrigger(controller))

	regMgr := register.New(conn, m, settings.Endpoint)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := regMgr.Register(ctx); err != nil {
		return clierr.RegistrationError("initial registration failed", err)
	}

	return runLoop(ctx, conn, disp, obsMgr, regMgr, controller)
}

// runLoop is the single goroutine that owns the Model: it alone calls
// Dispatch/Poll/Update, reading inbound requests from conn.Incoming and
// ticking the registration-update and observe-poll timers.
func runLoop(ctx context.Context, conn *transport.UDP, disp *dispatch.Dispatcher, obsMgr *observe.Manager, regMgr *register.Manager, controller *handlers.Controller) error {
	pollTicker := time.NewTicker(2 * time.Second)
	defer pollTicker.Stop()

	updateTimer := time.NewTimer(regMgr.UpdateInterval())
	defer updateTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down")
			return nil

		case req, ok := <-conn.Incoming:
			if !ok {
				return clierr.NewWithError(clierr.ExitCodeTransport, "connection closed", nil)
			}
			disp.Dispatch(req, conn)

		case <-pollTicker.C:
			obsMgr.Poll(conn)

		case <-updateTimer.C:
			if err := regMgr.Update(ctx); err != nil {
				logger.Warn().Err(err).Msg("registration update failed")
			}
			updateTimer.Reset(regMgr.UpdateInterval())

		case <-controller.RequestUpdate:
			if err := regMgr.Update(ctx); err != nil {
				logger.Warn().Err(err).Msg("triggered registration update failed")
			}
			if !updateTimer.Stop() {
				<-updateTimer.C
			}
			updateTimer.Reset(regMgr.UpdateInterval())
		}
	}
}
