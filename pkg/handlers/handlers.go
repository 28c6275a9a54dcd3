// Package handlers holds the default executable-resource actions and the
// built-in CurrentTime observer, supplementing the distilled spec with the
// behaviors the Python reference ships in handlers.py: handle_reboot,
// handle_factory_reset, handle_firmware_update, handle_disable,
// handle_update_trigger, handle_reset_error_code, and observe_3_0_13.
//
// The original resolves these by name through eval() (handlers.py); this
// client instead exposes them as ordinary dispatch.Handler values, bound
// into the dispatcher's registry by the CLI entrypoint (no string lookup
// anywhere in this package).
package handlers

import (
	"time"

	"lwm2mclient/pkg/dispatch"
	"lwm2mclient/pkg/logger"
	"lwm2mclient/pkg/model"
	"lwm2mclient/pkg/payload"
)

// Device Object (/3) resource IDs this package acts on.
const (
	resErrorCode uint16 = 11
)

// Controller is the side channel executable handlers use to affect
// behavior outside the Model itself: requesting an out-of-cycle
// registration Update is the only such effect this client implements.
type Controller struct {
	RequestUpdate chan struct{}
}

// NewController creates a Controller with its update-request channel ready
// to receive a single pending request.
func NewController() *Controller {
	return &Controller{RequestUpdate: make(chan struct{}, 1)}
}

func (c *Controller) requestUpdate() {
	select {
	case c.RequestUpdate <- struct{}{}:
	default:
	}
}

// Reboot logs the request. A real device would restart here; this client
// has no process to restart, so it only reports the action.
func Reboot() dispatch.Handler {
	return func(m *model.Model, obj, inst, res uint16, arg []byte) ([]byte, error) {
		logger.Info().Msg("reboot requested")
		return nil, nil
	}
}

// FactoryReset logs the request.
func FactoryReset() dispatch.Handler {
	return func(m *model.Model, obj, inst, res uint16, arg []byte) ([]byte, error) {
		logger.Info().Msg("factory reset requested")
		return nil, nil
	}
}

// FirmwareUpdate logs the request.
func FirmwareUpdate() dispatch.Handler {
	return func(m *model.Model, obj, inst, res uint16, arg []byte) ([]byte, error) {
		logger.Info().Msg("firmware update requested")
		return nil, nil
	}
}

// Disable logs the request.
func Disable() dispatch.Handler {
	return func(m *model.Model, obj, inst, res uint16, arg []byte) ([]byte, error) {
		logger.Info().Msg("disable requested")
		return nil, nil
	}
}

// UpdateTrigger asks the registration loop to send an Update immediately
// rather than waiting for its next scheduled tick.
func UpdateTrigger(c *Controller) dispatch.Handler {
	return func(m *model.Model, obj, inst, res uint16, arg []byte) ([]byte, error) {
		logger.Info().Msg("update trigger requested")
		c.requestUpdate()
		return nil, nil
	}
}

// ResetErrorCode clears the Device object's Error Code resource back to
// its single no-error entry, mirroring handle_reset_error_code's
// model.set_resource('3', '0', '11', {'0': 0}).
func ResetErrorCode() dispatch.Handler {
	return func(m *model.Model, obj, inst, res uint16, arg []byte) ([]byte, error) {
		m.SetResource(obj, inst, resErrorCode, model.ResourceValue{Multi: map[uint16]model.Value{0: {Int: 0}}})
		return nil, nil
	}
}

// CurrentTimeProducer is the observe.Producer for /3/0/13 (CurrentTime):
// every poll it stamps the resource with the current time before encoding
// it, so an observer of that path sees a live clock rather than a value
// frozen at startup — the Go-native equivalent of observe_3_0_13's
// periodic model.set_resource('3', '0', '13', int(time.time())).
func CurrentTimeProducer(m *model.Model, path []uint16) ([]byte, uint32, error) {
	obj, inst, res := path[0], path[1], path[2]
	m.SetResource(obj, inst, res, model.ResourceValue{Single: &model.Value{Int: time.Now().Unix()}})
	return payload.Encode(m, path)
}
