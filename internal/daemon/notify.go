package daemon

import (
	sd "github.com/coreos/go-systemd/v22/daemon"
)

const (
	stateReady    = sd.SdNotifyReady
	stateStopping = sd.SdNotifyStopping
)

// sdNotify forwards state to systemd. It is a no-op outside a
// Type=notify unit.
func sdNotify(state string) error {
	_, err := sd.SdNotify(false, state)
	return err
}
